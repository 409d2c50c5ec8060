package jobs

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/dshills/tracewire/internal/protocol"
	"github.com/dshills/tracewire/internal/wire"
)

// jobClient is the IDE end of a job connection.
type jobClient struct {
	conn   net.Conn
	reader *bufio.Reader
	fr     *wire.FrameReader
	fw     *wire.FrameWriter
}

func startServer(t *testing.T, cfg Config) (*jobClient, chan error) {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	t.Cleanup(func() {
		clientEnd.Close()
		serverEnd.Close()
	})

	srv := NewServer(cfg)
	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(serverEnd)
	}()

	reader := bufio.NewReader(clientEnd)
	banner, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read banner: %v", err)
	}
	if banner != Banner {
		t.Fatalf("banner = %q, want %q", banner, Banner)
	}

	return &jobClient{
		conn:   clientEnd,
		reader: reader,
		fr:     wire.NewFrameReader(reader),
		fw:     wire.NewFrameWriter(clientEnd),
	}, errc
}

func (c *jobClient) submit(t *testing.T, msg protocol.JobMessage) {
	t.Helper()
	payload, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode job: %v", err)
	}
	if err := c.fw.WriteFrame(wire.FrameTypeJob, payload); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func (c *jobClient) read(t *testing.T) protocol.JobMessage {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := c.fr.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	msg, err := protocol.DecodeJob(payload)
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return msg
}

func serveError(t *testing.T, errc chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit")
		return nil
	}
}

func TestServeCleanClose(t *testing.T) {
	client, errc := startServer(t, Config{})
	client.conn.Close()

	if err := serveError(t, errc); err != nil {
		t.Errorf("clean close returned %v", err)
	}
}

func TestServeInitWithoutLoader(t *testing.T) {
	client, errc := startServer(t, Config{})

	data, err := protocol.InitArgs{SearchPath: "/checkers", ModuleName: "pep8"}.Encode()
	if err != nil {
		t.Fatalf("encode init args: %v", err)
	}
	client.submit(t, protocol.JobMessage{Fn: protocol.FnInit, Key: "init-1", Data: data})

	res := client.read(t)
	if res.Fn != protocol.FnInit {
		t.Errorf("result fn = %q", res.Fn)
	}
	if !strings.Contains(string(res.Data), "no module loader") {
		t.Errorf("expected loader error, got %q", res.Data)
	}

	client.conn.Close()
	serveError(t, errc)
}

// fakeLoader registers a canned echo service for any module name.
type fakeLoader struct {
	fail bool
}

func (l *fakeLoader) Load(searchPath, moduleName string, reg *Registry) error {
	if l.fail {
		return errors.New("module not found: " + moduleName)
	}
	reg.RegisterSingle(moduleName, func(job Job) (json.RawMessage, error) {
		return json.Marshal(map[string]string{"echo": string(job.Args)})
	})
	reg.RegisterBatch(protocol.BatchPrefix+moduleName, PooledBatch(func(job Job) (json.RawMessage, error) {
		return json.Marshal([]any{job.Key, "clean"})
	}, 2))
	return nil
}

func TestServeInitSuccessAndService(t *testing.T) {
	client, errc := startServer(t, Config{Loader: &fakeLoader{}})

	data, _ := protocol.InitArgs{SearchPath: "/checkers", ModuleName: "pep8"}.Encode()
	client.submit(t, protocol.JobMessage{Fn: protocol.FnInit, Key: "init-1", Data: data})

	res := client.read(t)
	if res.Key != "pep8" || string(res.Data) != `"ok"` {
		t.Fatalf("init result = %q %q", res.Key, res.Data)
	}

	client.submit(t, protocol.JobMessage{Fn: "pep8", Key: "a.py", Data: json.RawMessage(`"src"`)})
	res = client.read(t)
	if res.Fn != "pep8" || res.Key != "a.py" {
		t.Errorf("service result = %+v", res)
	}
	if !strings.Contains(string(res.Data), "echo") {
		t.Errorf("service payload = %q", res.Data)
	}

	client.conn.Close()
	serveError(t, errc)
}

func TestServeInitFailureKeepsConnection(t *testing.T) {
	client, errc := startServer(t, Config{Loader: &fakeLoader{fail: true}})

	data, _ := protocol.InitArgs{SearchPath: "/x", ModuleName: "missing"}.Encode()
	client.submit(t, protocol.JobMessage{Fn: protocol.FnInit, Key: "init-1", Data: data})

	res := client.read(t)
	if !strings.Contains(string(res.Data), "module not found") {
		t.Errorf("expected load error, got %q", res.Data)
	}

	// The connection survives; further messages still work.
	client.submit(t, protocol.JobMessage{Fn: "nope", Key: "k"})
	res = client.read(t)
	if !strings.Contains(string(res.Data), "unknown service") {
		t.Errorf("expected unknown service error, got %q", res.Data)
	}

	client.conn.Close()
	serveError(t, errc)
}

func TestServeBatch(t *testing.T) {
	client, errc := startServer(t, Config{Loader: &fakeLoader{}})

	data, _ := protocol.InitArgs{SearchPath: "/checkers", ModuleName: "style"}.Encode()
	client.submit(t, protocol.JobMessage{Fn: protocol.FnInit, Key: "init-1", Data: data})
	client.read(t)

	items, _ := json.Marshal([]batchItem{
		{Key: "a.py", Args: json.RawMessage(`{"source":"x=1"}`)},
		{Key: "b.py", Args: json.RawMessage(`{"source":"y=2"}`)},
		{Key: "c.py", Args: json.RawMessage(`{"source":"z=3"}`)},
	})
	client.submit(t, protocol.JobMessage{Fn: "batch_style", Key: "batch-1", Data: items})

	want := map[string]bool{"a.py": true, "b.py": true, "c.py": true}
	for i := 0; i < 3; i++ {
		res := client.read(t)
		if res.Fn != "batch_style" {
			t.Errorf("result fn = %q", res.Fn)
		}
		if !want[res.Key] {
			t.Errorf("unexpected or duplicate result key %q", res.Key)
		}
		delete(want, res.Key)
	}
	if len(want) != 0 {
		t.Errorf("missing results for %v", want)
	}

	client.conn.Close()
	serveError(t, errc)
}

func TestServeBatchCancellation(t *testing.T) {
	reg := NewRegistry()
	step := make(chan struct{})
	reg.RegisterBatch("batch_slow", func(jobs []Job, send func(Result), fn string, cancelled func() bool) {
		for _, job := range jobs {
			<-step
			if cancelled() {
				return
			}
			send(Result{Fn: fn, Key: job.Key, Value: json.RawMessage(`"done"`)})
		}
	})

	client, errc := startServer(t, Config{Registry: reg})

	items, _ := json.Marshal([]batchItem{
		{Key: "a.py"}, {Key: "b.py"}, {Key: "c.py"}, {Key: "d.py"},
	})
	client.submit(t, protocol.JobMessage{Fn: "batch_slow", Key: "batch-1", Data: items})

	step <- struct{}{}
	first := client.read(t)
	if first.Key != "a.py" {
		t.Errorf("first result = %q", first.Key)
	}

	client.submit(t, protocol.JobMessage{Fn: protocol.FnCancel, Key: ""})

	// An unknown service call after CANCEL: its error result proves the
	// read loop has processed the cancellation.
	client.submit(t, protocol.JobMessage{Fn: "sync", Key: "s"})
	res := client.read(t)
	if !strings.Contains(string(res.Data), "unknown service") {
		t.Fatalf("sync result = %q", res.Data)
	}

	// Let the handler observe cancellation and stop.
	step <- struct{}{}

	client.conn.Close()
	if err := serveError(t, errc); err != nil {
		t.Errorf("serve returned %v", err)
	}
}

func TestBatchCancelBeforeHandlerStarts(t *testing.T) {
	reg := NewRegistry()
	gate := make(chan struct{})
	reg.RegisterBatch("batch_slow", func(jobs []Job, send func(Result), fn string, cancelled func() bool) {
		<-gate
		for _, job := range jobs {
			if cancelled() {
				return
			}
			send(Result{Fn: fn, Key: job.Key, Value: json.RawMessage(`"done"`)})
		}
	})

	srv := NewServer(Config{Registry: reg})
	var out bytes.Buffer
	fw := wire.NewFrameWriter(&out)

	items, _ := json.Marshal([]batchItem{{Key: "a.py"}, {Key: "b.py"}})
	if err := srv.dispatch(fw, protocol.JobMessage{Fn: "batch_slow", Key: "batch-1", Data: items}); err != nil {
		t.Fatalf("dispatch batch: %v", err)
	}

	// The cancel frame lands before the batch goroutine has run at all;
	// its token was installed at dispatch time, so it sticks.
	if err := srv.dispatch(fw, protocol.JobMessage{Fn: protocol.FnCancel}); err != nil {
		t.Fatalf("dispatch cancel: %v", err)
	}

	close(gate)
	srv.batchWG.Wait()

	if out.Len() != 0 {
		t.Errorf("cancelled batch still delivered results: %d bytes", out.Len())
	}
}

func TestServeSecondBatchRejectedWhileRunning(t *testing.T) {
	reg := NewRegistry()
	step := make(chan struct{})
	reg.RegisterBatch("batch_slow", func(jobs []Job, send func(Result), fn string, cancelled func() bool) {
		for _, job := range jobs {
			<-step
			if cancelled() {
				return
			}
			send(Result{Fn: fn, Key: job.Key, Value: json.RawMessage(`"done"`)})
		}
	})

	client, errc := startServer(t, Config{Registry: reg})

	items, _ := json.Marshal([]batchItem{{Key: "a.py"}})
	client.submit(t, protocol.JobMessage{Fn: "batch_slow", Key: "batch-1", Data: items})
	client.submit(t, protocol.JobMessage{Fn: "batch_slow", Key: "batch-2", Data: items})

	// The second submission is refused while the first is in flight.
	res := client.read(t)
	if res.Key != "batch-2" || !strings.Contains(string(res.Data), "batch already running") {
		t.Fatalf("second batch result = %+v", res)
	}

	// The first batch is unaffected by the rejection.
	step <- struct{}{}
	res = client.read(t)
	if res.Key != "a.py" {
		t.Errorf("first batch result = %q", res.Key)
	}

	client.conn.Close()
	serveError(t, errc)
}

func TestServeMalformedPayloadFatal(t *testing.T) {
	client, errc := startServer(t, Config{})

	if err := client.fw.WriteFrame(wire.FrameTypeJob, []byte("not json at all")); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	// The server reports a synthetic EXCEPTION message, then closes.
	res := client.read(t)
	if res.Fn != protocol.FnException {
		t.Fatalf("expected EXCEPTION message, got fn %q", res.Fn)
	}
	exc, err := protocol.DecodeExceptionData(res.Data)
	if err != nil {
		t.Fatalf("decode exception: %v", err)
	}
	if exc.Type != "ProtocolError" {
		t.Errorf("exception type = %q", exc.Type)
	}

	if err := serveError(t, errc); err == nil {
		t.Error("serve returned nil after protocol error")
	}
}

func TestServeChecksumMismatchFatal(t *testing.T) {
	client, errc := startServer(t, Config{})

	// Craft a frame with a deliberately wrong checksum.
	payload := []byte(`["fn","key",null]`)
	header := make([]byte, 14)
	header[3] = byte(len(payload))
	header[7] = 0xFF // wrong checksum
	copy(header[8:], "JOB   ")
	if _, err := client.conn.Write(append(header, payload...)); err != nil {
		t.Fatalf("write raw frame: %v", err)
	}

	if err := serveError(t, errc); !errors.Is(err, wire.ErrChecksumMismatch) {
		t.Errorf("serve returned %v, want checksum mismatch", err)
	}
}

func TestServeUnknownFrameTypeIgnored(t *testing.T) {
	client, errc := startServer(t, Config{})

	if err := client.fw.WriteFrame("RESERV", []byte("future payload")); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	client.submit(t, protocol.JobMessage{Fn: "nope", Key: "k"})

	res := client.read(t)
	if !strings.Contains(string(res.Data), "unknown service") {
		t.Errorf("expected unknown service after ignored frame, got %q", res.Data)
	}

	client.conn.Close()
	serveError(t, errc)
}
