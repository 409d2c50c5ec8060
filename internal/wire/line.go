package wire

import (
	"bufio"
	"io"
	"sync"
)

// MaxLineLength bounds a single protocol line. Lines longer than this are a
// protocol violation and terminate the read.
const MaxLineLength = 1 << 20

// LineReader decodes tagged protocol lines from a byte stream.
//
// The stream may carry ordinary program output between protocol lines, so
// ReadLine reports lines without a known tag as ErrUnknownTag and lets the
// caller decide whether to skip them (the debug protocol does) or fail.
type LineReader struct {
	reader *bufio.Reader
}

// NewLineReader creates a reader over r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{reader: bufio.NewReaderSize(r, 64*1024)}
}

// ReadLine reads the next newline-terminated line and splits it into tag and
// payload. A line that does not begin with a known tag is returned with the
// raw line as payload and ErrUnknownTag; the stream stays in sync either way.
// A stream that ends mid-line reports ErrConnectionClosed; a clean close at a
// line boundary reports io.EOF.
func (r *LineReader) ReadLine() (Tag, []byte, error) {
	var line []byte
	for {
		chunk, err := r.reader.ReadSlice('\n')
		line = append(line, chunk...)
		if err == nil {
			break
		}
		if err == bufio.ErrBufferFull {
			if len(line) > MaxLineLength {
				return "", nil, ErrLineTooLong
			}
			continue
		}
		if err == io.EOF {
			if len(line) == 0 {
				return "", nil, io.EOF
			}
			return "", nil, ErrConnectionClosed
		}
		return "", nil, err
	}

	// Strip the trailing newline.
	line = line[:len(line)-1]

	if len(line) < TagWidth {
		return "", line, ErrUnknownTag
	}
	tag := Tag(line[:TagWidth])
	if !tag.Known() {
		return "", line, ErrUnknownTag
	}
	return tag, line[TagWidth:], nil
}

// Skip discards lines until the next line carrying a known tag, and returns
// it. It reports io.EOF or ErrConnectionClosed when the stream ends first.
func (r *LineReader) Skip() (Tag, []byte, error) {
	for {
		tag, payload, err := r.ReadLine()
		if err == ErrUnknownTag {
			continue
		}
		return tag, payload, err
	}
}

// LineWriter encodes tagged protocol lines onto a byte stream. Every write
// is flushed immediately so the IDE sees events with low latency, and a
// mutex keeps concurrent writers from interleaving partial lines.
type LineWriter struct {
	mu     sync.Mutex
	writer *bufio.Writer
}

// NewLineWriter creates a writer over w.
func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{writer: bufio.NewWriterSize(w, 64*1024)}
}

// WriteLine writes one tagged line and flushes it. The payload must not
// contain a newline; embedded newlines would desynchronize the stream.
func (w *LineWriter) WriteLine(tag Tag, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.writer.WriteString(string(tag)); err != nil {
		return err
	}
	if _, err := w.writer.Write(payload); err != nil {
		return err
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return err
	}
	return w.writer.Flush()
}
