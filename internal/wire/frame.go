package wire

import (
	"encoding/binary"
	"hash/adler32"
	"io"
	"sync"
)

// Frame header layout: 4 bytes big-endian payload length, 4 bytes big-endian
// Adler-32 checksum of the payload, 6 bytes ASCII frame type.
const (
	frameHeaderLen = 4 + 4 + FrameTypeWidth

	// FrameTypeWidth is the fixed width of a frame type in bytes.
	FrameTypeWidth = 6

	// MaxFramePayload bounds a single frame payload. A header declaring
	// more than this is treated as corrupt.
	MaxFramePayload = 16 << 20
)

// Frame types. Types are space-padded to FrameTypeWidth bytes.
const (
	// FrameTypeJob carries a job submission or a job result.
	FrameTypeJob = "JOB   "
)

// FrameReader decodes length-prefixed, checksummed frames from a byte
// stream.
type FrameReader struct {
	reader io.Reader
}

// NewFrameReader creates a reader over r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{reader: r}
}

// ReadFrame reads the next frame and verifies its checksum. It returns the
// frame type and payload. A checksum mismatch reports ErrChecksumMismatch
// and the caller must close the connection. A stream that ends inside a
// frame reports ErrConnectionClosed; a clean close between frames reports
// io.EOF. Unknown frame types are not an error here: the payload has been
// consumed by length, so the caller may ignore the frame and keep reading.
func (r *FrameReader) ReadFrame() (string, []byte, error) {
	header := make([]byte, frameHeaderLen)
	if _, err := io.ReadFull(r.reader, header); err != nil {
		if err == io.EOF {
			return "", nil, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return "", nil, ErrConnectionClosed
		}
		return "", nil, err
	}

	length := binary.BigEndian.Uint32(header[0:4])
	sum := binary.BigEndian.Uint32(header[4:8])
	frameType := string(header[8:frameHeaderLen])

	if length > MaxFramePayload {
		return "", nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.reader, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return "", nil, ErrConnectionClosed
		}
		return "", nil, err
	}

	if adler32.Checksum(payload) != sum {
		return "", nil, ErrChecksumMismatch
	}

	return frameType, payload, nil
}

// FrameWriter encodes frames onto a byte stream. A mutex keeps concurrent
// writers from interleaving frames.
type FrameWriter struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewFrameWriter creates a writer over w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{writer: w}
}

// WriteFrame writes one frame. The frame type is space-padded or truncated
// to FrameTypeWidth bytes.
func (w *FrameWriter) WriteFrame(frameType string, payload []byte) error {
	if len(payload) > MaxFramePayload {
		return ErrFrameTooLarge
	}

	header := make([]byte, frameHeaderLen)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(header[4:8], adler32.Checksum(payload))
	copy(header[8:frameHeaderLen], padFrameType(frameType))

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.writer.Write(header); err != nil {
		return err
	}
	if _, err := w.writer.Write(payload); err != nil {
		return err
	}
	return nil
}

// padFrameType normalizes a frame type to exactly FrameTypeWidth bytes.
func padFrameType(frameType string) []byte {
	padded := make([]byte, FrameTypeWidth)
	for i := range padded {
		padded[i] = ' '
	}
	copy(padded, frameType)
	return padded
}
