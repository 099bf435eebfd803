// Package codec frames values on a byte stream: a 4 byte big-endian length
// followed by the encoded body.
package codec

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxFrameSize bounds a single frame body.
const MaxFrameSize = 16 << 20

var ErrFrameTooLarge = errors.New("codec: frame too large")

type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }

// Writer writes frames. It is safe for concurrent use.
type Writer struct {
	mu    sync.Mutex
	w     io.Writer
	codec Codec
}

func NewWriter(w io.Writer, c Codec) *Writer {
	if c == nil {
		c = JSONCodec{}
	}
	return &Writer{w: w, codec: c}
}

// WriteFrame encodes v and writes it as one frame.
func (fw *Writer) WriteFrame(v any) error {
	body, err := fw.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("codec: encode: %w", err)
	}
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)

	fw.mu.Lock()
	defer fw.mu.Unlock()
	_, err = fw.w.Write(buf)
	return err
}

// Reader reads frames. It is not safe for concurrent use.
type Reader struct {
	r     *bufio.Reader
	codec Codec
	hdr   [4]byte
}

func NewReader(r io.Reader, c Codec) *Reader {
	if c == nil {
		c = JSONCodec{}
	}
	return &Reader{r: bufio.NewReader(r), codec: c}
}

// ReadFrame reads one frame into v. io.EOF is returned untouched when the
// stream ends cleanly between frames.
func (fr *Reader) ReadFrame(v any) error {
	if _, err := io.ReadFull(fr.r, fr.hdr[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(fr.hdr[:])
	if n > MaxFrameSize {
		return ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	if err := fr.codec.Unmarshal(body, v); err != nil {
		return fmt.Errorf("codec: decode: %w", err)
	}
	return nil
}
