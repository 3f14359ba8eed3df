package stream

import (
	"errors"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const decodeBufferSize = 4096

// Decoder turns raw body chunks into text. An incomplete UTF-8 sequence at the end of
// a chunk is held back and completed by the next one; invalid bytes become U+FFFD.
type Decoder struct {
	t       transform.Transformer
	pending []byte
	dst     []byte
}

func NewDecoder() *Decoder {
	return &Decoder{
		t:   unicode.UTF8.NewDecoder(),
		dst: make([]byte, decodeBufferSize),
	}
}

// Decode converts raw into text. With final set, any held-back bytes are flushed with
// replacement characters and the decoder is reset.
func (d *Decoder) Decode(raw []byte, final bool) string {
	src := raw
	if len(d.pending) > 0 {
		src = append(d.pending, raw...)
		d.pending = nil
	}

	var out strings.Builder
	for {
		nDst, nSrc, err := d.t.Transform(d.dst, src, final)
		out.Write(d.dst[:nDst])
		src = src[nSrc:]

		if errors.Is(err, transform.ErrShortDst) {
			continue
		}
		if errors.Is(err, transform.ErrShortSrc) {
			// Incomplete trailing sequence; wait for more bytes
			d.pending = append([]byte(nil), src...)
		}
		break
	}

	if final {
		d.t.Reset()
	}
	return out.String()
}

// Pending reports how many bytes are held back awaiting the rest of a sequence
func (d *Decoder) Pending() int {
	return len(d.pending)
}
