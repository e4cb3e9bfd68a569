package xapi

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// FrameDecoder splits a byte stream into whole JSON documents. The broker
// sends no length prefix, so a message ends wherever the first complete
// document ends.
//
// States: accumulate (Feed), attempt parse (Next), and on success split
// consumed bytes from the remainder, which is kept verbatim for the next call.
type FrameDecoder struct {
	buf []byte
}

// Feed appends a chunk read from the connection.
func (d *FrameDecoder) Feed(chunk []byte) {
	d.buf = append(d.buf, chunk...)
}

// Next returns the first complete document in the buffer. ok is false when
// more bytes are needed. A syntax error discards the buffer.
func (d *FrameDecoder) Next() (msg json.RawMessage, ok bool, err error) {
	if len(bytes.TrimSpace(d.buf)) == 0 {
		return nil, false, nil
	}

	dec := json.NewDecoder(bytes.NewReader(d.buf))
	if err := dec.Decode(&msg); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, false, nil
		}
		d.buf = nil
		return nil, false, errors.Wrap(err, "decode frame")
	}

	consumed := int(dec.InputOffset())
	rest := make([]byte, len(d.buf)-consumed)
	copy(rest, d.buf[consumed:])
	d.buf = rest
	return msg, true, nil
}

// Buffered returns the bytes retained after the last decoded document.
func (d *FrameDecoder) Buffered() []byte {
	return d.buf
}

// Reset drops any partial message.
func (d *FrameDecoder) Reset() {
	d.buf = nil
}
