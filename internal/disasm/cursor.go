package disasm

import "errors"

// ErrCodeEOF is returned when an instruction runs past the end of the window.
var ErrCodeEOF = errors.New("disasm: unexpected end of code")

// ByteCursor is a forward-only reader over a code window. Every byte handed
// out is recorded, so the raw encoding of the current instruction is
// available without reading the underlying memory a second time.
type ByteCursor struct {
	data  []byte
	base  uint64 // address of data[0]
	start int    // first byte of the current instruction
	pos   int
	raw   []byte
}

// NewCursor creates a cursor over data, which is mapped at base.
func NewCursor(data []byte, base uint64) *ByteCursor {
	return &ByteCursor{data: data, base: base}
}

// Addr returns the address of the next unread byte.
func (c *ByteCursor) Addr() uint64 { return c.base + uint64(c.pos) }

// Pos returns the offset of the next unread byte.
func (c *ByteCursor) Pos() int { return c.pos }

// Remaining returns the number of unread bytes.
func (c *ByteCursor) Remaining() int { return len(c.data) - c.pos }

// Begin marks the current position as the start of an instruction.
func (c *ByteCursor) Begin() {
	c.start = c.pos
	c.raw = c.raw[:0]
}

// Consumed returns the bytes read since Begin.
func (c *ByteCursor) Consumed() []byte { return c.raw }

// Len returns the number of bytes read since Begin.
func (c *ByteCursor) Len() int { return c.pos - c.start }

// ReadByte reads a single byte.
func (c *ByteCursor) ReadByte() (byte, error) {
	if c.pos >= len(c.data) {
		return 0, ErrCodeEOF
	}
	b := c.data[c.pos]
	c.pos++
	c.raw = append(c.raw, b)
	return b, nil
}

func (c *ByteCursor) readN(n int) (uint64, error) {
	var v uint64
	for i := 0; i < n; i++ {
		b, err := c.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= uint64(b) << (8 * i)
	}
	return v, nil
}

// ReadImm reads a little-endian value of size bytes (1, 2, 4 or 8),
// sign-extended to 64 bits.
func (c *ByteCursor) ReadImm(size int) (int64, error) {
	v, err := c.readN(size)
	if err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return int64(int8(v)), nil
	case 2:
		return int64(int16(v)), nil
	case 4:
		return int64(int32(v)), nil
	}
	return int64(v), nil
}

// Lookahead reads up to n more bytes and returns everything read since
// Begin. It is used to size encodings the decoder does not recognise.
func (c *ByteCursor) Lookahead(n int) []byte {
	for i := 0; i < n; i++ {
		if _, err := c.ReadByte(); err != nil {
			break
		}
	}
	return c.raw
}

// Cut trims the current instruction to its first n bytes, leaving the
// remainder unread for the next instruction.
func (c *ByteCursor) Cut(n int) {
	if n < 0 || n > c.pos-c.start {
		return
	}
	c.pos = c.start + n
	c.raw = c.raw[:n]
}

// Skip advances past n bytes without decoding them. It returns the number of
// bytes actually skipped.
func (c *ByteCursor) Skip(n int) int {
	if n > c.Remaining() {
		n = c.Remaining()
	}
	c.pos += n
	return n
}

// Snapshot returns the window bytes in [from, from+n) by offset, clamped.
func (c *ByteCursor) Snapshot(from, n int) []byte {
	if from >= len(c.data) {
		return nil
	}
	end := from + n
	if end > len(c.data) {
		end = len(c.data)
	}
	out := make([]byte, end-from)
	copy(out, c.data[from:end])
	return out
}
