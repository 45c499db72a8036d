package imwire

import "encoding/binary"

// cursor is a read-only view over a byte slice with an explicit position.
// Every read method reports ok=false instead of panicking when the cursor
// runs out of bytes, so callers can signal ErrIncomplete instead of the
// reader crashing on a partial frame.
type cursor struct {
	data []byte
	pos  int
}

func newCursor(data []byte) *cursor {
	return &cursor{data: data}
}

func (c *cursor) remaining() int { return len(c.data) - c.pos }

func (c *cursor) peekByte() (byte, bool) {
	if c.remaining() < 1 {
		return 0, false
	}
	return c.data[c.pos], true
}

func (c *cursor) readByte() (byte, bool) {
	b, ok := c.peekByte()
	if ok {
		c.pos++
	}
	return b, ok
}

func (c *cursor) readBytes(n int) ([]byte, bool) {
	if n < 0 || c.remaining() < n {
		return nil, false
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b, true
}

func (c *cursor) readUint16BE() (uint16, bool) {
	b, ok := c.readBytes(2)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint16(b), true
}

func (c *cursor) readUint24BE() (uint32, bool) {
	b, ok := c.readBytes(3)
	if !ok {
		return 0, false
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]), true
}

// builder accumulates encoded bytes, with backpatch helpers for the
// frame header's length field, whose value isn't known until the payload
// bytes have already been written.
type builder struct {
	data []byte
}

func newBuilder(capacity int) *builder {
	return &builder{data: make([]byte, 0, capacity)}
}

func (b *builder) Bytes() []byte { return b.data }
func (b *builder) Len() int      { return len(b.data) }

func (b *builder) writeByte(v byte) { b.data = append(b.data, v) }

func (b *builder) writeBytes(v []byte) { b.data = append(b.data, v...) }

func (b *builder) writeUint16BE(v uint16) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	b.writeBytes(buf[:])
}

// reserve appends n zero bytes and returns the position they start at, for
// later backpatching once a value is known.
func (b *builder) reserve(n int) int {
	pos := len(b.data)
	b.data = append(b.data, make([]byte, n)...)
	return pos
}

// patchUint24At backpatches a 3-byte big-endian value at pos, used for the
// frame header once the payload length is known.
func (b *builder) patchUint24At(pos int, v uint32) {
	if pos+3 > len(b.data) {
		return
	}
	b.data[pos] = byte(v >> 16)
	b.data[pos+1] = byte(v >> 8)
	b.data[pos+2] = byte(v)
}
