package imwire

import (
	"errors"
	"strings"

	"github.com/imwire/client/dictionary"
)

// ErrNodeShape is returned when a Node violates the data-model invariant
// that it carries either Data or Children, never both.
var ErrNodeShape = errors.New("imwire: node has both data and children")

// Writer encodes Nodes to the tokenised binary wire format and wraps them
// in frames.
type Writer struct {
	table TokenTable
}

// NewWriter constructs a Writer over the given dictionary.
func NewWriter(table TokenTable) *Writer {
	return &Writer{table: table}
}

// EncodeNode encodes n to its raw wire bytes, without a frame header.
func (w *Writer) EncodeNode(n *Node) ([]byte, error) {
	b := newBuilder(64)
	if err := w.encodeNode(b, n); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// EncodeFrame encodes n and wraps it in a frame. If enc is non-nil the
// payload is encrypted (with a MAC appended, per the cipher interface's
// default) and the frame's flag nibble is set accordingly; otherwise the
// frame is sent in the clear. The header's length field is backpatched
// once the (possibly encrypted) payload length is known: a placeholder
// is reserved up front and overwritten after the payload bytes are
// written.
func (w *Writer) EncodeFrame(n *Node, enc Encryption) ([]byte, error) {
	plaintext, err := w.EncodeNode(n)
	if err != nil {
		return nil, err
	}

	payload := plaintext
	flags := frameFlagPlain
	if enc != nil {
		ciphertext, err := enc.Encrypt(plaintext, false)
		if err != nil {
			return nil, newStreamError("frame encryption failed", err)
		}
		payload = ciphertext
		flags = frameFlagEncrypted
	}

	if len(payload) > maxFrameLength {
		return nil, newStreamError("encoded frame exceeds maximum length", nil)
	}

	b := newBuilder(3 + len(payload))
	headerPos := b.reserve(3)
	b.writeBytes(payload)
	b.patchUint24At(headerPos, encodeFrameHeader(flags, len(payload)))
	return b.Bytes(), nil
}

// EncodeStart builds the stanza-less opening header sent right after the
// connection prelude: a list-start of 2*len(attrs)+1, the 0x01 sentinel,
// then the attributes. Unlike every other stanza, this is written raw,
// never wrapped in a 3-byte frame header.
func (w *Writer) EncodeStart(attrs map[string]string) ([]byte, error) {
	b := newBuilder(32)
	if err := w.writeListHeader(b, 2*len(attrs)+1); err != nil {
		return nil, err
	}
	b.writeByte(tokStartStanza)
	for k, v := range attrs {
		if err := w.writeString(b, k); err != nil {
			return nil, err
		}
		if err := w.writeString(b, v); err != nil {
			return nil, err
		}
	}
	return b.Bytes(), nil
}

func (w *Writer) encodeNode(b *builder, n *Node) error {
	hasData := len(n.Data) > 0
	hasChildren := len(n.Children) > 0
	if hasData && hasChildren {
		return ErrNodeShape
	}

	length := 1 + 2*len(n.Attributes)
	if hasData {
		length++
	}
	if hasChildren {
		length++
	}

	if err := w.writeListHeader(b, length); err != nil {
		return err
	}
	if err := w.writeString(b, n.Name); err != nil {
		return err
	}
	for k, v := range n.Attributes {
		if err := w.writeString(b, k); err != nil {
			return err
		}
		if err := w.writeString(b, v); err != nil {
			return err
		}
	}
	if hasData {
		if err := w.writeString(b, string(n.Data)); err != nil {
			return err
		}
	}
	if hasChildren {
		if err := w.writeListHeader(b, len(n.Children)); err != nil {
			return err
		}
		for _, c := range n.Children {
			if err := w.encodeNode(b, c); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Writer) writeListHeader(b *builder, length int) error {
	switch {
	case length == 0:
		b.writeByte(tokListEmpty)
	case length <= 0xFF:
		b.writeByte(tokListU8)
		b.writeByte(byte(length))
	case length <= 0xFFFF:
		b.writeByte(tokListU16)
		b.writeUint16BE(uint16(length))
	default:
		return newStreamError("list too long to encode", nil)
	}
	return nil
}

// writeString implements the string(s) encoding policy: a dictionary hit
// encodes as one byte (primary page), the 0xEC escape (primary-page
// overflow above 0xEB), or the 0xFE escape (secondary page); a miss
// containing '@' encodes as a JID; anything else falls back to a raw byte
// string. The 0xFF nibble-packed decimal form is never produced here — it
// is a special-purpose encoding for numeric fields, see
// encodeNibbleDecimal.
func (w *Writer) writeString(b *builder, s string) error {
	if s == "" {
		b.writeByte(tokListEmpty)
		return nil
	}

	if id, ok := w.table.ToToken(s); ok {
		switch {
		case id <= primaryOverflowThreshold:
			b.writeByte(byte(id))
		case id < dictionary.FirstSecondaryID:
			b.writeByte(tokDictExt2)
			b.writeByte(byte(id - 0xED))
		case id <= dictionary.LastSecondaryID:
			b.writeByte(tokDictExt)
			b.writeByte(byte(id - dictionary.FirstSecondaryID))
		default:
			return newStreamError("dictionary id out of range", nil)
		}
		return nil
	}

	if idx := strings.IndexByte(s, '@'); idx >= 0 {
		b.writeByte(tokJID)
		if err := w.writeString(b, s[:idx]); err != nil {
			return err
		}
		return w.writeString(b, s[idx+1:])
	}

	return w.writeRawBytes(b, []byte(s))
}

func (w *Writer) writeRawBytes(b *builder, data []byte) error {
	switch {
	case len(data) == 0:
		b.writeByte(tokListEmpty)
	case len(data) <= 0xFF:
		b.writeByte(tokBinary8)
		b.writeByte(byte(len(data)))
		b.writeBytes(data)
	case len(data) <= 0xFFFFFF:
		b.writeByte(tokBinary32)
		b.writeByte(byte(len(data) >> 16))
		b.writeByte(byte(len(data) >> 8))
		b.writeByte(byte(len(data)))
		b.writeBytes(data)
	default:
		return newStreamError("raw byte string too long to encode", nil)
	}
	return nil
}

// encodeNibbleDecimal implements the 0xFF nibble-packed decimal form used
// for phone numbers. s must satisfy fitsNibbleForm.
func encodeNibbleDecimal(s string) ([]byte, error) {
	if !fitsNibbleForm(s) {
		return nil, newArgumentError("nibble-decimal string", s)
	}
	size := (len(s) + 1) / 2
	if size > 0x7F {
		return nil, newStreamError("nibble-decimal string too long to encode", nil)
	}
	ignoreLast := len(s)%2 != 0

	out := make([]byte, 0, 2+size)
	out = append(out, tokNibbleDec)
	header := byte(size)
	if ignoreLast {
		header |= 0x80
	}
	out = append(out, header)

	for i := 0; i < size; i++ {
		hiNib, _ := byteToNibble(s[2*i])
		var loNib byte
		if 2*i+1 < len(s) {
			loNib, _ = byteToNibble(s[2*i+1])
		}
		out = append(out, hiNib<<4|loNib)
	}
	return out, nil
}
