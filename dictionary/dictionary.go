// Package dictionary provides a frozen token↔string table standing in for
// the full proprietary wire dictionary (a fixed ~500-entry table the real
// protocol uses). This table only carries the strings this module's own
// stanzas use; it is not the real production dictionary and must never be
// extended at runtime.
package dictionary

// Primary-page ids run from 3 through 0xF4 (single-byte tokens up to 0xEB;
// the writer emits ids above 0xEB through the two-byte 0xEC escape). Secondary
// page ids start at 0xF5 and are reached on the wire via the 0xFE prefix
// (string id = 0xF5 + n). This table's word list is short enough that it
// never actually spills into the secondary page, but the page boundary is
// still exposed so callers (and the writer/reader) can reason about it the
// same way they would against the full ~500-entry production table.
const (
	FirstPrimaryID   = 0x03
	LastPrimaryID    = 0xF4
	FirstSecondaryID = 0xF5
	LastSecondaryID  = 0x1F4
)

// words is the frozen, ordered list of dictionary strings. Index i holds
// the string for id FirstPrimaryID+i. Order is part of the wire contract:
// changing it changes every token id.
var words = []string{
	// stream / handshake
	"stream:stream", "stream:features", "stream:error", "auth", "challenge",
	"response", "success", "failure", "mechanism", "WAUTH-2", "status",
	"kind", "expiration", "expired", "active", "free", "reason",

	// envelope attributes
	"to", "from", "id", "type", "xmlns", "participant", "t", "notify",
	"offline", "count", "duration", "code", "text", "name",

	// core stanzas
	"iq", "message", "presence", "notification", "ack", "receipt", "ib",
	"chatstate", "start",

	// iq children / query types
	"ping", "query", "props", "sync", "clean", "result", "get", "set",
	"error", "urn:xmpp:whatsapp:dirty", "urn:xmpp:whatsapp:push",

	// ib / dirty
	"dirty", "category", "groups", "account", "contacts",

	// presence
	"unavailable", "available", "last", "seconds",

	// chat state
	"composing", "paused", "gone",

	// message body / media
	"body", "conversation", "media", "image", "video", "audio", "document",
	"url", "mimetype", "filehash", "size", "caption",

	// features
	"readreceipts", "groups_v2", "privacy", "encrypt",

	// jid domains
	"s.whatsapp.net", "g.us", "broadcast", "c.us",

	// receipt/ack types
	"read", "delivered", "played", "relay", "sender",

	// misc frequently-seen attributes
	"author", "device", "platform", "version", "user", "server",
	"retry", "v", "resource",
}

func init() {
	if FirstPrimaryID+len(words)-1 > LastPrimaryID {
		panic("dictionary: word list overflows the primary page")
	}
}

// Table is a TokenTable implementation over the frozen word list above.
type Table struct {
	toStr map[int]string
	toTok map[string]int
}

// New builds the default Table.
func New() *Table {
	t := &Table{
		toStr: make(map[int]string, len(words)),
		toTok: make(map[string]int, len(words)),
	}
	for i, w := range words {
		id := FirstPrimaryID + i
		t.toStr[id] = w
		t.toTok[w] = id
	}
	return t
}

// ToString returns the dictionary string for a primary-page id (3..0xF4).
func (t *Table) ToString(id byte) (string, bool) {
	s, ok := t.toStr[int(id)]
	return s, ok
}

// ToStringExt looks up a secondary-page id (0xF5..0x1F4), as addressed on
// the wire by 0xFE followed by id-0xF5.
func (t *Table) ToStringExt(id int) (string, bool) {
	s, ok := t.toStr[id]
	return s, ok
}

// ToToken returns the dictionary id for s, on whichever page it lives, and
// whether s is in the table at all.
func (t *Table) ToToken(s string) (id int, ok bool) {
	id, ok = t.toTok[s]
	return id, ok
}
