package imwire

import (
	"context"
	"fmt"
)

// MediaType enumerates the media kinds SendMedia accepts.
type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaVideo    MediaType = "video"
	MediaAudio    MediaType = "audio"
	MediaDocument MediaType = "document"
)

func (m MediaType) valid() bool {
	switch m {
	case MediaImage, MediaVideo, MediaAudio, MediaDocument:
		return true
	}
	return false
}

// SendText sends a plain-text message to to and returns the message id it
// was sent under.
func (s *Session) SendText(to, text string) (string, error) {
	id := s.nextMessageID()
	n := &Node{
		Name:       "message",
		Attributes: map[string]string{"to": to, "id": id, "type": "text"},
		Children: []*Node{
			{Name: "body", Data: []byte(text)},
		},
	}
	if err := s.sendRaw(n); err != nil {
		return "", err
	}
	return id, nil
}

// SendReceipt acknowledges a message by id with kind "read" or
// "delivered". participant is set on group receipts and omitted when empty.
func (s *Session) SendReceipt(to, id, participant, kind string) error {
	if kind != "read" && kind != "delivered" {
		return newArgumentError("receipt kind", kind)
	}
	attrs := map[string]string{"to": to, "id": id, "type": kind}
	if participant != "" {
		attrs["participant"] = participant
	}
	return s.sendRaw(&Node{Name: "receipt", Attributes: attrs})
}

// SendPresence announces the client's presence: "available",
// "unavailable", "active", or "away".
func (s *Session) SendPresence(kind string) error {
	switch kind {
	case "available", "unavailable", "active", "away":
	default:
		return newArgumentError("presence kind", kind)
	}
	return s.sendRaw(&Node{Name: "presence", Attributes: map[string]string{"type": kind}})
}

// SendChatState tells to that the local user is composing, paused, or
// gone. "gone" passes validation even though its wire semantics are not
// exercised by this client; the peer decides what to do with it.
func (s *Session) SendChatState(to, state string) error {
	switch state {
	case "composing", "paused", "gone":
	default:
		return newArgumentError("chat state", state)
	}
	return s.sendRaw(&Node{
		Name:       "chatstate",
		Attributes: map[string]string{"to": to},
		Children:   []*Node{{Name: state}},
	})
}

// SendMedia sends a media message referencing an already-uploaded url, of
// the given kind, with caller-supplied metadata attributes (caption,
// mimetype, dimensions, and similar, as the peer expects for kind).
func (s *Session) SendMedia(to string, kind MediaType, url string, meta map[string]string) error {
	if !kind.valid() {
		return newArgumentError("media kind", string(kind))
	}
	attrs := map[string]string{"type": string(kind), "url": url}
	for k, v := range meta {
		attrs[k] = v
	}
	id := s.nextMessageID()
	return s.sendRaw(&Node{
		Name:       "message",
		Attributes: map[string]string{"to": to, "id": id, "type": "media"},
		Children: []*Node{
			{Name: "media", Attributes: attrs},
		},
	})
}

// LastSeen queries jid's last-seen timestamp and returns the number of
// seconds the peer reports, as a proper request/response round trip
// through register_and_wait.
func (s *Session) LastSeen(ctx context.Context, jid string) (int64, error) {
	id := s.nextMessageID()
	cb := newCallback("iq", func(n *Node) bool {
		return n.AttrDefault("id", "") == id && n.AttrDefault("type", "") == "result"
	}, func(n *Node) (interface{}, error) {
		query := n.Child("query")
		if query == nil {
			return nil, newDecodeError("last_seen", fmt.Errorf("result iq missing query child"))
		}
		seconds := query.AttrDefault("seconds", "")
		var v int64
		if _, err := fmt.Sscanf(seconds, "%d", &v); err != nil {
			return nil, newDecodeError("last_seen", fmt.Errorf("query seconds attribute %q: %w", seconds, err))
		}
		return v, nil
	})

	query := &Node{
		Name:       "iq",
		Attributes: map[string]string{"to": jid, "id": id, "type": "get", "xmlns": "jabber:iq:last"},
		Children:   []*Node{{Name: "query"}},
	}
	if err := s.sendRaw(query); err != nil {
		return 0, err
	}

	value, err := s.registerAndWait(ctx, cb)
	if err != nil {
		return 0, err
	}
	return value.(int64), nil
}
