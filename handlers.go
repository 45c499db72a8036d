package imwire

import (
	"strconv"
	"time"

	"github.com/imwire/client/crypto"
)

// handleNode runs the built-in responses for particular stanza names,
// then offers the node to the callback registry.
func (s *Session) handleNode(n *Node) error {
	var err error
	switch n.Name {
	case "challenge":
		err = s.handleChallenge(n)
	case "message":
		s.handleMessage(n)
	case "iq":
		s.handleIQ(n)
	case "ib":
		s.handleIB(n)
	case "notification":
		s.handleNotification(n)
	case "success":
		err = s.handleSuccess(n)
	case "failure":
		err = s.handleFailure(n)
	case "stream:error":
		err = newStreamError("peer sent stream:error", nil)
	case "stream:features", "start":
		// ignored
	}

	// Built-in handling runs first, but every node still reaches the
	// registry afterward regardless of outcome: register_and_wait callers
	// (success/failure on connect, a matching iq id on last_seen) latch on
	// this dispatch, not on handleNode's return value.
	s.callbacks.dispatch(n)
	return err
}

func (s *Session) handleChallenge(n *Node) error {
	secret, err := s.config.Secret.Secret()
	if err != nil {
		return newConnectionError("read secret", err)
	}

	cipher, err := crypto.Derive(secret, n.Data)
	if err != nil {
		return newStreamError("key derivation failed", err)
	}
	s.reader.SetEncryption(cipher)
	s.cipher = cipher

	ts := time.Now().Unix()
	plain := append([]byte(s.config.Number), n.Data...)
	plain = append(plain, []byte(strconv.FormatInt(ts, 10))...)

	payload, err := cipher.Encrypt(plain, false)
	if err != nil {
		return newStreamError("challenge response encryption failed", err)
	}

	return s.sendRaw(&Node{Name: "response", Data: payload})
}

func (s *Session) handleMessage(n *Node) {
	if !s.config.AutoReceipts {
		return
	}
	to, _ := n.Attr("from")
	id, _ := n.Attr("id")
	participant, _ := n.Attr("participant")

	attrs := map[string]string{"to": to, "id": id, "type": "read"}
	if participant != "" {
		attrs["participant"] = participant
	}
	_ = s.sendRaw(&Node{Name: "receipt", Attributes: attrs})
}

func (s *Session) handleIQ(n *Node) {
	if n.AttrDefault("type", "") != "get" {
		return
	}
	if n.Child("ping") == nil {
		return
	}
	id, _ := n.Attr("id")
	_ = s.sendRaw(&Node{Name: "iq", Attributes: map[string]string{
		"to": s.config.Server, "id": id, "type": "result",
	}})
}

func (s *Session) handleIB(n *Node) {
	for _, child := range n.Children {
		if child.Name != "dirty" {
			continue
		}
		category := child.AttrDefault("type", "")
		_ = s.sendRaw(&Node{
			Name:       "iq",
			Attributes: map[string]string{"type": "set", "xmlns": "urn:xmpp:whatsapp:dirty"},
			Children: []*Node{
				{Name: "clean", Attributes: map[string]string{"type": category}},
			},
		})
	}
}

func (s *Session) handleNotification(n *Node) {
	attrs := map[string]string{}
	for _, k := range []string{"from", "to", "participant", "id", "type"} {
		if v, ok := n.Attr(k); ok {
			attrs[k] = v
		}
	}
	_ = s.sendRaw(&Node{Name: "ack", Attributes: attrs})
}

// checkSuccessStatus reports the login error a success stanza carries when
// status="expired", so both the built-in handler and a connect-time
// register_and_wait callback agree on the same verdict.
func checkSuccessStatus(n *Node) error {
	if status, _ := n.Attr("status"); status == "expired" {
		return &LoginError{Reason: "account expired"}
	}
	return nil
}

func (s *Session) handleSuccess(n *Node) error {
	if err := checkSuccessStatus(n); err != nil {
		return err
	}

	s.mu.Lock()
	s.authBlob = append([]byte(nil), n.Data...)
	s.accountInfo = map[string]string{}
	for k, v := range n.Attributes {
		s.accountInfo[k] = v
	}
	s.setState(StateOnline)
	s.mu.Unlock()

	return s.sendRaw(&Node{Name: "presence", Attributes: map[string]string{"name": s.config.Nickname}})
}

func (s *Session) handleFailure(n *Node) error {
	reason := n.AttrDefault("reason", "authentication failed")
	return &LoginError{Reason: reason}
}
