package imwire

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/imwire/client/crypto"
	"github.com/imwire/client/dictionary"
)

// fakePeer stands in for the server side of the connection: it speaks just
// enough of the wire format to drive the handshake and dispatch scenarios.
type fakePeer struct {
	t     *testing.T
	conn  net.Conn
	table TokenTable
	w     *Writer
	fr    *Reader
	raw   []byte
}

func newFakePeer(t *testing.T, conn net.Conn) *fakePeer {
	table := dictionary.New()
	return &fakePeer{t: t, conn: conn, table: table, w: NewWriter(table), fr: NewReader(table)}
}

// fillRaw reads whatever is currently available off the wire into the
// peer's raw, pre-frame-reader buffer. Only the prelude and the stanza-less
// start header are ever parsed out of this buffer; everything after is
// handed to the frame reader instead.
func (p *fakePeer) fillRaw(buf []byte) {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := p.conn.Read(buf)
	if err != nil && n == 0 {
		p.t.Fatalf("read: %v", err)
	}
	p.raw = append(p.raw, buf[:n]...)
}

// readPrelude consumes the fixed prelude bytes and the raw, unframed start
// header that follows them, feeding any leftover bytes into the frame
// reader used for everything after.
func (p *fakePeer) readPrelude() *Node {
	p.t.Helper()
	buf := make([]byte, 4096)
	for len(p.raw) < len(prelude) {
		p.fillRaw(buf)
	}
	if string(p.raw[:len(prelude)]) != string(prelude) {
		p.t.Fatalf("prelude mismatch: %x", p.raw[:len(prelude)])
	}
	p.raw = p.raw[len(prelude):]

	rdr := &Reader{table: p.table}
	for {
		cur := newCursor(p.raw)
		node, err := rdr.readNode(cur)
		if err == nil {
			p.fr.Feed(p.raw[cur.pos:])
			p.raw = nil
			return node
		}
		p.fillRaw(buf)
	}
}

// readFrame reads and decodes the next framed stanza, feeding the frame
// reader directly off the wire (the start header is the only thing ever
// routed through the raw buffer).
func (p *fakePeer) readFrame() *Node {
	p.t.Helper()
	buf := make([]byte, 4096)
	for {
		node, _, err := p.fr.Next()
		if err == nil {
			return node
		}
		if err != ErrIncomplete {
			p.t.Fatalf("read frame: %v", err)
		}
		p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := p.conn.Read(buf)
		if err != nil && n == 0 {
			p.t.Fatalf("read: %v", err)
		}
		p.fr.Feed(buf[:n])
	}
}

func (p *fakePeer) send(n *Node) {
	p.t.Helper()
	frame, err := p.w.EncodeFrame(n, nil)
	if err != nil {
		p.t.Fatalf("encode: %v", err)
	}
	if _, err := p.conn.Write(frame); err != nil {
		p.t.Fatalf("write: %v", err)
	}
}

func dial(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	client, peer := net.Pipe()
	return client, peer
}

func newClientConfig() *Config {
	return &Config{
		Server:       "c.whatsapp.net",
		Number:       "15551234567",
		Secret:       StaticSecret([]byte("sharedsecret")),
		Nickname:     "tester",
		AutoReceipts: true,
	}
}

func TestConnectHandshakeChallengeAndSuccess(t *testing.T) {
	client, peerConn := dial(t)
	defer client.Close()
	defer peerConn.Close()

	s := NewSession(newClientConfig(), nil)

	connectDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.conn = client // net.Pipe has no real dialer to target; wire directly
		s.state = StateConnecting
		s.disconnected = make(chan struct{})
		connectDone <- s.runHandshakeForTest(ctx)
	}()

	peer := newFakePeer(t, peerConn)
	start := peer.readPrelude()
	if to, _ := start.Attr("to"); to != "c.whatsapp.net" {
		t.Fatalf("start to attr = %q", to)
	}
	if resource, _ := start.Attr("resource"); resource != "imwire-1.0-443" {
		t.Fatalf("start resource attr = %q, want imwire-1.0-443", resource)
	}

	features := peer.readFrame()
	if features.Name != "stream:features" {
		t.Fatalf("expected stream:features, got %q", features.Name)
	}

	auth := peer.readFrame()
	if auth.Name != "auth" {
		t.Fatalf("expected auth, got %q", auth.Name)
	}
	if mech, _ := auth.Attr("mechanism"); mech != "WAUTH-2" {
		t.Fatalf("mechanism = %q, want WAUTH-2", mech)
	}

	nonce := []byte("NONCE_NONCE_NONC")
	peer.send(&Node{Name: "challenge", Data: nonce})

	response := peer.readFrame()
	if response.Name != "response" {
		t.Fatalf("expected response, got %q", response.Name)
	}

	cipher, err := crypto.Derive([]byte("sharedsecret"), nonce)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	plain, err := cipher.Decrypt(response.Data)
	if err != nil {
		t.Fatalf("decrypt response: %v", err)
	}
	if !strings.HasPrefix(string(plain), "15551234567"+string(nonce)) {
		t.Fatalf("response plaintext = %q, want prefix %q", plain, "15551234567"+string(nonce))
	}

	peer.send(&Node{
		Name:       "success",
		Attributes: map[string]string{"status": "active", "kind": "free"},
		Data:       []byte("opaque-auth-blob"),
	})

	presence := peer.readFrame()
	if presence.Name != "presence" {
		t.Fatalf("expected presence, got %q", presence.Name)
	}
	if name, _ := presence.Attr("name"); name != "tester" {
		t.Fatalf("presence name = %q, want tester", name)
	}

	if err := <-connectDone; err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if s.State() != StateOnline {
		t.Fatalf("state = %v, want Online", s.State())
	}
	if string(s.AuthBlob()) != "opaque-auth-blob" {
		t.Fatalf("AuthBlob = %q", s.AuthBlob())
	}
	if s.AccountInfo()["status"] != "active" {
		t.Fatalf("AccountInfo = %v", s.AccountInfo())
	}
}

func TestConnectResumesFromCachedAuthBlob(t *testing.T) {
	client, peerConn := dial(t)
	defer client.Close()
	defer peerConn.Close()

	cfg := newClientConfig()
	cfg.AuthBlob = []byte("cached-auth-blob")
	s := NewSession(cfg, nil)

	connectDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.conn = client
		s.state = StateConnecting
		s.disconnected = make(chan struct{})
		connectDone <- s.runHandshakeForTest(ctx)
	}()

	peer := newFakePeer(t, peerConn)
	peer.readPrelude()
	peer.readFrame() // stream:features

	auth := peer.readFrame()
	if auth.Name != "auth" {
		t.Fatalf("expected auth, got %q", auth.Name)
	}

	cipher, err := crypto.Derive([]byte("sharedsecret"), cfg.AuthBlob)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	mac, err := cipher.Encrypt(nil, false)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	wantPrefix := string(mac) + "15551234567" + string(cfg.AuthBlob)
	if !strings.HasPrefix(string(auth.Data), wantPrefix) {
		t.Fatalf("auth.Data = %q, want prefix %q", auth.Data, wantPrefix)
	}

	// The derived cipher must already be installed on both the session and
	// its reader by the time auth is on the wire — before any success or
	// failure arrives — since a peer honoring this resumption may start
	// sending encrypted frames immediately, with no challenge round trip
	// to install the cipher the normal way. readFrame above only returns
	// once the auth bytes have been fully written, which happens strictly
	// after sendHandshake installs both, so this read is race-free.
	s.mu.Lock()
	installed := s.cipher
	s.mu.Unlock()
	if installed == nil {
		t.Fatal("expected a cipher installed on the session for a cached-auth-blob resumption, got nil")
	}
	if s.reader.enc == nil {
		t.Fatal("expected a cipher installed on the reader for a cached-auth-blob resumption, got nil")
	}

	peer.send(&Node{
		Name:       "success",
		Attributes: map[string]string{"status": "active", "kind": "free"},
		Data:       []byte("new-auth-blob"),
	})

	presence := peer.readFrame()
	if presence.Name != "presence" {
		t.Fatalf("expected presence, got %q", presence.Name)
	}

	if err := <-connectDone; err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if s.State() != StateOnline {
		t.Fatalf("state = %v, want Online", s.State())
	}
	if string(s.AuthBlob()) != "new-auth-blob" {
		t.Fatalf("AuthBlob = %q", s.AuthBlob())
	}
}

func TestConnectFailureSurfacesLoginError(t *testing.T) {
	client, peerConn := dial(t)
	defer client.Close()
	defer peerConn.Close()

	s := NewSession(newClientConfig(), nil)

	connectDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.conn = client
		s.state = StateConnecting
		s.disconnected = make(chan struct{})
		connectDone <- s.runHandshakeForTest(ctx)
	}()

	peer := newFakePeer(t, peerConn)
	peer.readPrelude()
	peer.readFrame() // stream:features
	peer.readFrame() // auth

	peer.send(&Node{Name: "failure", Attributes: map[string]string{"reason": "not-authorized"}})

	err := <-connectDone
	if err == nil {
		t.Fatal("expected a login error")
	}
	loginErr, ok := err.(*LoginError)
	if !ok {
		t.Fatalf("error = %v, want *LoginError", err)
	}
	if loginErr.Reason != "not-authorized" {
		t.Fatalf("Reason = %q, want not-authorized", loginErr.Reason)
	}
}

func TestConnectExpiredSuccessSurfacesLoginError(t *testing.T) {
	client, peerConn := dial(t)
	defer client.Close()
	defer peerConn.Close()

	s := NewSession(newClientConfig(), nil)

	connectDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.conn = client
		s.state = StateConnecting
		s.disconnected = make(chan struct{})
		connectDone <- s.runHandshakeForTest(ctx)
	}()

	peer := newFakePeer(t, peerConn)
	peer.readPrelude()
	peer.readFrame() // stream:features
	peer.readFrame() // auth

	peer.send(&Node{Name: "success", Attributes: map[string]string{"status": "expired"}})

	err := <-connectDone
	if err == nil {
		t.Fatal("expected a login error for an expired account")
	}
	if _, ok := err.(*LoginError); !ok {
		t.Fatalf("error = %v, want *LoginError", err)
	}

	// The callback latch and the service loop's own disconnect race on
	// separate goroutines; wait for disconnected to close rather than
	// sampling State() immediately.
	select {
	case <-s.disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("session never disconnected after an expired success")
	}
	if s.State() != StateDisconnected {
		t.Fatalf("state = %v, want Disconnected after an expired success", s.State())
	}
}

func TestPingReplyOverServiceLoop(t *testing.T) {
	s, peerConn := newTestSession(t)
	defer peerConn.Close()

	go s.serviceLoop()
	defer s.disconnect(nil)

	peer := newFakePeer(t, peerConn)
	peer.send(&Node{
		Name:       "iq",
		Attributes: map[string]string{"type": "get", "id": "ping-1"},
		Children:   []*Node{{Name: "ping"}},
	})

	reply := peer.readFrame()
	if reply.Name != "iq" {
		t.Fatalf("Name = %q, want iq", reply.Name)
	}
	if got, _ := reply.Attr("type"); got != "result" {
		t.Fatalf("type = %q, want result", got)
	}
	if got, _ := reply.Attr("id"); got != "ping-1" {
		t.Fatalf("id = %q, want ping-1", got)
	}
	if len(reply.Children) != 0 {
		t.Fatalf("expected no children, got %v", reply.Children)
	}
}

func TestDirtyCleanOverServiceLoop(t *testing.T) {
	s, peerConn := newTestSession(t)
	defer peerConn.Close()

	go s.serviceLoop()
	defer s.disconnect(nil)

	peer := newFakePeer(t, peerConn)
	peer.send(&Node{
		Name: "ib",
		Children: []*Node{
			{Name: "dirty", Attributes: map[string]string{"type": "groups"}},
		},
	})

	reply := peer.readFrame()
	if reply.Name != "iq" {
		t.Fatalf("Name = %q, want iq", reply.Name)
	}
	if got, _ := reply.Attr("type"); got != "set" {
		t.Fatalf("type = %q, want set", got)
	}
	clean := reply.Child("clean")
	if clean == nil {
		t.Fatal("expected a clean child")
	}
	if got, _ := clean.Attr("type"); got != "groups" {
		t.Fatalf("clean type = %q, want groups", got)
	}
}

func TestDirtyCleanMultipleCategories(t *testing.T) {
	s, peerConn := newTestSession(t)
	defer peerConn.Close()

	go s.serviceLoop()
	defer s.disconnect(nil)

	peer := newFakePeer(t, peerConn)
	peer.send(&Node{
		Name: "ib",
		Children: []*Node{
			{Name: "dirty", Attributes: map[string]string{"type": "groups"}},
			{Name: "dirty", Attributes: map[string]string{"type": "account_sync"}},
		},
	})

	var gotTypes []string
	for i := 0; i < 2; i++ {
		reply := peer.readFrame()
		if reply.Name != "iq" {
			t.Fatalf("Name = %q, want iq", reply.Name)
		}
		clean := reply.Child("clean")
		if clean == nil {
			t.Fatal("expected a clean child")
		}
		cleanType, _ := clean.Attr("type")
		gotTypes = append(gotTypes, cleanType)
	}

	if len(gotTypes) != 2 || gotTypes[0] != "groups" || gotTypes[1] != "account_sync" {
		t.Fatalf("clean types = %v, want [groups account_sync]", gotTypes)
	}
}

func TestKeepAliveFiresOnInterval(t *testing.T) {
	s, peerConn := newTestSession(t)
	defer peerConn.Close()

	s.config.KeepAliveInterval = 20 * time.Millisecond
	s.config.ReadTimeout = 5 * time.Millisecond

	go s.serviceLoop()
	defer s.disconnect(nil)

	peer := newFakePeer(t, peerConn)

	first := peer.readFrame()
	if first.Name != "presence" || first.AttrDefault("type", "") != "active" {
		t.Fatalf("first keep-alive = %+v", first)
	}
	second := peer.readFrame()
	if second.Name != "presence" || second.AttrDefault("type", "") != "active" {
		t.Fatalf("second keep-alive = %+v", second)
	}
}

// runHandshakeForTest drives the handshake and blocks for its result,
// bypassing Connect's own dial step since the test wires a net.Pipe
// connection directly instead of letting net.Dialer reach it.
func (s *Session) runHandshakeForTest(ctx context.Context) error {
	loginResult := newCallback("success", func(n *Node) bool { return true }, func(n *Node) (interface{}, error) {
		if err := checkSuccessStatus(n); err != nil {
			return nil, err
		}
		return n, nil
	})
	failureResult := newCallback("failure", func(n *Node) bool { return true }, func(n *Node) (interface{}, error) {
		return nil, &LoginError{Reason: n.AttrDefault("reason", "authentication failed")}
	})
	s.callbacks.register("success", loginResult)
	s.callbacks.register("failure", failureResult)
	defer s.callbacks.unregister("success", loginResult)
	defer s.callbacks.unregister("failure", failureResult)

	go s.serviceLoop()

	if err := s.sendHandshake(); err != nil {
		return err
	}
	_, err := s.awaitCallbacks(ctx, loginResult, failureResult)
	return err
}
