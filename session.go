package imwire

import (
	"context"
	"fmt"
	"io"
	"net"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/imwire/client/crypto"
	"github.com/imwire/client/dictionary"
)

// SessionState enumerates the connection lifecycle: Disconnected,
// Connecting, HandshakeSent, Authenticating, Online. Modeling it as a
// plain int rather than distinct per-state types keeps Session a single
// concrete type a caller can hold onto across a reconnect. Only Connect
// checks the state; the send methods do not, and a send fails with
// ErrNotConnected only when no socket is open.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateHandshakeSent
	StateAuthenticating
	StateOnline
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshakeSent:
		return "handshake_sent"
	case StateAuthenticating:
		return "authenticating"
	case StateOnline:
		return "online"
	default:
		return "unknown"
	}
}

// prelude is the fixed handshake signature sent once per connection,
// before any framed stanza.
var prelude = []byte{'W', 'A', 0x01, 0x05, 0x00, 0x00, 0x17}

const idPrefix = "imwire"

// protocolDevice and protocolVersion identify this client in the
// handshake's resource attribute, alongside the port it connected on:
// "<device>-<version>-<port>".
const (
	protocolDevice  = "imwire"
	protocolVersion = "1.0"
)

// Session is a single connection to the server: the socket, the codec,
// the callback registry, and the cipher installed after the challenge.
// It owns exactly one connection and drives a single dispatch loop keyed
// by stanza name (see handlers.go).
type Session struct {
	config *Config
	table  TokenTable
	writer *Writer
	reader *Reader

	mu            sync.Mutex
	state         SessionState
	conn          net.Conn
	cipher        Encryption
	authBlob      []byte
	accountInfo   map[string]string
	idCounter     uint64
	lastKeepAlive time.Time

	writeMu sync.Mutex

	callbacks    *registry
	disconnected chan struct{}
	loopErr      error
}

// NewSession constructs a Session over the given configuration. table may
// be nil to use the default dictionary.
func NewSession(config *Config, table TokenTable) *Session {
	if table == nil {
		table = dictionary.New()
	}
	config.setDefaults()
	return &Session{
		config:    config,
		table:     table,
		writer:    NewWriter(table),
		reader:    NewReader(table),
		callbacks: newRegistry(),
		state:     StateDisconnected,
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the session is Online.
func (s *Session) Connected() bool {
	return s.State() == StateOnline
}

// AccountInfo returns the attributes the last `success` stanza carried.
func (s *Session) AccountInfo() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountInfo
}

// AuthBlob returns the opaque auth blob the last successful login
// produced, for reuse on the next Connect.
func (s *Session) AuthBlob() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authBlob
}

func (s *Session) setState(state SessionState) {
	s.state = state
}

// Connect dials the server, runs the prelude and handshake, and blocks
// until the session reaches Online or the attempt fails. On success a
// background goroutine keeps reading and dispatching inbound stanzas
// until disconnect or a fatal error; it is the single task that owns
// reads for the lifetime of the connection.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return newArgumentError("config", err.Error())
	}

	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.setState(StateConnecting)
	s.idCounter = 0
	s.disconnected = make(chan struct{})
	s.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", s.config.Server, s.config.Port)
	dialer := &net.Dialer{Timeout: s.config.ConnTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		s.mu.Lock()
		s.setState(StateDisconnected)
		s.mu.Unlock()
		return newConnectionError("dial", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.setState(StateHandshakeSent)
	s.mu.Unlock()

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

	go s.serviceLoop()

	if err := s.sendHandshake(); err != nil {
		s.callbacks.unregister("success", loginResult)
		s.callbacks.unregister("failure", failureResult)
		_ = s.disconnect(err)
		return err
	}

	_, err = s.awaitCallbacks(ctx, loginResult, failureResult)
	s.callbacks.unregister("success", loginResult)
	s.callbacks.unregister("failure", failureResult)
	return err
}

func (s *Session) sendHandshake() error {
	if _, err := s.writeRaw(prelude); err != nil {
		return err
	}

	resource := fmt.Sprintf("%s-%s-%d", protocolDevice, protocolVersion, s.config.Port)
	startBytes, err := s.writer.EncodeStart(map[string]string{
		"to":       s.config.Server,
		"resource": resource,
	})
	if err != nil {
		return newStreamError("encode start header failed", err)
	}
	if _, err := s.writeRaw(startBytes); err != nil {
		return err
	}

	features := &Node{Name: "stream:features", Children: featureChildren(s.config)}
	if err := s.sendRaw(features); err != nil {
		return err
	}

	s.mu.Lock()
	s.setState(StateAuthenticating)
	s.mu.Unlock()

	authAttrs := map[string]string{"mechanism": "WAUTH-2", "user": s.config.Number}
	auth := &Node{Name: "auth", Attributes: authAttrs}
	if len(s.config.AuthBlob) > 0 {
		secret, err := s.config.Secret.Secret()
		if err != nil {
			return newConnectionError("read secret", err)
		}
		cipher, err := crypto.Derive(secret, s.config.AuthBlob)
		if err != nil {
			return newStreamError("auth blob key derivation failed", err)
		}
		payload, err := resumptionPayload(cipher, s.config.Number, s.config.AuthBlob)
		if err != nil {
			return newStreamError("auth blob mac failed", err)
		}
		auth.Data = payload

		// Mirror client.py's connect(): a cached blob means no challenge is
		// coming to install the cipher the normal way, so install it here,
		// on both directions, before the auth node is even written — a
		// peer honoring the resumption may reply with `success` directly
		// and start sending encrypted frames immediately.
		s.reader.SetEncryption(cipher)
		s.mu.Lock()
		s.cipher = cipher
		s.mu.Unlock()
	}
	return s.sendRaw(auth)
}

func featureChildren(c *Config) []*Node {
	var children []*Node
	add := func(enabled bool, name string) {
		if enabled {
			children = append(children, &Node{Name: name})
		}
	}
	add(c.ReadReceipts, "readreceipts")
	add(c.Groups, "groups_v2")
	add(c.Privacy, "privacy")
	add(c.Presence, "presence")
	return children
}

// resumptionPayload builds the auth node's data for a cached-blob
// reconnect: a MAC computed over an empty plaintext under keys derived
// from (secret, blob), so the server can verify the derivation without a
// fresh challenge nonce, concatenated with the plaintext tuple
// identifying which session to resume. This matches
// original_source/whatsappy/client.py's connect() byte-for-byte:
// encryption.encrypt("", False) + "%s%s%s" % (number, auth_blob, timestamp).
func resumptionPayload(cipher Encryption, number string, blob []byte) ([]byte, error) {
	mac, err := cipher.Encrypt(nil, false)
	if err != nil {
		return nil, err
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	out := make([]byte, 0, len(mac)+len(number)+len(blob)+len(ts))
	out = append(out, mac...)
	out = append(out, []byte(number)...)
	out = append(out, blob...)
	out = append(out, []byte(ts)...)
	return out, nil
}

// serviceLoop is the single task that owns reads. It runs until the
// connection closes or a fatal error occurs.
func (s *Session) serviceLoop() {
	buf := make([]byte, 4096)
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		n, err := conn.Read(buf)
		if n > 0 {
			s.reader.Feed(buf[:n])
			if loopErr := s.drainReader(); loopErr != nil {
				s.disconnect(loopErr)
				return
			}
		}
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				s.maybeKeepAlive()
				continue
			}
			if err == io.EOF {
				s.disconnect(newConnectionError("read", io.EOF))
				return
			}
			s.disconnect(newConnectionError("read", err))
			return
		}
		s.maybeKeepAlive()
	}
}

// drainReader parses every complete frame currently buffered and
// dispatches it, stopping (without error) on Incomplete.
func (s *Session) drainReader() error {
	for {
		node, _, err := s.reader.Next()
		if err == ErrIncomplete {
			return nil
		}
		if err == ErrEndOfStream {
			return nil
		}
		if err != nil {
			if isFatal(err) {
				return err
			}
			s.config.Logger.Error("dispatch error: %v", err)
			continue
		}
		if err := s.handleNode(node); err != nil {
			// LoginError isn't in isFatal's set (a decode/argument error
			// inside a single dispatch must not tear down the session) but
			// a failed or expired login still ends the connection.
			if _, ok := err.(*LoginError); ok || isFatal(err) {
				return err
			}
			s.config.Logger.Error("handler error: %v", err)
		}
	}
}

func (s *Session) maybeKeepAlive() {
	s.mu.Lock()
	state := s.state
	last := s.lastKeepAlive
	s.mu.Unlock()
	if state != StateOnline {
		return
	}
	if time.Since(last) < s.config.KeepAliveInterval {
		return
	}
	s.mu.Lock()
	s.lastKeepAlive = time.Now()
	s.mu.Unlock()
	_ = s.sendRaw(&Node{Name: "presence", Attributes: map[string]string{"type": "active"}})
}

// disconnect closes the socket and forces Disconnected, recording err (if
// any) for blocked register_and_wait callers.
func (s *Session) disconnect(err error) error {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.setState(StateDisconnected)
	s.loopErr = err
	s.idCounter = 0
	conn := s.conn
	s.conn = nil
	s.cipher = nil
	disconnected := s.disconnected
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if disconnected != nil {
		close(disconnected)
	}
	return nil
}

// Disconnect closes the session from the caller's side.
func (s *Session) Disconnect() error {
	return s.disconnect(nil)
}

func (s *Session) writeRaw(data []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return 0, ErrNotConnected
	}
	conn.SetWriteDeadline(time.Now().Add(s.config.ConnTimeout))
	n, err := conn.Write(data)
	if err != nil {
		return n, newConnectionError("write", err)
	}
	return n, nil
}

// sendRaw encodes n and writes it as a frame, encrypting it if a cipher
// is installed. The encrypted frame's flag nibble always reflects
// whether encryption was applied, except the inline challenge response:
// its frame is always marked unencrypted even though its payload is
// already cipher output, so it is exempted here by name.
func (s *Session) sendRaw(n *Node) error {
	s.mu.Lock()
	cipher := s.cipher
	s.mu.Unlock()

	if n.Name == "response" {
		cipher = nil
	}

	frame, err := s.writer.EncodeFrame(n, cipher)
	if err != nil {
		return err
	}
	_, err = s.writeRaw(frame)
	return err
}

// nextMessageID returns a monotonically increasing id, reset on
// disconnect.
func (s *Session) nextMessageID() string {
	s.mu.Lock()
	s.idCounter++
	counter := s.idCounter
	s.mu.Unlock()
	return fmt.Sprintf("%s-%d-%d", idPrefix, time.Now().Unix(), counter)
}

// registerAndWait registers cbs, blocks until one latches, the context is
// cancelled, or the session disconnects, then unregisters all of them.
// This is the synchronous RPC primitive request/response operations build
// on.
func (s *Session) registerAndWait(ctx context.Context, cbs ...*callback) (interface{}, error) {
	for _, cb := range cbs {
		s.callbacks.register(cb.name, cb)
	}
	defer func() {
		for _, cb := range cbs {
			s.callbacks.unregister(cb.name, cb)
		}
	}()

	return s.awaitCallbacks(ctx, cbs...)
}

// awaitCallbacks blocks on whichever of cbs' latches, ctx's cancellation,
// or the session's disconnect signal fires first. The callback count is
// small and dynamic (one per registerAndWait call), so reflect.Select
// stands in for a fixed-arity select statement here.
func (s *Session) awaitCallbacks(ctx context.Context, cbs ...*callback) (interface{}, error) {
	s.mu.Lock()
	disconnected := s.disconnected
	s.mu.Unlock()

	cases := make([]reflect.SelectCase, 0, len(cbs)+2)
	for _, cb := range cbs {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(cb.done)})
	}
	ctxIdx := len(cases)
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})
	disconnectIdx := len(cases)
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(disconnected)})

	chosen, _, _ := reflect.Select(cases)

	switch {
	case chosen < len(cbs):
		cb := cbs[chosen]
		cb.mu.Lock()
		r := cb.result
		cb.mu.Unlock()
		return r.Value, r.Err
	case chosen == ctxIdx:
		return nil, ctx.Err()
	case chosen == disconnectIdx:
		for _, cb := range cbs {
			select {
			case <-cb.done:
				cb.mu.Lock()
				r := cb.result
				cb.mu.Unlock()
				return r.Value, r.Err
			default:
			}
		}
		s.mu.Lock()
		err := s.loopErr
		s.mu.Unlock()
		if err == nil {
			err = ErrNotConnected
		}
		return nil, err
	}
	return nil, ErrNotConnected
}
