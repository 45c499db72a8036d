// Package imwire implements a client for a proprietary instant-messaging
// wire protocol: a tokenised, length-prefixed binary framing of an
// XMPP-style stanza tree, layered on a plain TCP socket and protected by a
// per-connection keyed stream cipher installed after a challenge/response
// handshake.
//
// # Overview
//
// The package is split into a passive data model (Node), a binary codec
// (Reader/Writer) and a session state machine (Session) that sequences the
// handshake, drives keep-alive, and dispatches inbound stanzas to built-in
// handlers and caller-registered callbacks.
//
// # Basic Usage
//
//	sess := imwire.NewSession(&imwire.Config{
//	    Server: "c.whatsapp.net",
//	    Port:   443,
//	    Number: "15551234567",
//	    Secret: imwire.StaticSecret(secretBytes),
//	}, nil)
//	defer sess.Disconnect()
//
//	if err := sess.Connect(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//	id, err := sess.SendText("15557654321@s.whatsapp.net", "hello")
//
// # Connection String
//
// Alternatively, configuration can be parsed from a connection string:
//
//	cfg, err := imwire.ParseConnectionString("wa://15551234567@c.whatsapp.net:443")
//
// # Authentication
//
// Authentication is WAUTH-2: the client sends an auth stanza naming the
// account number, the server replies with a challenge nonce, the client
// derives per-direction cipher keys from the nonce and its shared secret
// and answers with an encrypted response. A cached auth blob from a
// previous session can be supplied to skip the challenge round trip.
//
// # Configuration
//
// The Config structure covers the handshake and runtime knobs:
//
//   - Server connection (host, port, connect and read timeouts)
//   - Identity (account number, shared secret, cached auth blob)
//   - Feature advertisement and keep-alive interval
//   - Logging
//
// # Encryption
//
// The Reader and Writer consume the wire cipher through the Encryption
// interface and accept any implementation; this package never performs
// key derivation or symmetric encryption directly. A Session always
// derives its cipher with the crypto subpackage; it has no option for
// installing a different Encryption.
package imwire
