package imwire

// Encryption is the pluggable cipher a Session uses once a challenge
// stanza has been answered. Key derivation and the wire-level MAC
// convention are implementation details of the concrete type; imwire
// itself only ever calls Encrypt and Decrypt. The default implementation
// lives in the crypto subpackage; tests substitute a no-op or
// deliberately-failing stub.
type Encryption interface {
	// Encrypt seals plain and, unless prependMAC is true, appends the
	// authentication tag to the ciphertext rather than placing it first.
	// Every frame this protocol actually sends — ordinary stanzas
	// (writer.go's EncodeFrame) and the handshake response alike
	// (handlers.go's handleChallenge) — uses the appended form
	// (prependMAC=false); the prepended form exists because spec.md's
	// abstract encrypt(bytes, prepend_mac_bool) interface names it, not
	// because this wire format produces it.
	Encrypt(plain []byte, prependMAC bool) ([]byte, error)

	// Decrypt opens a frame payload produced by the peer's Encrypt and
	// returns the plaintext. It returns an error if the MAC does not
	// verify.
	Decrypt(cipher []byte) ([]byte, error)
}
