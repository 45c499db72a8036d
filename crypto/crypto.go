// Package crypto provides the default Encryption implementation imwire
// installs once a challenge stanza's nonce arrives. Any keyed stream
// cipher with a derive/encrypt/decrypt shape can stand in behind
// imwire.Encryption; this package is one concrete choice, built on
// golang.org/x/crypto's HKDF and ChaCha20-Poly1305 implementations.
package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	keyLen   = chacha20poly1305.KeySize
	tagLen   = chacha20poly1305.Overhead
	nonceLen = chacha20poly1305.NonceSize
)

// Cipher is a per-session keyed stream cipher with independent read and
// write directions, each with its own monotonic counter used to build the
// AEAD nonce. It implements imwire.Encryption without importing the root
// package; the session wires it in by interface, not by package coupling.
type Cipher struct {
	mu sync.Mutex

	writeKey [keyLen]byte
	readKey  [keyLen]byte
	writeCtr uint64
	readCtr  uint64
}

// Derive expands a shared secret and a server-supplied nonce into four
// subkeys, two per direction, via HKDF. Only the first two are used by
// this AEAD-based implementation; the remaining expanded bytes are
// discarded, matching a derivation that historically also keyed a
// separate MAC function.
func Derive(secret, nonce []byte) (*Cipher, error) {
	reader := hkdf.New(sha256.New, secret, nonce, []byte("imwire session keys"))

	expanded := make([]byte, 4*keyLen)
	if _, err := io.ReadFull(reader, expanded); err != nil {
		return nil, fmt.Errorf("crypto: key derivation failed: %w", err)
	}

	c := &Cipher{}
	copy(c.writeKey[:], expanded[0:keyLen])
	copy(c.readKey[:], expanded[keyLen:2*keyLen])
	return c, nil
}

// Encrypt seals plain under the write key and the current write counter,
// advancing it afterward. When prependMAC is true the authentication tag
// is placed before the ciphertext instead of after it; imwire always
// calls this with prependMAC=false (the appended form), for ordinary
// stanzas and the handshake response alike, so the prepended form only
// exists to satisfy the interface's documented shape.
func (c *Cipher) Encrypt(plain []byte, prependMAC bool) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	aead, err := chacha20poly1305.New(c.writeKey[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher init failed: %w", err)
	}

	nonce := counterNonce(c.writeCtr)
	c.writeCtr++

	sealed := aead.Seal(nil, nonce, plain, nil)
	ciphertext := sealed[:len(sealed)-tagLen]
	tag := sealed[len(sealed)-tagLen:]

	if !prependMAC {
		return sealed, nil
	}

	out := make([]byte, 0, len(sealed))
	out = append(out, tag...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decrypt opens cipher under the read key and the current read counter,
// advancing it afterward. It accepts both tag placements Encrypt can
// produce, trying the appended form first since that is the only form
// imwire itself ever emits; the prepended-form fallback exists for a
// peer encryption implementation that chooses the other convention.
func (c *Cipher) Decrypt(cipher []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(cipher) < tagLen {
		return nil, fmt.Errorf("crypto: ciphertext shorter than mac")
	}

	aead, err := chacha20poly1305.New(c.readKey[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher init failed: %w", err)
	}

	nonce := counterNonce(c.readCtr)

	if plain, err := aead.Open(nil, nonce, cipher, nil); err == nil {
		c.readCtr++
		return plain, nil
	}

	prependForm := append(append([]byte{}, cipher[tagLen:]...), cipher[:tagLen]...)
	plain, err := aead.Open(nil, nonce, prependForm, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: mac verification failed: %w", err)
	}
	c.readCtr++
	return plain, nil
}

// counterNonce packs a 64-bit counter into the low bytes of a
// chacha20poly1305 nonce, zero-extending the high bytes.
func counterNonce(counter uint64) []byte {
	nonce := make([]byte, nonceLen)
	binary.BigEndian.PutUint64(nonce[nonceLen-8:], counter)
	return nonce
}
