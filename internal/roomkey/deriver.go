package roomkey

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// keyInfo is the fixed HKDF context string. Changing it invalidates
// every stored ciphertext, so it is versioned.
const keyInfo = "backchannel room key v1"

// MinMasterKeyLen is the shortest master key accepted, in bytes.
const MinMasterKeyLen = 16

var (
	ErrNoMasterKeys  = errors.New("at least one master key is required")
	ErrMasterKeySize = errors.New("master keys must be at least 16 bytes")

	// ErrNoMatchingKey is returned when no subkey in the keyset opens a
	// ciphertext: either the blob is corrupted or it was encrypted under
	// a master key that has been rotated out of the configuration.
	ErrNoMatchingKey = errors.New("no configured key opens this ciphertext")

	ErrCiphertextTooShort = errors.New("ciphertext shorter than nonce")
)

// Deriver computes per-room symmetric keys from a set of master keys.
// The first master key is the primary: new ciphertext is always sealed
// under it. The remaining keys exist only so that older ciphertext
// survives rotation. No per-room key material is ever persisted.
type Deriver struct {
	masters [][]byte
}

// NewDeriver validates the master keys and returns a deriver. Order
// matters: masters[0] is the primary.
func NewDeriver(masters [][]byte) (*Deriver, error) {
	if len(masters) == 0 {
		return nil, ErrNoMasterKeys
	}
	for _, master := range masters {
		if len(master) < MinMasterKeyLen {
			return nil, ErrMasterKeySize
		}
	}
	return &Deriver{masters: masters}, nil
}

// DeriveKeyset derives one subkey per master for the given room name
// via HKDF-SHA256 with the room name as salt. The result is
// deterministic: the same room name and master keys always yield the
// same keyset.
func (d *Deriver) DeriveKeyset(roomName string) (*Keyset, error) {
	aeads := make([]cipher.AEAD, 0, len(d.masters))
	for _, master := range d.masters {
		subkey := make([]byte, chacha20poly1305.KeySize)
		reader := hkdf.New(sha256.New, master, []byte(roomName), []byte(keyInfo))
		if _, err := io.ReadFull(reader, subkey); err != nil {
			return nil, fmt.Errorf("failed to derive room key: %w", err)
		}
		aead, err := chacha20poly1305.NewX(subkey)
		if err != nil {
			return nil, fmt.Errorf("failed to build room cipher: %w", err)
		}
		aeads = append(aeads, aead)
	}
	return &Keyset{aeads: aeads}, nil
}

// Keyset is an ordered set of room ciphers, primary first. Seal always
// uses the primary; Open tries every cipher in order so that messages
// encrypted before a rotation still decrypt.
type Keyset struct {
	aeads []cipher.AEAD
}

// Seal encrypts plaintext under the primary key. The random nonce is
// prepended to the returned blob.
func (k *Keyset) Seal(plaintext []byte) ([]byte, error) {
	primary := k.aeads[0]
	nonce := make([]byte, primary.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return primary.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a blob produced by Seal, trying each subkey in order.
// The first key whose authentication tag verifies wins.
func (k *Keyset) Open(ciphertext []byte) ([]byte, error) {
	for _, aead := range k.aeads {
		if len(ciphertext) < aead.NonceSize() {
			return nil, ErrCiphertextTooShort
		}
		nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
		// A non-nil destination keeps empty plaintext round-tripping to
		// an empty slice rather than nil.
		plaintext, err := aead.Open(make([]byte, 0), nonce, sealed, nil)
		if err == nil {
			return plaintext, nil
		}
	}
	return nil, ErrNoMatchingKey
}

// ParseMasterKeys decodes a comma-separated list of base64-encoded
// master keys, primary first. This is the configuration wire format.
func ParseMasterKeys(encoded string) ([][]byte, error) {
	if strings.TrimSpace(encoded) == "" {
		return nil, ErrNoMasterKeys
	}

	parts := strings.Split(encoded, ",")
	masters := make([][]byte, 0, len(parts))
	for i, part := range parts {
		key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("failed to decode master key %d: %w", i, err)
		}
		masters = append(masters, key)
	}
	return masters, nil
}
