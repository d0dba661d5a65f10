// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/poly1305"
)

// Layout of a decoded db.key file.
const (
	keyNonceSize  = 24
	keyMACSize    = 16
	keySize       = 32
	keySaltSize   = 16
	keyFileLength = keyNonceSize + keyMACSize + keySize + keySaltSize
)

// ErrWrongPassphrase is returned when the sealed key fails to
// authenticate under the derived secret.
var ErrWrongPassphrase = errors.New("storage: database key did not unlock (wrong passphrase?)")

// KeyParams are the Argon2id cost parameters used to derive the secret
// that seals the database key.
type KeyParams struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultKeyParams match the conductor's "moderate" Argon2id limits.
var DefaultKeyParams = KeyParams{Time: 3, MemoryKiB: 256 * 1024, Threads: 1}

// DatabaseKey is the SQLCipher key and salt shared by a conductor's
// encrypted databases.
type DatabaseKey struct {
	Key  [keySize]byte
	Salt [keySaltSize]byte
}

// UnlockDatabaseKey reads the db.key file at path and opens it with
// passphrase.
func UnlockDatabaseKey(path string, passphrase []byte) (*DatabaseKey, error) {
	return UnlockDatabaseKeyWith(path, passphrase, DefaultKeyParams)
}

// UnlockDatabaseKeyWith is UnlockDatabaseKey with explicit cost
// parameters.
func UnlockDatabaseKeyWith(path string, passphrase []byte, params KeyParams) (*DatabaseKey, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading database key: %w", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(string(text)))
	if err != nil {
		return nil, fmt.Errorf("database key %s: %w", path, err)
	}
	if len(raw) != keyFileLength {
		return nil, fmt.Errorf("database key %s: %d bytes, want %d", path, len(raw), keyFileLength)
	}

	nonce := raw[:keyNonceSize]
	var mac [keyMACSize]byte
	copy(mac[:], raw[keyNonceSize:keyNonceSize+keyMACSize])
	sealed := raw[keyNonceSize+keyMACSize : keyNonceSize+keyMACSize+keySize]

	key := &DatabaseKey{}
	copy(key.Salt[:], raw[keyNonceSize+keyMACSize+keySize:])

	secret := argon2.IDKey(passphrase, key.Salt[:], params.Time, params.MemoryKiB, params.Threads, keySize)
	plain, err := openSecretbox(sealed, &mac, nonce, secret)
	if err != nil {
		return nil, fmt.Errorf("database key %s: %w", path, err)
	}
	copy(key.Key[:], plain)
	return key, nil
}

// openSecretbox opens an XChaCha20-Poly1305 secretbox in the libsodium
// construction: the first 32 bytes of keystream are the one-time
// Poly1305 key, the message is XORed with the stream that follows, and
// the tag covers the ciphertext.
func openSecretbox(sealed []byte, mac *[keyMACSize]byte, nonce, secret []byte) ([]byte, error) {
	stream, err := chacha20.NewUnauthenticatedCipher(secret, nonce)
	if err != nil {
		return nil, err
	}
	var macKey [32]byte
	stream.XORKeyStream(macKey[:], macKey[:])
	if !poly1305.Verify(mac, sealed, &macKey) {
		return nil, ErrWrongPassphrase
	}
	plain := make([]byte, len(sealed))
	stream.XORKeyStream(plain, sealed)
	return plain, nil
}

// sealSecretbox is the inverse of openSecretbox.
func sealSecretbox(plain []byte, nonce, secret []byte) (sealed []byte, mac [keyMACSize]byte, err error) {
	stream, err := chacha20.NewUnauthenticatedCipher(secret, nonce)
	if err != nil {
		return nil, mac, err
	}
	var macKey [32]byte
	stream.XORKeyStream(macKey[:], macKey[:])
	sealed = make([]byte, len(plain))
	stream.XORKeyStream(sealed, plain)
	poly1305.Sum(&mac, sealed, &macKey)
	return sealed, mac, nil
}

// SealDatabaseKey produces db.key file contents for key under
// passphrase, the inverse of UnlockDatabaseKeyWith.
func SealDatabaseKey(key *DatabaseKey, passphrase []byte, nonce [keyNonceSize]byte, params KeyParams) (string, error) {
	secret := argon2.IDKey(passphrase, key.Salt[:], params.Time, params.MemoryKiB, params.Threads, keySize)
	sealed, mac, err := sealSecretbox(key.Key[:], nonce[:], secret)
	if err != nil {
		return "", err
	}
	raw := make([]byte, 0, keyFileLength)
	raw = append(raw, nonce[:]...)
	raw = append(raw, mac[:]...)
	raw = append(raw, sealed...)
	raw = append(raw, key.Salt[:]...)
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// KeyPragmas renders the SQLCipher statements that open a conductor
// database with key.
func KeyPragmas(key *DatabaseKey) string {
	return fmt.Sprintf(`PRAGMA key = "x'%X'";
PRAGMA cipher_salt = "x'%X'";
PRAGMA cipher_compatibility = 4;
PRAGMA cipher_plaintext_header_size = 32;
`, key.Key[:], key.Salt[:])
}

// Equal compares keys in constant time.
func (k *DatabaseKey) Equal(other *DatabaseKey) bool {
	return subtle.ConstantTimeCompare(k.Key[:], other.Key[:]) == 1 &&
		subtle.ConstantTimeCompare(k.Salt[:], other.Salt[:]) == 1
}
