//go:build !noenc

package mycocrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/rpcpool/myco/dtypes"
)

// Disabled reports whether the no-encryption benchmark mode is compiled
// in. Server1 gates padding, shuffling and the dummy crypto calls on it as
// one unit.
const Disabled = false

// Encrypt pads msg per mode and seals it with AES-128-GCM under a fresh
// random nonce. The returned ciphertext is nonce || ciphertext || tag.
func Encrypt(key, msg []byte, mode Mode) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	nonce := make([]byte, dtypes.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	padded, err := PadMessage(msg, mode.paddedLen())
	if err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, padded, nil), nil
}

// Decrypt splits off the nonce and opens the AES-128-GCM ciphertext.
// Failure to authenticate returns ErrDecryptionFailed, the expected branch
// when a block belongs to someone else.
func Decrypt(key, ct []byte) ([]byte, error) {
	if len(ct) < dtypes.NonceSize {
		return nil, ErrDecryptionFailed
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := aead.Open(nil, ct[:dtypes.NonceSize], ct[dtypes.NonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != dtypes.KeySize {
		return nil, fmt.Errorf("invalid key length %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
