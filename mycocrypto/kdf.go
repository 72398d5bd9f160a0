// Package mycocrypto provides the key derivation, PRF, and authenticated
// encryption primitives of the Myco protocol: HKDF-SHA256 with a fixed
// protocol salt, and AES-128-GCM with a random nonce prepended to the
// ciphertext.
package mycocrypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/rpcpool/myco/dtypes"
)

var (
	// ErrEncryptionFailed is fatal and propagated.
	ErrEncryptionFailed = errors.New("encryption failed")

	// ErrDecryptionFailed is NOT fatal: it is the normal outcome of trying
	// a block that does not belong to the caller's key, and read walks
	// continue past it.
	ErrDecryptionFailed = errors.New("decryption failed")
)

const hkdfSaltInput = "MC-OSAM-Salt"

var hkdfSalt = sha256.Sum256([]byte(hkdfSaltInput))

// Kdf derives a 16-byte key from key and label via HKDF-SHA256 with the
// fixed protocol salt. Deterministic.
func Kdf(key []byte, label string) ([]byte, error) {
	out := make([]byte, 32)
	r := hkdf.New(sha256.New, key, hkdfSalt[:], []byte(label))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf expansion failed: %w", err)
	}
	return out[:dtypes.KeySize], nil
}

// Prf evaluates the protocol PRF: the same HKDF construction with input as
// the info string, producing exactly 32 pseudorandom bytes. Deterministic.
func Prf(key, input []byte) ([]byte, error) {
	out := make([]byte, 32)
	r := hkdf.New(sha256.New, key, hkdfSalt[:], input)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf expansion failed: %w", err)
	}
	return out, nil
}

// Mode selects the pre-encryption padded length.
type Mode int

const (
	// Single pads to MessageSize: the writer's inner message encryption.
	Single Mode = iota
	// Double pads to InnerBlockSize: Server1's outer block encryption.
	Double
)

func (m Mode) paddedLen() int {
	if m == Double {
		return dtypes.InnerBlockSize
	}
	return dtypes.MessageSize
}

// PadMessage zero-extends msg to targetLen. Messages already at targetLen
// are returned as a copy; longer messages are a contract violation.
func PadMessage(msg []byte, targetLen int) ([]byte, error) {
	if len(msg) > targetLen {
		return nil, fmt.Errorf("%w: message of %d bytes exceeds padded length %d", ErrEncryptionFailed, len(msg), targetLen)
	}
	padded := make([]byte, targetLen)
	copy(padded, msg)
	return padded, nil
}

// TrimZeros drops the longest trailing run of zero bytes. Padding is zero
// extension, so a legitimate plaintext with trailing zeros loses them; this
// is a known trade-off of the format, kept for wire compatibility rather
// than switching to an in-payload length prefix.
func TrimZeros(buf []byte) []byte {
	end := len(buf)
	for end > 0 && buf[end-1] == 0 {
		end--
	}
	out := make([]byte, end)
	copy(out, buf[:end])
	return out
}
