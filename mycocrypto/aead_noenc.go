//go:build noenc

package mycocrypto

// Benchmark mode: no encryption, no padding blocks, no shuffling. Exists
// only to measure tree throughput independent of AES cost. Must never ship
// in a real deployment.

// Disabled reports whether the no-encryption benchmark mode is compiled
// in. Server1 gates padding, shuffling and the dummy crypto calls on it as
// one unit.
const Disabled = true

// Encrypt returns the zero-padded plaintext verbatim.
func Encrypt(key, msg []byte, mode Mode) ([]byte, error) {
	return PadMessage(msg, mode.paddedLen())
}

// Decrypt returns the input unchanged.
func Decrypt(key, ct []byte) ([]byte, error) {
	out := make([]byte, len(ct))
	copy(out, ct)
	return out, nil
}
