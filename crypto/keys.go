// Package crypto defines the key, signature and signer abstractions used
// across MST storage and propagation. Concrete schemes live in subpackages.
package crypto

type PubKey interface {
	VerifySignature(msg []byte, sig []byte) bool
	Bytes() []byte
	Equals([]byte) bool
	Type() string
}

type PrivKey interface {
	Sign([]byte) ([]byte, error)
	PubKey() PubKey
	Equals([]byte) bool
	Type() string
}
