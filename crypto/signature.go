package crypto

// Signature is a tuple containing signature body and reference to signing identity.
type Signature struct {
	// Body of the signature.
	Body []byte
	// Signer identity who produced the signature, a public key.
	Signer []byte
}

// Signer encapsulates asymmetric cryptographic schema together with private
// key management, separating it out of the MST processing logic.
type Signer interface {
	// ID returns Signer identity like public key.
	ID() []byte
	// Sign produces a Signature over the given data with internally managed identity.
	Sign([]byte) (Signature, error)
	// Verify performs cryptographic Signature verification of the given data.
	Verify([]byte, Signature) error
}
