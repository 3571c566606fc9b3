package gossip

import (
	"context"
	"fmt"

	"github.com/Arjentix/iroha/crypto/ed25519"
	"github.com/Arjentix/iroha/mst"
)

type sigVerifier struct{}

// NewSignatureVerifier returns a StateVerifier checking that every signature
// in the state is a valid ed25519 signature over its batch hash.
func NewSignatureVerifier() StateVerifier {
	return sigVerifier{}
}

func (sigVerifier) Verify(_ context.Context, state *mst.State) error {
	for _, bs := range state.Batches() {
		hash := bs.Batch.Hash()
		for _, sig := range bs.Signatures {
			pubK, err := ed25519.BytesToPubKey(sig.Signer)
			if err != nil {
				return fmt.Errorf("bad signer key: %w", err)
			}
			if !pubK.VerifySignature(hash, sig.Body) {
				return fmt.Errorf("invalid signature over batch %x", hash)
			}
		}
	}
	return nil
}
