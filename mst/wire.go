package mst

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Arjentix/iroha/crypto"
)

// Wire form of a State for gossip exchange. Byte fields travel base64-encoded.

type wireTransaction struct {
	Payload []byte `json:"payload"`
}

type wireSignature struct {
	Body   []byte `json:"body"`
	Signer []byte `json:"signer"`
}

type wireBatchState struct {
	Txs        []wireTransaction `json:"txs"`
	Signatures []wireSignature   `json:"signatures"`
	CreatedAt  time.Time         `json:"created_at"`
}

type wireState struct {
	Batches []wireBatchState `json:"batches"`
}

// MarshalBinary serializes the state for transport.
func (s *State) MarshalBinary() ([]byte, error) {
	ws := wireState{Batches: make([]wireBatchState, 0, len(s.batches))}
	for _, bs := range s.batches {
		wbs := wireBatchState{
			Txs:        make([]wireTransaction, 0, len(bs.Batch.Txs)),
			Signatures: make([]wireSignature, 0, len(bs.Signatures)),
			CreatedAt:  bs.CreatedAt,
		}
		for _, tx := range bs.Batch.Txs {
			wbs.Txs = append(wbs.Txs, wireTransaction{Payload: tx.Payload})
		}
		for _, sig := range bs.Signatures {
			wbs.Signatures = append(wbs.Signatures, wireSignature{Body: sig.Body, Signer: sig.Signer})
		}
		ws.Batches = append(ws.Batches, wbs)
	}
	return json.Marshal(ws)
}

// UnmarshalBinary deserializes transported bytes into s, which must be an
// empty state constructed with the receiver's Completer. Malformed entries
// make the whole payload invalid.
func (s *State) UnmarshalBinary(data []byte) error {
	var ws wireState
	if err := json.Unmarshal(data, &ws); err != nil {
		return fmt.Errorf("unmarshalling mst state: %w", err)
	}

	for _, wbs := range ws.Batches {
		bs, err := wbs.toBatchState()
		if err != nil {
			return err
		}
		s.batches[string(bs.Batch.Hash())] = bs
	}
	return nil
}

func (wbs *wireBatchState) toBatchState() (*BatchState, error) {
	if len(wbs.Txs) == 0 {
		return nil, errors.New("batch without transactions")
	}
	if len(wbs.Signatures) == 0 {
		return nil, errors.New("batch without signatures")
	}

	batch := &Batch{Txs: make([]*Transaction, 0, len(wbs.Txs))}
	for _, wtx := range wbs.Txs {
		batch.Txs = append(batch.Txs, &Transaction{Payload: wtx.Payload})
	}

	bs := &BatchState{Batch: batch, CreatedAt: wbs.CreatedAt}
	for _, wsig := range wbs.Signatures {
		if len(wsig.Signer) == 0 {
			return nil, errors.New("signature without signer")
		}
		bs.AddSignature(crypto.Signature{Body: wsig.Body, Signer: wsig.Signer})
	}
	return bs, nil
}
