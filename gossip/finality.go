package gossip

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/Arjentix/iroha/mst"
)

// Finality distributes commit feedback: once the ordering service reports
// transactions as committed, their hashes are announced on a pubsub topic and
// every node purges the matching batches from MST tracking.
type Finality struct {
	topicID string

	pubsub *pubsub.PubSub
	topic  *pubsub.Topic
	sub    *pubsub.Subscription

	proc *mst.Processor

	log *slog.Logger
}

type finalityMsg struct {
	TxHashes [][]byte `json:"tx_hashes"`
}

func NewFinality(networkID string, proc *mst.Processor, ps *pubsub.PubSub) *Finality {
	return &Finality{
		topicID: networkID + "/mst-finality",
		pubsub:  ps,
		proc:    proc,
	}
}

func (f *Finality) Start() (err error) {
	if f.log == nil {
		f.log = slog.Default()
	}

	f.topic, err = f.pubsub.Join(f.topicID)
	if err != nil {
		return err
	}

	// pubsub forces us to create at least one subscription
	f.sub, err = f.topic.Subscribe()
	if err != nil {
		return err
	}
	go func() {
		for {
			_, err := f.sub.Next(context.Background())
			if err != nil {
				return
			}
		}
	}()

	return f.pubsub.RegisterTopicValidator(
		f.topicID,
		f.deliverFinality,
		pubsub.WithValidatorTimeout(time.Second),
	)
}

func (f *Finality) Stop() (err error) {
	f.sub.Cancel()
	err = errors.Join(err, f.topic.Close())
	err = errors.Join(err, f.pubsub.UnregisterTopicValidator(f.topicID))
	return err
}

// Announce publishes the hashes of freshly committed transactions.
func (f *Finality) Announce(ctx context.Context, txHashes [][]byte) error {
	data, err := json.Marshal(finalityMsg{TxHashes: txHashes})
	if err != nil {
		return err
	}
	return f.topic.Publish(ctx, data)
}

// deliverFinality delivers a finality announcement and reports its validity status.
func (f *Finality) deliverFinality(ctx context.Context, _ peer.ID, msg *pubsub.Message) pubsub.ValidationResult {
	var fin finalityMsg
	if err := json.Unmarshal(msg.Data, &fin); err != nil {
		f.log.ErrorContext(ctx, "unmarshalling finality announcement", "err", err)
		return pubsub.ValidationReject
	}
	if len(fin.TxHashes) == 0 {
		return pubsub.ValidationReject
	}

	for _, hash := range fin.TxHashes {
		if len(hash) == 0 {
			return pubsub.ValidationReject
		}
		f.proc.Finalize(hash)
	}
	return pubsub.ValidationAccept
}
