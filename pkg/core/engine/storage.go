package engine

import (
	"context"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/overlay"
)

// ErrNotFound is returned by Storage lookups that find no matching record.
var ErrNotFound = fmt.Errorf("not-found")

// Storage persists the topic-scoped UTXO graph and the applied-transaction
// dedup ledger behind the admission pipeline. Implementations must treat the
// (txid, topic) insert and the read-modify-write of an output's ConsumedBy
// set as their atomic units; no cross-call transaction is assumed by the engine.
type Storage interface {
	// InsertOutput adds a newly admitted output to storage.
	InsertOutput(ctx context.Context, utxo *Output) error

	// FindOutput finds a single output, optionally scoped to a topic and
	// spent state, optionally including its BEEF envelope.
	FindOutput(ctx context.Context, outpoint *overlay.Outpoint, topic *string, spent *bool, includeBEEF bool) (*Output, error)

	// FindOutputs finds a batch of outputs in one round trip.
	FindOutputs(ctx context.Context, outpoints []*overlay.Outpoint, topic *string, spent *bool, includeBEEF bool) ([]*Output, error)

	// FindOutputsForTransaction finds every output of a given transaction.
	FindOutputsForTransaction(ctx context.Context, txid *chainhash.Hash, includeBEEF bool) ([]*Output, error)

	// FindUTXOsForTopic finds current UTXOs admitted into a topic at or
	// after the given block height, used to answer GASP initial requests.
	FindUTXOsForTopic(ctx context.Context, topic string, since uint64, includeBEEF bool) ([]*Output, error)

	// DeleteOutput removes a single output from a topic's graph.
	DeleteOutput(ctx context.Context, outpoint *overlay.Outpoint, topic string) error

	// DeleteOutputs removes a batch of outputs from a topic's graph.
	DeleteOutputs(ctx context.Context, outpoints []*overlay.Outpoint, topic string) error

	// MarkUTXOAsSpent flags a single output as spent within a topic.
	MarkUTXOAsSpent(ctx context.Context, outpoint *overlay.Outpoint, topic string) error

	// MarkUTXOsAsSpent flags a batch of outputs as spent within a topic.
	MarkUTXOsAsSpent(ctx context.Context, outpoints []*overlay.Outpoint, topic string) error

	// UpdateConsumedBy overwrites the set of outputs that consume the given output.
	UpdateConsumedBy(ctx context.Context, outpoint *overlay.Outpoint, topic string, consumedBy []*overlay.Outpoint) error

	// UpdateTransactionBEEF replaces the stored BEEF envelope for a transaction,
	// used when a fresh merkle proof lets the engine drop ancestor history.
	UpdateTransactionBEEF(ctx context.Context, txid *chainhash.Hash, beef []byte) error

	// UpdateOutputBlockHeight records the confirmed block position of an output.
	UpdateOutputBlockHeight(ctx context.Context, outpoint *overlay.Outpoint, topic string, blockHeight uint32, blockIndex uint64, ancillaryBeef []byte) error

	// InsertAppliedTransaction records that a (txid, topic) pair has been processed.
	InsertAppliedTransaction(ctx context.Context, tx *overlay.AppliedTransaction) error

	// DoesAppliedTransactionExist reports whether a (txid, topic) pair was already processed.
	DoesAppliedTransactionExist(ctx context.Context, tx *overlay.AppliedTransaction) (bool, error)

	// Close releases any resources held by the storage implementation.
	Close() error
}
