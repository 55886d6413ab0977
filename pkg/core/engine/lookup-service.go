package engine

import (
	"context"

	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/bsv-blockchain/go-sdk/overlay/lookup"
)

// LookupService indexes admitted outputs for a topic so they can be answered
// via Lookup. The engine calls the OutputAdded/OutputSpent/OutputDeleted/
// OutputBlockHeightUpdated hooks as the UTXO graph changes; a lookup service
// implementation is free to ignore topics or fields it doesn't index.
type LookupService interface {
	// OutputAdded is invoked when a topic manager admits a new UTXO.
	OutputAdded(ctx context.Context, outpoint *overlay.Outpoint, topic string, beef []byte) error

	// OutputSpent is invoked when a previously-admitted UTXO is spent.
	OutputSpent(ctx context.Context, outpoint *overlay.Outpoint, topic string, beef []byte) error

	// OutputDeleted is invoked after deleteUTXODeep removes a leaf output
	// from a topic's graph. The lookup service must stop referencing it.
	OutputDeleted(ctx context.Context, outpoint *overlay.Outpoint, topic string) error

	// OutputBlockHeightUpdated is invoked after a merkle proof confirms the
	// block position of an output already indexed by this service.
	OutputBlockHeightUpdated(ctx context.Context, outpoint *overlay.Outpoint, blockHeight uint32, blockIndex uint64) error

	// Lookup answers a query against this service's index.
	Lookup(ctx context.Context, question *lookup.LookupQuestion) (*lookup.LookupAnswer, error)

	GetDocumentation() string
	GetMetaData() *overlay.MetaData
}
