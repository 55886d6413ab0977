package core

import (
	"context"

	"github.com/bsv-blockchain/go-sdk/overlay"
)

// GASPStorage is the engine-agnostic persistence contract the generic GASP
// protocol core drives a graph sync through. An overlay-specific adapter
// binds this to a topic-scoped UTXO graph. AppendToGraph's spentBy is the
// outpoint of the already-known node that consumes tx as an input, letting
// the adapter attach tx as that node's ancestor in the temporary graph; nil
// marks tx as the graph's root.
type GASPStorage interface {
	FindKnownUTXOs(ctx context.Context, since uint64) ([]*overlay.Outpoint, error)
	HydrateGASPNode(ctx context.Context, graphID *overlay.Outpoint, outpoint *overlay.Outpoint, metadata bool) (*GASPNode, error)
	FindNeededInputs(ctx context.Context, tx *GASPNode) (*GASPNodeResponse, error)
	AppendToGraph(ctx context.Context, tx *GASPNode, spentBy *overlay.Outpoint) error
	ValidateGraphAnchor(ctx context.Context, graphID *overlay.Outpoint) error
	DiscardGraph(ctx context.Context, graphID *overlay.Outpoint) error
	FinalizeGraph(ctx context.Context, graphID *overlay.Outpoint) error
}
