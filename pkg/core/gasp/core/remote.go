package core

import (
	"context"

	"github.com/bsv-blockchain/go-sdk/overlay"
)

// GASPRemote is the transport-side half of a sync session: everything the
// generic GASP core needs to ask of the other party, regardless of whether
// that party is reached over HTTP, in-process, or something else entirely.
// OverlayGASPRemote in the engine package is the HTTP implementation used
// for peer-to-peer topic sync.
type GASPRemote interface {
	// GetInitialResponse sends our initial request and returns the set of
	// outpoints the remote knows about for the topic being synced.
	GetInitialResponse(ctx context.Context, request *GASPInitialRequest) (*GASPInitialResponse, error)
	// GetInitialReplay tells the remote which of its outpoints we already
	// have, in exchange for the ones it wants from us.
	GetInitialReplay(ctx context.Context, response *GASPInitialResponse) (*GASPInitialReply, error)
	// RequestNode fetches a single graph node (transaction + its proof, if
	// one exists) from the remote by outpoint.
	RequestNode(ctx context.Context, graphID *overlay.Outpoint, outpoint *overlay.Outpoint, metadata bool) (*GASPNode, error)
	// SubmitNode pushes a node we resolved locally up to the remote.
	SubmitNode(ctx context.Context, node *GASPNode) (*GASPNodeResponse, error)
}
