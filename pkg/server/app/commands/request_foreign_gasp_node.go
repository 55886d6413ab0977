package commands

import (
	"context"
	"fmt"
	"net/http"

	"github.com/4chain-ag/go-overlay-services/pkg/core/gasp/core"
	"github.com/4chain-ag/go-overlay-services/pkg/server/app/jsonutil"
	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/overlay"
)

// RequestForeignGASPNodeProvider defines the contract that must be fulfilled to
// serve a requestForeignGASPNode request from a syncing peer.
type RequestForeignGASPNodeProvider interface {
	ProvideForeignGASPNode(ctx context.Context, graphID, outpoint *overlay.Outpoint, topic string) (*core.GASPNode, error)
}

// RequestForeignGASPNodeHandler orchestrates the requestForeignGASPNode flow.
type RequestForeignGASPNodeHandler struct {
	provider RequestForeignGASPNodeProvider
}

// RequestForeignGASPNodeHandlerPayload models the incoming request body, in the
// shape OverlayGASPRemote sends: GraphID is encoded as "<txid>.<outputIndex>",
// and the requested outpoint is given as TxID (hex) plus OutputIndex.
type RequestForeignGASPNodeHandlerPayload struct {
	GraphID     string `json:"graphID"`
	TxID        string `json:"txid"`
	OutputIndex uint32 `json:"outputIndex"`
}

// Handle processes the HTTP request and writes the appropriate response.
func (h *RequestForeignGASPNodeHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, ErrMethodNotAllowed.Error(), http.StatusMethodNotAllowed)
		return
	}

	topics := r.Header["X-Bsv-Topic"]
	if len(topics) == 0 {
		http.Error(w, "missing 'x-bsv-topic' header", http.StatusBadRequest)
		return
	}

	var payload RequestForeignGASPNodeHandlerPayload
	if err := jsonutil.DecodeRequestBody(r, &payload); err != nil {
		http.Error(w, ErrInvalidRequestBody.Error(), http.StatusBadRequest)
		return
	}

	graphID, err := overlay.NewOutpointFromString(payload.GraphID)
	if err != nil {
		http.Error(w, "invalid graphID: "+err.Error(), http.StatusBadRequest)
		return
	}
	txid, err := chainhash.NewHashFromHex(payload.TxID)
	if err != nil {
		http.Error(w, "invalid txid: "+err.Error(), http.StatusBadRequest)
		return
	}
	outpoint := &overlay.Outpoint{Txid: *txid, OutputIndex: payload.OutputIndex}

	node, err := h.provider.ProvideForeignGASPNode(r.Context(), graphID, outpoint, topics[0])
	if err != nil {
		jsonutil.SendHTTPInternalServerErrorTextResponse(w)
		return
	}

	jsonutil.SendHTTPResponse(w, http.StatusOK, node)
}

// NewRequestForeignGASPNodeHandler creates a new handler instance. If the provided
// argument is nil, it returns an error.
func NewRequestForeignGASPNodeHandler(provider RequestForeignGASPNodeProvider) (*RequestForeignGASPNodeHandler, error) {
	if provider == nil {
		return nil, fmt.Errorf("request foreign gasp node provider is nil")
	}
	return &RequestForeignGASPNodeHandler{provider: provider}, nil
}
