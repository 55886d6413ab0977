package commands

import (
	"context"
	"fmt"
	"net/http"

	"github.com/4chain-ag/go-overlay-services/pkg/server/app/jsonutil"
)

// StartGASPSyncProvider defines the contract that must be fulfilled
// to trigger a GASP sync round against configured peer topics.
type StartGASPSyncProvider interface {
	StartGASPSync(ctx context.Context) error
}

// StartGASPSyncHandlerResponse defines the response body content that
// will be sent in JSON format after successfully processing the handler logic.
type StartGASPSyncHandlerResponse struct {
	Status string `json:"status"`
}

// StartGASPSyncHandler orchestrates the processing flow of a GASP sync request.
type StartGASPSyncHandler struct {
	provider StartGASPSyncProvider
}

// Handle triggers the engine's GASP sync round and reports the outcome.
func (h *StartGASPSyncHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, ErrMethodNotAllowed.Error(), http.StatusMethodNotAllowed)
		return
	}

	if err := h.provider.StartGASPSync(r.Context()); err != nil {
		jsonutil.SendHTTPResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	jsonutil.SendHTTPResponse(w, http.StatusOK, StartGASPSyncHandlerResponse{Status: "ok"})
}

// NewStartGASPSyncHandler returns an instance of a StartGASPSyncHandler, utilizing
// an implementation of StartGASPSyncProvider. If the provided argument is nil, it returns an error.
func NewStartGASPSyncHandler(provider StartGASPSyncProvider) (*StartGASPSyncHandler, error) {
	if provider == nil {
		return nil, fmt.Errorf("start gasp sync provider is nil")
	}
	return &StartGASPSyncHandler{provider: provider}, nil
}
