package commands

import (
	"context"
	"fmt"
	"net/http"

	"github.com/4chain-ag/go-overlay-services/pkg/server/app/jsonutil"
)

// SyncAdvertisementsProvider defines the contract that must be fulfilled
// to send a synchronize advertisements request to the overlay engine for further processing.
type SyncAdvertisementsProvider interface {
	SyncAdvertisements(ctx context.Context) error
}

// SyncAdvertismentsHandlerResponse defines the response body content that
// will be sent in JSON format after successfully processing the handler logic.
type SyncAdvertismentsHandlerResponse struct {
	Status string `json:"status"`
}

// SyncAdvertismentsHandler orchestrates the processing flow of a synchronize advertisements
// request and applies any necessary logic before invoking the engine.
type SyncAdvertismentsHandler struct {
	provider SyncAdvertisementsProvider
}

// Handle triggers the engine's advertisement sync and reports the outcome.
func (s *SyncAdvertismentsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, ErrMethodNotAllowed.Error(), http.StatusMethodNotAllowed)
		return
	}

	if err := s.provider.SyncAdvertisements(r.Context()); err != nil {
		jsonutil.SendHTTPResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	jsonutil.SendHTTPResponse(w, http.StatusOK, SyncAdvertismentsHandlerResponse{Status: "ok"})
}

// NewSyncAdvertismentsHandler returns an instance of a SyncAdvertismentsHandler, utilizing
// an implementation of SyncAdvertisementsProvider. If the provided argument is nil, it returns an error.
func NewSyncAdvertismentsHandler(provider SyncAdvertisementsProvider) (*SyncAdvertismentsHandler, error) {
	if provider == nil {
		return nil, fmt.Errorf("sync advertisements provider is nil")
	}
	return &SyncAdvertismentsHandler{provider: provider}, nil
}
