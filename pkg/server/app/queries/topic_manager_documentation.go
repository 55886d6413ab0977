package queries

import (
	"net/http"

	"github.com/4chain-ag/go-overlay-services/pkg/server/app/jsonutil"
)

// TopicManagerDocumentationHandlerResponse defines the response body content that
// will be sent in JSON format after successfully processing the handler logic.
type TopicManagerDocumentationHandlerResponse struct {
	Documentation string `json:"documentation"`
}

// TopicManagerDocumentationProvider defines the contract that must be fulfilled
// to send a topic manager documentation request to the overlay engine for further processing.
type TopicManagerDocumentationProvider interface {
	GetDocumentationForTopicManager(topicManager string) (string, error)
}

// TopicManagerDocumentationHandler orchestrates the processing flow of a topic manager
// documentation request, including query parameter validation and invoking the engine.
// It returns the requested topic manager documentation in Markdown format.
type TopicManagerDocumentationHandler struct {
	provider TopicManagerDocumentationProvider
}

// Handle extracts the topicManager query parameter, invokes the engine provider,
// and returns the Markdown-formatted documentation string as JSON with the appropriate status code.
func (t *TopicManagerDocumentationHandler) Handle(w http.ResponseWriter, r *http.Request) {
	topicManager := r.URL.Query().Get("topicManager")
	if topicManager == "" {
		http.Error(w, "topicManager query parameter is required", http.StatusBadRequest)
		return
	}

	documentation, err := t.provider.GetDocumentationForTopicManager(topicManager)
	if err != nil {
		jsonutil.SendHTTPInternalServerErrorTextResponse(w)
		return
	}

	jsonutil.SendHTTPResponse(w, http.StatusOK, TopicManagerDocumentationHandlerResponse{
		Documentation: documentation,
	})
}

// NewTopicManagerDocumentationHandler returns an instance of a TopicManagerDocumentationHandler, utilizing
// an implementation of TopicManagerDocumentationProvider. If the provided argument is nil, it panics.
func NewTopicManagerDocumentationHandler(provider TopicManagerDocumentationProvider) *TopicManagerDocumentationHandler {
	if provider == nil {
		panic("topic manager documentation provider is nil")
	}
	return &TopicManagerDocumentationHandler{provider: provider}
}
