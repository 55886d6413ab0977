package app

import (
	"fmt"

	"github.com/4chain-ag/go-overlay-services/pkg/core/engine"
	"github.com/4chain-ag/go-overlay-services/pkg/server/app/commands"
	"github.com/4chain-ag/go-overlay-services/pkg/server/app/queries"
)

// Commands aggregate all the supported commands by the overlay API.
type Commands struct {
	SubmitTransactionHandler      *commands.SubmitTransactionHandler
	LookupQuestionHandler         *commands.LookupHandler
	SyncAdvertismentsHandler      *commands.SyncAdvertismentsHandler
	StartGASPSyncHandler          *commands.StartGASPSyncHandler
	RequestSyncResponseHandler    *commands.RequestSyncResponseHandler
	RequestForeignGASPNodeHandler *commands.RequestForeignGASPNodeHandler
}

// Queries aggregate all the supported queries by the overlay API.
type Queries struct {
	TopicManagerDocumentationHandler  *queries.TopicManagerDocumentationHandler
	TopicManagerListHandler           *queries.TopicManagerListHandler
	LookupServiceDocumentationHandler *queries.LookupDocumentationHandler
	LookupServicesListHandler         *queries.LookupListHandler
}

// Application aggregates queries and commands supported by the overlay API.
type Application struct {
	Commands *Commands
	Queries  *Queries
}

// New returns an instance of an Application with initialized commands and queries,
// utilizing an implementation of engine.OverlayEngineProvider. If the provided
// argument is nil, it returns an error.
func New(provider engine.OverlayEngineProvider) (*Application, error) {
	if provider == nil {
		return nil, fmt.Errorf("overlay engine provider is nil")
	}

	submitHandler, err := commands.NewSubmitTransactionCommandHandler(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create submit transaction handler: %w", err)
	}

	lookupHandler, err := commands.NewLookupHandler(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup question handler: %w", err)
	}

	syncAdsHandler, err := commands.NewSyncAdvertismentsHandler(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync advertisements handler: %w", err)
	}

	startGASPSyncHandler, err := commands.NewStartGASPSyncHandler(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create start gasp sync handler: %w", err)
	}

	requestSyncResponseHandler, err := commands.NewRequestSyncResponseHandler(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create request sync response handler: %w", err)
	}

	requestForeignGASPNodeHandler, err := commands.NewRequestForeignGASPNodeHandler(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create request foreign gasp node handler: %w", err)
	}

	lookupDocHandler, err := queries.NewLookupDocumentationHandler(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup documentation handler: %w", err)
	}

	lookupListHandler, err := queries.NewLookupListHandler(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup list handler: %w", err)
	}

	topicManagerListHandler, err := queries.NewTopicManagerListHandler(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create topic manager list handler: %w", err)
	}

	return &Application{
		Commands: &Commands{
			SubmitTransactionHandler:      submitHandler,
			LookupQuestionHandler:         lookupHandler,
			SyncAdvertismentsHandler:      syncAdsHandler,
			StartGASPSyncHandler:          startGASPSyncHandler,
			RequestSyncResponseHandler:    requestSyncResponseHandler,
			RequestForeignGASPNodeHandler: requestForeignGASPNodeHandler,
		},
		Queries: &Queries{
			TopicManagerDocumentationHandler:  queries.NewTopicManagerDocumentationHandler(provider),
			TopicManagerListHandler:           topicManagerListHandler,
			LookupServiceDocumentationHandler: lookupDocHandler,
			LookupServicesListHandler:         lookupListHandler,
		},
	}, nil
}
