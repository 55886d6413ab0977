package engine_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/4chain-ag/go-overlay-services/pkg/core/engine"
	"github.com/stretchr/testify/require"
)

func TestEngine_StartGASPSync_ShouldReturnError_WhenSyncConfigurationIsNil(t *testing.T) {
	// given:
	sut := &engine.Engine{SyncConfiguration: nil}

	// when:
	err := sut.StartGASPSync(context.Background())

	// then:
	require.Error(t, err)
}

func TestEngine_StartGASPSync_ShouldReturnNil_WhenNoTopicsConfigured(t *testing.T) {
	// given:
	sut := &engine.Engine{SyncConfiguration: map[string]engine.SyncConfiguration{}}

	// when:
	err := sut.StartGASPSync(context.Background())

	// then:
	require.NoError(t, err)
}

func TestEngine_StartGASPSync_ShouldReturnNil_WhenTopicHasNoPeers(t *testing.T) {
	// given:
	sut := &engine.Engine{
		SyncConfiguration: map[string]engine.SyncConfiguration{
			"test-topic": {Type: engine.SyncConfigurationNone},
		},
	}

	// when:
	err := sut.StartGASPSync(context.Background())

	// then:
	require.NoError(t, err)
}

func TestEngine_StartGASPSync_ShouldSwallowPeerFailures(t *testing.T) {
	// given: a peer that always errors, so the initial GASP handshake fails.
	// Per-peer sync failures are logged, not returned.
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer peer.Close()

	sut := &engine.Engine{
		HostingURL: "http://localhost",
		SyncConfiguration: map[string]engine.SyncConfiguration{
			"test-topic": {Type: engine.SyncConfigurationPeers, Peers: []string{peer.URL}},
		},
	}

	// when:
	err := sut.StartGASPSync(context.Background())

	// then:
	require.NoError(t, err)
}

func TestEngine_StartGASPSync_ShouldSkipHostingURLPeer(t *testing.T) {
	// given: the engine's own hosting URL is listed as a peer, which must be
	// filtered out before any sync attempt.
	sut := &engine.Engine{
		HostingURL: "http://localhost",
		SyncConfiguration: map[string]engine.SyncConfiguration{
			"test-topic": {Type: engine.SyncConfigurationPeers, Peers: []string{"http://localhost"}},
		},
	}

	// when:
	err := sut.StartGASPSync(context.Background())

	// then:
	require.NoError(t, err)
}
