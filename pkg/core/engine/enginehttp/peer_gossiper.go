// Package enginehttp holds the HTTP-facing adapters the engine uses to talk
// to other overlay nodes, as opposed to the HTTP surface the engine is served
// behind (that lives in pkg/server).
package enginehttp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultGossipTimeout bounds a single peer POST before it is abandoned.
const DefaultGossipTimeout = 10 * time.Second

// PeerGossiper re-submits admitted BEEF to the overlay peers that advertise
// the topics it was admitted under. One instance is shared across all
// Submit calls on an Engine.
type PeerGossiper struct {
	client *resty.Client
}

// NewPeerGossiper builds a gossiper with the given per-request timeout. A
// non-positive timeout falls back to DefaultGossipTimeout.
func NewPeerGossiper(timeout time.Duration) *PeerGossiper {
	if timeout <= 0 {
		timeout = DefaultGossipTimeout
	}
	return &PeerGossiper{client: resty.New().SetTimeout(timeout)}
}

// GossipFailure reports a single peer that rejected or failed to receive
// the fan-out POST. Gossip never aborts on these; it collects and returns
// them so the caller can log without surfacing them to the submitter.
type GossipFailure struct {
	Domain string
	Err    error
}

func (f *GossipFailure) Error() string {
	return fmt.Sprintf("gossip to %s: %v", f.Domain, f.Err)
}

// Gossip fans beef out to every domain key of domainToTopics, POSTing to
// {domain}/submit with the domain's topic set carried in X-Topics as a JSON
// array of strings, matching the submission endpoint semantics that peers
// expose. Every domain is attempted; failures are collected, not short
// circuited.
func (g *PeerGossiper) Gossip(ctx context.Context, beef []byte, domainToTopics map[string][]string) []*GossipFailure {
	var failures []*GossipFailure
	for domain, topics := range domainToTopics {
		topicsJSON, err := json.Marshal(topics)
		if err != nil {
			failures = append(failures, &GossipFailure{Domain: domain, Err: err})
			continue
		}
		resp, err := g.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/octet-stream").
			SetHeader("X-Topics", string(topicsJSON)).
			SetBody(beef).
			Post(domain + "/submit")
		if err != nil {
			failures = append(failures, &GossipFailure{Domain: domain, Err: err})
		} else if resp.IsError() {
			failures = append(failures, &GossipFailure{Domain: domain, Err: fmt.Errorf("status %s", resp.Status())})
		}
	}
	return failures
}
