package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/4chain-ag/go-overlay-services/pkg/core/gasp/core"
	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/bsv-blockchain/go-sdk/util"
)

// inflightNodeRequest collects concurrent RequestNode callers asking for the
// same outpoint onto a single HTTP round trip.
type inflightNodeRequest struct {
	wg     *sync.WaitGroup
	result *core.GASPNode
	err    error
}

// nodeRequest is the wire shape of a requestForeignGASPNode call.
type nodeRequest struct {
	GraphID     *overlay.Outpoint `json:"graphID"`
	Txid        string            `json:"txid"`
	OutputIndex uint32            `json:"outputIndex"`
	Metadata    bool              `json:"metadata"`
}

// defaultRemoteConcurrency bounds outbound requests to a peer when an
// OverlayGASPRemote is built as a struct literal rather than via the
// constructor.
const defaultRemoteConcurrency = 8

// OverlayGASPRemote implements core.GASPRemote over HTTP against a single
// peer's overlay endpoint, for a single topic.
type OverlayGASPRemote struct {
	EndpointUrl string
	Topic       string
	HttpClient  util.HTTPClient

	inflightMap    sync.Map      // outpoint string -> *inflightNodeRequest
	networkLimiter chan struct{} // bounds concurrent outbound requests to this peer
	limiterOnce    sync.Once
}

// NewOverlayGASPRemote constructs a peer adapter. maxConcurrency <= 0 falls
// back to a default of 8 concurrent requests.
func NewOverlayGASPRemote(endpointUrl, topic string, httpClient util.HTTPClient, maxConcurrency int) *OverlayGASPRemote {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultRemoteConcurrency
	}
	return &OverlayGASPRemote{
		EndpointUrl:    endpointUrl,
		Topic:          topic,
		HttpClient:     httpClient,
		networkLimiter: make(chan struct{}, maxConcurrency),
	}
}

func (r *OverlayGASPRemote) limiter() chan struct{} {
	r.limiterOnce.Do(func() {
		if r.networkLimiter == nil {
			r.networkLimiter = make(chan struct{}, defaultRemoteConcurrency)
		}
	})
	return r.networkLimiter
}

// GetInitialResponse asks the peer for its known UTXOs since the request's
// Since cursor.
func (r *OverlayGASPRemote) GetInitialResponse(ctx context.Context, request *core.GASPInitialRequest) (*core.GASPInitialResponse, error) {
	requestJSON, err := json.Marshal(request)
	if err != nil {
		slog.Error("failed to encode GASP initial request", "endpoint", r.EndpointUrl, "topic", r.Topic, "error", err)
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.EndpointUrl+"/requestSyncResponse", bytes.NewReader(requestJSON))
	if err != nil {
		slog.Error("failed to create HTTP request for GASP initial response", "endpoint", r.EndpointUrl, "topic", r.Topic, "error", err)
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-BSV-Topic", r.Topic)

	resp, err := r.HttpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, httpErrorFromResponse(resp)
	}
	result := &core.GASPInitialResponse{}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetInitialReplay is the responder's half of the initial handshake; a
// remote peer adapter only ever issues requests, so this side is unused.
func (r *OverlayGASPRemote) GetInitialReplay(ctx context.Context, response *core.GASPInitialResponse) (*core.GASPInitialReply, error) {
	return nil, errors.New("not-implemented")
}

// RequestNode fetches a single node of the peer's dependency graph,
// deduplicating concurrent requests for the same outpoint.
func (r *OverlayGASPRemote) RequestNode(ctx context.Context, graphID *overlay.Outpoint, outpoint *overlay.Outpoint, metadata bool) (*core.GASPNode, error) {
	outpointStr := outpoint.String()
	var wg sync.WaitGroup
	wg.Add(1)
	defer wg.Done()

	if inflight, loaded := r.inflightMap.LoadOrStore(outpointStr, &inflightNodeRequest{wg: &wg}); loaded {
		req := inflight.(*inflightNodeRequest)
		req.wg.Wait()
		return req.result, req.err
	} else {
		req := inflight.(*inflightNodeRequest)
		req.result, req.err = r.doNodeRequest(ctx, graphID, outpoint, metadata)
		r.inflightMap.Delete(outpointStr)
		return req.result, req.err
	}
}

func (r *OverlayGASPRemote) doNodeRequest(ctx context.Context, graphID *overlay.Outpoint, outpoint *overlay.Outpoint, metadata bool) (*core.GASPNode, error) {
	select {
	case r.limiter() <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-r.limiter() }()

	j, err := json.Marshal(&nodeRequest{
		GraphID:     graphID,
		Txid:        outpoint.Txid.String(),
		OutputIndex: outpoint.OutputIndex,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.EndpointUrl+"/requestForeignGASPNode", bytes.NewReader(j))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-BSV-Topic", r.Topic)

	resp, err := r.HttpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		var graphIDStr string
		if graphID != nil {
			graphIDStr = graphID.String()
		}
		body, _ := io.ReadAll(resp.Body)
		slog.Error("RequestNode failed",
			"status", resp.StatusCode,
			"body", string(body),
			"graphID", graphIDStr,
			"outpoint", outpoint.String(),
			"metadata", metadata,
			"endpoint", r.EndpointUrl,
			"topic", r.Topic)
		return nil, &util.HTTPError{StatusCode: resp.StatusCode, Err: fmt.Errorf("server error: %s", string(body))}
	}
	result := &core.GASPNode{}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return nil, err
	}
	return result, nil
}

// SubmitNode is the responder's half of node submission; unused by a
// remote peer adapter, which only requests nodes from peers.
func (r *OverlayGASPRemote) SubmitNode(ctx context.Context, node *core.GASPNode) (*core.GASPNodeResponse, error) {
	return nil, errors.New("not-implemented")
}

func httpErrorFromResponse(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return &util.HTTPError{StatusCode: resp.StatusCode, Err: readErr}
	}
	return &util.HTTPError{StatusCode: resp.StatusCode, Err: fmt.Errorf("server error: %s", string(body))}
}

var _ core.GASPRemote = (*OverlayGASPRemote)(nil)
