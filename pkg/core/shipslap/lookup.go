package shipslap

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/bsv-blockchain/go-sdk/overlay/lookup"
	"github.com/bsv-blockchain/go-sdk/transaction"
)

// entry is one indexed SHIP/SLAP advertisement: where it lives (outpoint +
// owning topic, so the engine's OutputSpent/OutputDeleted hooks can find
// and retire it) and the record it carries.
type entry struct {
	outpoint overlay.Outpoint
	topic    string
	beef     []byte
	rec      record
}

// LookupService indexes SHIP or SLAP advertisement outputs so peers can
// discover, by topic (ls_ship) or lookup-service name (ls_slap), which
// domains host them.
type LookupService struct {
	service string

	mu      sync.RWMutex
	entries map[string]*entry // keyed by outpoint.String()+topic
}

// NewSHIPLookupService returns the ls_ship lookup service.
func NewSHIPLookupService() *LookupService {
	return &LookupService{service: ServiceSHIP, entries: make(map[string]*entry)}
}

// NewSLAPLookupService returns the ls_slap lookup service.
func NewSLAPLookupService() *LookupService {
	return &LookupService{service: ServiceSLAP, entries: make(map[string]*entry)}
}

func entryKey(outpoint *overlay.Outpoint, topic string) string {
	return outpoint.String() + "|" + topic
}

func (l *LookupService) OutputAdded(ctx context.Context, outpoint *overlay.Outpoint, topic string, beef []byte) error {
	tx, err := transaction.NewTransactionFromBEEF(beef)
	if err != nil {
		return fmt.Errorf("shipslap lookup: parse beef: %w", err)
	}
	if int(outpoint.OutputIndex) >= len(tx.Outputs) {
		return fmt.Errorf("shipslap lookup: output index %d out of range", outpoint.OutputIndex)
	}
	rec, err := decodeRecord(tx.Outputs[outpoint.OutputIndex].LockingScript)
	if err != nil {
		// Not every output admitted into tm_ship/tm_slap need decode
		// cleanly here in principle, but in practice only admitted
		// advertisement outputs reach this hook.
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[entryKey(outpoint, topic)] = &entry{outpoint: *outpoint, topic: topic, beef: beef, rec: *rec}
	return nil
}

func (l *LookupService) OutputSpent(ctx context.Context, outpoint *overlay.Outpoint, topic string, beef []byte) error {
	return nil
}

func (l *LookupService) OutputDeleted(ctx context.Context, outpoint *overlay.Outpoint, topic string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, entryKey(outpoint, topic))
	return nil
}

func (l *LookupService) OutputBlockHeightUpdated(ctx context.Context, outpoint *overlay.Outpoint, blockHeight uint32, blockIndex uint64) error {
	return nil
}

// lookupQuery is the JSON shape accepted by both ls_ship and ls_slap: an
// optional topic/service filter and an optional domain filter. An absent
// query, or the legacy "findAll" string, returns every indexed record.
type lookupQuery struct {
	Topic   string `json:"topic,omitempty"`
	Service string `json:"service,omitempty"`
	Domain  string `json:"domain,omitempty"`
}

func (l *LookupService) Lookup(ctx context.Context, question *lookup.LookupQuestion) (*lookup.LookupAnswer, error) {
	if question.Service != l.service {
		return nil, fmt.Errorf("shipslap lookup: unsupported service %q", question.Service)
	}

	var q lookupQuery
	if len(question.Query) > 0 {
		var raw string
		if err := json.Unmarshal(question.Query, &raw); err == nil {
			if raw != "findAll" {
				return nil, fmt.Errorf("shipslap lookup: unrecognized query %q", raw)
			}
		} else if err := json.Unmarshal(question.Query, &q); err != nil {
			return nil, fmt.Errorf("shipslap lookup: invalid query: %w", err)
		}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	outputs := make([]*lookup.OutputListItem, 0, len(l.entries))
	for _, e := range l.entries {
		if q.Topic != "" && e.rec.topicOrService != q.Topic {
			continue
		}
		if q.Service != "" && e.rec.topicOrService != q.Service {
			continue
		}
		if q.Domain != "" && e.rec.domain != q.Domain {
			continue
		}
		outputs = append(outputs, &lookup.OutputListItem{Beef: e.beef, OutputIndex: e.outpoint.OutputIndex})
	}
	return &lookup.LookupAnswer{Type: lookup.AnswerTypeOutputList, Outputs: outputs}, nil
}

func (l *LookupService) GetDocumentation() string {
	switch l.service {
	case ServiceSHIP:
		return "Looks up which domains advertise hosting a topic manager for a given topic, via indexed SHIP outputs."
	case ServiceSLAP:
		return "Looks up which domains advertise hosting a lookup service, via indexed SLAP outputs."
	default:
		return ""
	}
}

func (l *LookupService) GetMetaData() *overlay.MetaData {
	return &overlay.MetaData{Description: l.GetDocumentation()}
}
