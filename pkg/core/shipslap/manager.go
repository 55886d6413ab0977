package shipslap

import (
	"context"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/bsv-blockchain/go-sdk/transaction"
)

// TopicManager admits outputs carrying a well-formed SHIP or SLAP
// advertisement record for the given protocol. It needs no previous-coin
// context: an advertisement output never spends a prior advertisement it
// depends on for admissibility.
type TopicManager struct {
	protocol string
	topic    string
}

// NewSHIPTopicManager returns the tm_ship topic manager.
func NewSHIPTopicManager() *TopicManager {
	return &TopicManager{protocol: ProtocolSHIP, topic: TopicSHIP}
}

// NewSLAPTopicManager returns the tm_slap topic manager.
func NewSLAPTopicManager() *TopicManager {
	return &TopicManager{protocol: ProtocolSLAP, topic: TopicSLAP}
}

func (m *TopicManager) IdentifyAdmissableOutputs(ctx context.Context, beef []byte, previousCoins map[uint32][]byte) (overlay.AdmittanceInstructions, error) {
	tx, err := transaction.NewTransactionFromBEEF(beef)
	if err != nil {
		return overlay.AdmittanceInstructions{}, fmt.Errorf("shipslap: parse beef: %w", err)
	}

	var admit []uint32
	for i, out := range tx.Outputs {
		rec, err := decodeRecord(out.LockingScript)
		if err != nil {
			continue
		}
		if rec.protocol == m.protocol {
			admit = append(admit, uint32(i))
		}
	}
	return overlay.AdmittanceInstructions{OutputsToAdmit: admit}, nil
}

// IdentifyNeededInputs reports no dependencies: advertisement admissibility
// never needs a previously-admitted coin to evaluate.
func (m *TopicManager) IdentifyNeededInputs(ctx context.Context, beef []byte) ([]*overlay.Outpoint, error) {
	return nil, nil
}

func (m *TopicManager) GetDocumentation() string {
	switch m.protocol {
	case ProtocolSHIP:
		return "Admits outputs advertising that a domain hosts a topic manager for a given topic (SHIP: Service Host Interconnect Protocol)."
	case ProtocolSLAP:
		return "Admits outputs advertising that a domain hosts a lookup service (SLAP: Service Lookup Availability Protocol)."
	default:
		return ""
	}
}

func (m *TopicManager) GetMetaData() *overlay.MetaData {
	return &overlay.MetaData{Description: m.GetDocumentation()}
}
