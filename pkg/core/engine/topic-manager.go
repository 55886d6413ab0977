package engine

import (
	"context"

	"github.com/bsv-blockchain/go-sdk/overlay"
)

// TopicManager decides which outputs of a submitted transaction are
// admissible into its topic, given the raw BEEF and the previously-admitted
// coins it spends (keyed by input index). previousCoins only contains
// entries for inputs this topic already admitted; a nil entry at an index
// means that input isn't one of this topic's existing UTXOs.
type TopicManager interface {
	IdentifyAdmissableOutputs(ctx context.Context, beef []byte, previousCoins map[uint32][]byte) (overlay.AdmittanceInstructions, error)

	// IdentifyNeededInputs reports which inputs of beef this topic manager
	// needs fetched before it can evaluate admissibility, used by GASP sync
	// to walk backward through a foreign node's dependency graph.
	IdentifyNeededInputs(ctx context.Context, beef []byte) ([]*overlay.Outpoint, error)

	GetDocumentation() string
	GetMetaData() *overlay.MetaData
}
