package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/4chain-ag/go-overlay-services/pkg/core/gasp/core"
	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/bsv-blockchain/go-sdk/spv"
	"github.com/bsv-blockchain/go-sdk/transaction"
)

// ErrGraphFull is returned by AppendToGraph once a GASP sync's temporary
// graph has grown past its configured node limit, guarding against a
// malicious or misbehaving peer flooding memory with bogus ancestors.
var ErrGraphFull = errors.New("graph is full")

// submissionState deduplicates concurrent FinalizeGraph submissions of the
// same transaction across goroutines racing to complete overlapping graphs.
type submissionState struct {
	wg  sync.WaitGroup
	err error
}

// GraphNode is a transaction node in a GASP sync's temporary, in-memory
// ancestor graph. Children holds the ancestor nodes whose outputs this node
// spends, walked recursively by computeOrderedBEEFsForGraph.
type GraphNode struct {
	core.GASPNode
	Children sync.Map // map[overlay.Outpoint]*GraphNode, keyed by each child's outpoint
	Parent   *GraphNode
}

// OverlayGASPStorage adapts a single topic's slice of the engine's UTXO
// graph to the generic core.GASPStorage contract, so GASP sync can request,
// validate, and finalize foreign transaction graphs against it.
type OverlayGASPStorage struct {
	Topic             string
	Engine            *Engine
	MaxNodesInGraph   *int
	tempGraphNodeRefs sync.Map // map[overlay.Outpoint]*GraphNode
	nodeCount         int
	nodeCountMu       sync.Mutex
	submissionTracker sync.Map // map[chainhash.Hash]*submissionState
}

// NewOverlayGASPStorage constructs a topic-scoped GASPStorage adapter over engine.
// A nil maxNodesInGraph leaves the in-memory graph unbounded.
func NewOverlayGASPStorage(topic string, engine *Engine, maxNodesInGraph *int) *OverlayGASPStorage {
	return &OverlayGASPStorage{
		Topic:           topic,
		Engine:          engine,
		MaxNodesInGraph: maxNodesInGraph,
	}
}

// FindKnownUTXOs answers a peer's initial sync request with the topic's
// current UTXOs admitted at or after since.
func (s *OverlayGASPStorage) FindKnownUTXOs(ctx context.Context, since uint64) ([]*overlay.Outpoint, error) {
	if utxos, err := s.Engine.Storage.FindUTXOsForTopic(ctx, s.Topic, since, false); err != nil {
		return nil, err
	} else {
		outpoints := make([]*overlay.Outpoint, len(utxos))
		for i, utxo := range utxos {
			outpoints[i] = &utxo.Outpoint
		}
		return outpoints, nil
	}
}

// HydrateGASPNode builds the wire representation of a locally-known output
// for a requesting peer, including its merkle proof if confirmed.
func (s *OverlayGASPStorage) HydrateGASPNode(ctx context.Context, graphID *overlay.Outpoint, outpoint *overlay.Outpoint, metadata bool) (*core.GASPNode, error) {
	if output, err := s.Engine.Storage.FindOutput(ctx, outpoint, nil, nil, true); err != nil {
		return nil, err
	} else if output == nil || output.Beef == nil {
		return nil, ErrMissingInput
	} else if tx, err := transaction.NewTransactionFromBEEF(output.Beef); err != nil {
		return nil, err
	} else {
		node := &core.GASPNode{
			GraphID:       graphID,
			OutputIndex:   outpoint.OutputIndex,
			RawTx:         tx.Hex(),
			AncillaryBeef: output.AncillaryBeef,
		}
		if tx.MerklePath != nil {
			proof := tx.MerklePath.Hex()
			node.Proof = &proof
		}
		return node, nil
	}
}

// FindNeededInputs reports which ancestor inputs of gaspTx this topic still
// needs fetched before it can decide admissibility, deferring to the topic
// manager's own IdentifyNeededInputs once a merkle proof lets the node be
// evaluated directly.
func (s *OverlayGASPStorage) FindNeededInputs(ctx context.Context, gaspTx *core.GASPNode) (*core.GASPNodeResponse, error) {
	tx, err := transaction.NewTransactionFromHex(gaspTx.RawTx)
	if err != nil {
		return nil, err
	}

	if gaspTx.Proof == nil || *gaspTx.Proof == "" {
		response := &core.GASPNodeResponse{
			RequestedInputs: make(map[string]*core.GASPNodeResponseData, len(tx.Inputs)),
		}
		for _, input := range tx.Inputs {
			outpoint := &overlay.Outpoint{
				Txid:        *input.SourceTXID,
				OutputIndex: input.SourceTxOutIndex,
			}
			response.RequestedInputs[outpoint.String()] = &core.GASPNodeResponseData{Metadata: false}
		}
		return s.stripAlreadyKnownInputs(ctx, response)
	}

	if tx.MerklePath, err = transaction.NewMerklePathFromHex(*gaspTx.Proof); err != nil {
		return nil, err
	}

	beef, err := transaction.NewBeefFromTransaction(tx)
	if err != nil {
		return nil, err
	}
	if len(gaspTx.AncillaryBeef) > 0 {
		if err := beef.MergeBeefBytes(gaspTx.AncillaryBeef); err != nil {
			return nil, err
		}
	}

	beefBytes, err := beef.AtomicBytes(tx.TxID())
	if err != nil {
		return nil, err
	}

	previousCoins, err := s.previousCoinsFor(ctx, tx)
	if err != nil {
		return nil, err
	}

	if admit, err := s.identifyAdmissableOutputs(ctx, beefBytes, previousCoins); err != nil {
		return nil, err
	} else if slices.Contains(admit.OutputsToAdmit, gaspTx.OutputIndex) {
		return nil, nil
	} else if manager, ok := s.Engine.Managers[s.Topic]; !ok {
		return nil, fmt.Errorf("no manager for topic (identify needed inputs): %s", s.Topic)
	} else if neededInputs, err := manager.IdentifyNeededInputs(ctx, beefBytes); err != nil {
		return nil, err
	} else {
		response := &core.GASPNodeResponse{
			RequestedInputs: make(map[string]*core.GASPNodeResponseData, len(neededInputs)),
		}
		for _, outpoint := range neededInputs {
			response.RequestedInputs[outpoint.String()] = &core.GASPNodeResponseData{Metadata: true}
		}
		return s.stripAlreadyKnownInputs(ctx, response)
	}
}

// previousCoinsFor looks up this topic's already-admitted coins spent by tx,
// keyed by input index, in the shape IdentifyAdmissableOutputs expects.
func (s *OverlayGASPStorage) previousCoinsFor(ctx context.Context, tx *transaction.Transaction) (map[uint32][]byte, error) {
	previousCoins := make(map[uint32][]byte, len(tx.Inputs))
	for vin, input := range tx.Inputs {
		outpoint := &overlay.Outpoint{
			Txid:        *input.SourceTXID,
			OutputIndex: input.SourceTxOutIndex,
		}
		if output, err := s.Engine.Storage.FindOutput(ctx, outpoint, &s.Topic, nil, true); err != nil {
			return nil, err
		} else if output != nil {
			previousCoins[uint32(vin)] = output.Beef
		}
	}
	return previousCoins, nil
}

func (s *OverlayGASPStorage) identifyAdmissableOutputs(ctx context.Context, beefBytes []byte, previousCoins map[uint32][]byte) (overlay.AdmittanceInstructions, error) {
	manager, ok := s.Engine.Managers[s.Topic]
	if !ok {
		return overlay.AdmittanceInstructions{}, fmt.Errorf("no manager for topic (identify admissable outputs): %s", s.Topic)
	}
	return manager.IdentifyAdmissableOutputs(ctx, beefBytes, previousCoins)
}

func (s *OverlayGASPStorage) stripAlreadyKnownInputs(ctx context.Context, response *core.GASPNodeResponse) (*core.GASPNodeResponse, error) {
	if response == nil {
		return nil, nil
	}
	for outpointStr := range response.RequestedInputs {
		outpoint, err := overlay.NewOutpointFromString(outpointStr)
		if err != nil {
			return nil, err
		}
		if found, err := s.Engine.Storage.FindOutput(ctx, outpoint, &s.Topic, nil, false); err != nil {
			return nil, err
		} else if found != nil {
			delete(response.RequestedInputs, outpointStr)
		}
	}
	if len(response.RequestedInputs) == 0 {
		return nil, nil
	}
	return response, nil
}

// AppendToGraph adds a node to the in-progress sync graph. spentBy, when
// non-nil, is the outpoint of the already-appended node that consumes tx;
// a nil spentBy marks tx as the graph's root.
func (s *OverlayGASPStorage) AppendToGraph(ctx context.Context, gaspTx *core.GASPNode, spentBy *overlay.Outpoint) error {
	s.nodeCountMu.Lock()
	if s.MaxNodesInGraph != nil && s.nodeCount >= *s.MaxNodesInGraph {
		s.nodeCountMu.Unlock()
		return ErrGraphFull
	}
	s.nodeCountMu.Unlock()

	tx, err := transaction.NewTransactionFromHex(gaspTx.RawTx)
	if err != nil {
		return err
	}
	txid := tx.TxID()
	if gaspTx.Proof != nil && *gaspTx.Proof != "" {
		if tx.MerklePath, err = transaction.NewMerklePathFromHex(*gaspTx.Proof); err != nil {
			slog.Error("failed to parse merkle path", "error", err)
			return err
		}
	}

	newNode := &GraphNode{GASPNode: *gaspTx}

	if spentBy == nil {
		if _, loaded := s.tempGraphNodeRefs.LoadOrStore(*gaspTx.GraphID, newNode); !loaded {
			s.incrementNodeCount()
		}
		return nil
	}

	parentRef, ok := s.tempGraphNodeRefs.Load(*spentBy)
	if !ok {
		return ErrMissingInput
	}
	parent := parentRef.(*GraphNode)
	newNode.Parent = parent

	nodeOutpoint := &overlay.Outpoint{Txid: *txid, OutputIndex: gaspTx.OutputIndex}
	parent.Children.Store(*nodeOutpoint, newNode)
	if _, loaded := s.tempGraphNodeRefs.LoadOrStore(*nodeOutpoint, newNode); !loaded {
		s.incrementNodeCount()
	}
	return nil
}

func (s *OverlayGASPStorage) incrementNodeCount() {
	s.nodeCountMu.Lock()
	s.nodeCount++
	s.nodeCountMu.Unlock()
}

// ValidateGraphAnchor replays every transaction of a finished sync's graph
// through this topic's admissibility rules, in dependency order, and
// confirms the root node itself ends up admitted.
func (s *OverlayGASPStorage) ValidateGraphAnchor(ctx context.Context, graphID *overlay.Outpoint) error {
	rootRef, ok := s.tempGraphNodeRefs.Load(*graphID)
	if !ok {
		return ErrMissingInput
	}
	rootBeef, err := s.getBEEFForNode(rootRef.(*GraphNode))
	if err != nil {
		return err
	}
	tx, err := transaction.NewTransactionFromBEEF(rootBeef)
	if err != nil {
		return err
	}
	if valid, err := spv.Verify(tx, s.Engine.ChainTracker, nil); err != nil {
		return err
	} else if !valid {
		return errors.New("graph anchor is not a valid transaction")
	}

	beefs, err := s.computeOrderedBEEFsForGraph(ctx, graphID)
	if err != nil {
		return err
	}

	coins := make(map[string]struct{})
	for _, beefBytes := range beefs {
		tx, err := transaction.NewTransactionFromBEEF(beefBytes)
		if err != nil {
			return err
		}
		previousCoins := make(map[uint32][]byte)
		for vin, input := range tx.Inputs {
			outpoint := &overlay.Outpoint{
				Txid:        *input.SourceTXID,
				OutputIndex: input.SourceTxOutIndex,
			}
			if _, ok := coins[outpoint.String()]; ok {
				previousCoins[uint32(vin)] = beefBytes
			}
		}
		admit, err := s.identifyAdmissableOutputs(ctx, beefBytes, previousCoins)
		if err != nil {
			return err
		}
		for _, vout := range admit.OutputsToAdmit {
			outpoint := &overlay.Outpoint{Txid: *tx.TxID(), OutputIndex: vout}
			coins[outpoint.String()] = struct{}{}
		}
	}

	if _, ok := coins[graphID.String()]; !ok {
		return errors.New("graph did not result in topical admittance of the root node, rejecting")
	}
	return nil
}

// DiscardGraph drops every node this sync added for graphID from the
// temporary store, used after a failed ValidateGraphAnchor.
func (s *OverlayGASPStorage) DiscardGraph(ctx context.Context, graphID *overlay.Outpoint) error {
	graphIDStr := graphID.String()
	toDelete := make([]overlay.Outpoint, 0)
	s.tempGraphNodeRefs.Range(func(key, value any) bool {
		if value.(*GraphNode).GraphID.String() == graphIDStr {
			toDelete = append(toDelete, key.(overlay.Outpoint))
		}
		return true
	})
	for _, outpoint := range toDelete {
		s.tempGraphNodeRefs.Delete(outpoint)
		s.nodeCountMu.Lock()
		s.nodeCount--
		s.nodeCountMu.Unlock()
	}
	return nil
}

// FinalizeGraph submits every transaction of a validated graph to the
// engine, ancestors first and the root last, deduplicating concurrent submissions
// of the same txid across overlapping graphs.
func (s *OverlayGASPStorage) FinalizeGraph(ctx context.Context, graphID *overlay.Outpoint) error {
	beefs, err := s.computeOrderedBEEFsForGraph(ctx, graphID)
	if err != nil {
		return err
	}
	for _, beefBytes := range beefs {
		_, tx, _, err := transaction.ParseBeef(beefBytes)
		if err != nil {
			return err
		}
		if tx == nil {
			return errors.New("no transaction in BEEF")
		}
		txid := *tx.TxID()

		newState := &submissionState{}
		newState.wg.Add(1)
		if existing, loaded := s.submissionTracker.LoadOrStore(txid, newState); loaded {
			state := existing.(*submissionState)
			state.wg.Wait()
			if state.err != nil {
				return state.err
			}
			continue
		}
		_, newState.err = s.Engine.Submit(ctx, overlay.TaggedBEEF{
			Topics: []string{s.Topic},
			Beef:   beefBytes,
		}, SubmitModeHistorical, nil)
		newState.wg.Done()
		if newState.err != nil {
			return newState.err
		}
		slog.Info(fmt.Sprintf("[GASP] transaction processed: %s", txid.String()))
	}
	return nil
}

// computeOrderedBEEFsForGraph walks a graph's nodes depth-first from its
// root, returning their BEEFs with ancestors ordered before descendants.
func (s *OverlayGASPStorage) computeOrderedBEEFsForGraph(ctx context.Context, graphID *overlay.Outpoint) ([][]byte, error) {
	beefs := make([][]byte, 0)
	var walk func(node *GraphNode) error
	walk = func(node *GraphNode) error {
		currentBeef, err := s.getBEEFForNode(node)
		if err != nil {
			return err
		}
		if slices.IndexFunc(beefs, func(beef []byte) bool { return bytes.Equal(beef, currentBeef) }) == -1 {
			beefs = append([][]byte{currentBeef}, beefs...)
		}
		var childErr error
		node.Children.Range(func(_, value any) bool {
			if err := walk(value.(*GraphNode)); err != nil {
				childErr = err
				return false
			}
			return true
		})
		return childErr
	}

	rootRef, ok := s.tempGraphNodeRefs.Load(*graphID)
	if !ok {
		return nil, errors.New("unable to find root node in graph for finalization")
	}
	if err := walk(rootRef.(*GraphNode)); err != nil {
		return nil, err
	}
	return beefs, nil
}

// getBEEFForNode hydrates a graph node's atomic BEEF, recursively attaching
// unproven ancestors still held only in the temporary graph.
func (s *OverlayGASPStorage) getBEEFForNode(node *GraphNode) ([]byte, error) {
	if (node.Proof == nil || *node.Proof == "") && len(node.AncillaryBeef) > 0 {
		return node.AncillaryBeef, nil
	}

	var hydrate func(node *GraphNode) (*transaction.Transaction, error)
	hydrate = func(node *GraphNode) (*transaction.Transaction, error) {
		tx, err := transaction.NewTransactionFromHex(node.RawTx)
		if err != nil {
			return nil, err
		}
		if node.Proof != nil && *node.Proof != "" {
			if tx.MerklePath, err = transaction.NewMerklePathFromHex(*node.Proof); err != nil {
				return nil, err
			}
			return tx, nil
		}
		for vin, input := range tx.Inputs {
			outpoint := &overlay.Outpoint{Txid: *input.SourceTXID, OutputIndex: input.SourceTxOutIndex}
			parentRef, ok := s.tempGraphNodeRefs.Load(*outpoint)
			if !ok {
				return nil, errors.New("required input node for unproven parent not found in temporary graph store")
			}
			if tx.Inputs[vin].SourceTransaction, err = hydrate(parentRef.(*GraphNode)); err != nil {
				return nil, err
			}
		}
		return tx, nil
	}

	tx, err := hydrate(node)
	if err != nil {
		return nil, err
	}
	beef, err := transaction.NewBeefFromTransaction(tx)
	if err != nil {
		return nil, err
	}
	if len(node.AncillaryBeef) > 0 {
		if err := beef.MergeBeefBytes(node.AncillaryBeef); err != nil {
			return nil, err
		}
	}
	return beef.AtomicBytes(tx.TxID())
}

var _ core.GASPStorage = (*OverlayGASPStorage)(nil)
