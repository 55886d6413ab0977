package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/4chain-ag/go-overlay-services/pkg/core/advertiser"
	"github.com/4chain-ag/go-overlay-services/pkg/core/engine/enginehttp"
	"github.com/4chain-ag/go-overlay-services/pkg/core/gasp/core"
	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/bsv-blockchain/go-sdk/overlay/lookup"
	"github.com/bsv-blockchain/go-sdk/overlay/topic"
	"github.com/bsv-blockchain/go-sdk/spv"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/bsv-blockchain/go-sdk/transaction/chaintracker"
	"golang.org/x/exp/slices"
)

// SumbitMode tells Submit whether the BEEF being processed is a live
// transaction that should be broadcast and gossiped to peers, or a
// historical one being replayed (e.g. during GASP sync), which never
// touches the network.
type SumbitMode string

const (
	SubmitModeHistorical SumbitMode = "historical-tx"
	SubmitModeCurrent    SumbitMode = "current-tx"
)

// OnSteakReady is invoked with the admittance instructions as soon as they
// are known, before the (potentially slow) storage writes and network
// propagation that follow.
type OnSteakReady func(steak *overlay.Steak)

// SyncConfigurationType selects how StartGASPSync discovers the peers to
// sync a topic with.
type SyncConfigurationType int

const (
	SyncConfigurationPeers SyncConfigurationType = iota
	SyncConfigurationSHIP
	SyncConfigurationNone
)

// SyncConfiguration describes how a single topic should be kept in sync
// with the rest of the network.
type SyncConfiguration struct {
	Type        SyncConfigurationType
	Peers       []string
	Concurrency int
}

// PeerGossiper is the narrow boundary Submit uses to re-propagate admitted
// transactions to other overlay nodes. enginehttp.PeerGossiper is the real
// implementation; tests substitute their own.
type PeerGossiper interface {
	Gossip(ctx context.Context, beef []byte, domainToTopics map[string][]string) []*enginehttp.GossipFailure
}

// Engine is the admission and graph-maintenance core of an overlay node.
// It owns no transport of its own: topic managers, lookup services,
// storage, the chain tracker and the broadcaster are all supplied by the
// caller, which is what lets the same Engine run as an HTTP service, a CLI
// tool, or a test harness.
type Engine struct {
	Managers                map[string]TopicManager
	LookupServices          map[string]LookupService
	Storage                 Storage
	ChainTracker            chaintracker.ChainTracker
	HostingURL              string
	SHIPTrackers            []string
	SLAPTrackers            []string
	Broadcaster             transaction.Broadcaster
	Advertiser              advertiser.Advertiser
	SyncConfiguration       map[string]SyncConfiguration
	LogTime                 bool
	LogPrefix               string
	ErrorOnBroadcastFailure bool
	BroadcastFacilitator    topic.Facilitator
	Verbose                 bool
	PanicOnError            bool

	// Gossiper fans admitted BEEF out to SHIP-advertised peers. NewEngine
	// fills in a default backed by enginehttp.PeerGossiper when left nil.
	Gossiper PeerGossiper
}

// NewEngine applies the SHIP/SLAP bootstrap trackers to any tm_ship/tm_slap
// sync configuration and returns a ready-to-use Engine.
func NewEngine(cfg Engine) *Engine {
	if cfg.SyncConfiguration == nil {
		cfg.SyncConfiguration = make(map[string]SyncConfiguration)
	}
	if cfg.Managers == nil {
		cfg.Managers = make(map[string]TopicManager)
	}
	if cfg.LookupServices == nil {
		cfg.LookupServices = make(map[string]LookupService)
	}
	if cfg.Gossiper == nil {
		cfg.Gossiper = enginehttp.NewPeerGossiper(enginehttp.DefaultGossipTimeout)
	}

	bootstrapTrackers := map[string][]string{
		"tm_ship": cfg.SHIPTrackers,
		"tm_slap": cfg.SLAPTrackers,
	}
	for name, manager := range cfg.Managers {
		trackers, isBootstrapped := bootstrapTrackers[name]
		config := cfg.SyncConfiguration[name]
		if !isBootstrapped || len(trackers) == 0 || manager == nil || config.Type != SyncConfigurationPeers {
			continue
		}
		config.Peers = unionStrings(trackers, config.Peers)
		cfg.SyncConfiguration[name] = config
	}

	return &cfg
}

func unionStrings(sets ...[]string) []string {
	seen := make(map[string]struct{})
	for _, set := range sets {
		for _, s := range set {
			seen[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	return out
}

var (
	ErrUnknownTopic       = errors.New("unknown-topic")
	ErrInvalidBeef        = errors.New("invalid-beef")
	ErrInvalidTransaction = errors.New("invalid-transaction")
	ErrMissingInput       = errors.New("missing-input")
	ErrInputSpent         = errors.New("input-spent")
)

// admissionState carries the per-Submit bookkeeping that would otherwise
// have to thread through every helper as separate parameters.
type admissionState struct {
	tx             *transaction.Transaction
	beef           *transaction.Beef
	txid           *chainhash.Hash
	inpoints       []*overlay.Outpoint
	dupeTopics     map[string]struct{}
	topicInputs    map[string]map[uint32]*Output
	ancillaryBeefs map[string][]byte
	steak          overlay.Steak
}

// Submit runs a tagged BEEF through the admission pipeline: topic
// validation, SPV verification, per-topic duplicate suppression, previous
// coin discovery, topic-manager admissibility, spend marking, broadcast,
// graph maintenance, and finally peer gossip.
func (e *Engine) Submit(ctx context.Context, taggedBEEF overlay.TaggedBEEF, mode SumbitMode, onSteakReady OnSteakReady) (overlay.Steak, error) {
	clock := newStageClock(e.Verbose)

	if err := e.requireKnownTopics(taggedBEEF.Topics); err != nil {
		return nil, e.fail(err)
	}

	state, err := e.parseAndVerify(taggedBEEF)
	if err != nil {
		return nil, e.fail(err)
	}
	clock.lap("Validated")

	if err := e.admitAllTopics(ctx, taggedBEEF, state); err != nil {
		return nil, e.fail(err)
	}
	clock.lap("Identified")

	if err := e.spendConsumedInputs(ctx, taggedBEEF, state); err != nil {
		return nil, e.fail(err)
	}
	clock.lap("Marked spent")

	if err := e.broadcastIfLive(mode, state.tx); err != nil {
		return nil, e.fail(err)
	}

	if onSteakReady != nil {
		onSteakReady(&state.steak)
	}

	if err := e.settleAllTopics(ctx, taggedBEEF, state, clock); err != nil {
		return nil, e.fail(err)
	}

	e.gossipSteak(ctx, taggedBEEF, mode, state)

	return state.steak, nil
}

// fail centralizes the PanicOnError escape hatch so individual steps of
// Submit don't each repeat the log.Panicln/return boilerplate.
func (e *Engine) fail(err error) error {
	if e.PanicOnError {
		log.Panicln(err)
	}
	return err
}

func (e *Engine) requireKnownTopics(topics []string) error {
	for _, t := range topics {
		if _, ok := e.Managers[t]; !ok {
			return ErrUnknownTopic
		}
	}
	return nil
}

// parseAndVerify decodes the BEEF, confirms SPV validity against the
// engine's chain tracker, and seeds the per-call admission state.
func (e *Engine) parseAndVerify(taggedBEEF overlay.TaggedBEEF) (*admissionState, error) {
	beef, tx, txid, err := transaction.ParseBeef(taggedBEEF.Beef)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, ErrInvalidBeef
	}
	if valid, err := spv.Verify(tx, e.ChainTracker, nil); err != nil {
		return nil, err
	} else if !valid {
		return nil, ErrInvalidTransaction
	}

	inpoints := make([]*overlay.Outpoint, 0, len(tx.Inputs))
	for _, input := range tx.Inputs {
		inpoints = append(inpoints, &overlay.Outpoint{
			Txid:        *input.SourceTXID,
			OutputIndex: input.SourceTxOutIndex,
		})
	}

	return &admissionState{
		tx:             tx,
		beef:           beef,
		txid:           txid,
		inpoints:       inpoints,
		dupeTopics:     make(map[string]struct{}, len(taggedBEEF.Topics)),
		topicInputs:    make(map[string]map[uint32]*Output, len(taggedBEEF.Topics)),
		ancillaryBeefs: make(map[string][]byte, len(taggedBEEF.Topics)),
		steak:          make(overlay.Steak, len(taggedBEEF.Topics)),
	}, nil
}

// admitAllTopics runs each requested topic through duplicate suppression,
// previous-coin discovery and the topic manager's admissibility check,
// filling in state.steak as it goes.
func (e *Engine) admitAllTopics(ctx context.Context, taggedBEEF overlay.TaggedBEEF, state *admissionState) error {
	for _, t := range taggedBEEF.Topics {
		exists, err := e.Storage.DoesAppliedTransactionExist(ctx, &overlay.AppliedTransaction{Txid: state.txid, Topic: t})
		if err != nil {
			return err
		}
		if exists {
			state.steak[t] = &overlay.AdmittanceInstructions{}
			state.dupeTopics[t] = struct{}{}
			continue
		}

		previousCoins, inputs, err := e.gatherPreviousCoins(ctx, t, state.inpoints)
		if err != nil {
			return err
		}
		state.topicInputs[t] = inputs

		admit, err := e.Managers[t].IdentifyAdmissableOutputs(ctx, taggedBEEF.Beef, previousCoins)
		if err != nil {
			log.Println("Topic manager failed for topic", t, ":", err)
			state.steak[t] = &overlay.AdmittanceInstructions{}
			state.dupeTopics[t] = struct{}{}
			continue
		}

		if len(admit.AncillaryTxids) > 0 {
			ancillaryBytes, err := bundleAncillaryBeef(state.beef, admit.AncillaryTxids)
			if err != nil {
				return err
			}
			state.ancillaryBeefs[t] = ancillaryBytes
		}
		state.steak[t] = &admit
	}
	return nil
}

// gatherPreviousCoins looks up the storage-tracked outputs spent by each
// input of the submitted transaction for one topic, which the topic
// manager then consults to decide admissibility.
func (e *Engine) gatherPreviousCoins(ctx context.Context, t string, inpoints []*overlay.Outpoint) (map[uint32][]byte, map[uint32]*Output, error) {
	previousCoins := make(map[uint32][]byte, len(inpoints))
	inputs := make(map[uint32]*Output, len(inpoints))
	for vin, outpoint := range inpoints {
		output, err := e.Storage.FindOutput(ctx, outpoint, &t, nil, true)
		if err != nil {
			return nil, nil, err
		}
		if output != nil {
			previousCoins[uint32(vin)] = output.Beef
			inputs[uint32(vin)] = output
		}
	}
	return previousCoins, inputs, nil
}

// bundleAncillaryBeef collects the BEEF of every txid a topic manager
// declared a dependency of its admittance decision into one BEEF bundle.
func bundleAncillaryBeef(beef *transaction.Beef, ancillaryTxids []*chainhash.Hash) ([]byte, error) {
	bundle := transaction.Beef{
		Version:      transaction.BEEF_V2,
		Transactions: make(map[string]*transaction.BeefTx, len(ancillaryTxids)),
	}
	for _, txid := range ancillaryTxids {
		depTx := beef.FindTransaction(txid.String())
		if depTx == nil {
			return nil, errors.New("missing dependency transaction")
		}
		depBytes, err := depTx.BEEF()
		if err != nil {
			return nil, err
		}
		if err := bundle.MergeBeefBytes(depBytes); err != nil {
			return nil, err
		}
	}
	return bundle.Bytes()
}

// spendConsumedInputs marks every non-duplicate topic's consumed inputs as
// spent in storage and notifies lookup services of the spend.
func (e *Engine) spendConsumedInputs(ctx context.Context, taggedBEEF overlay.TaggedBEEF, state *admissionState) error {
	for _, t := range taggedBEEF.Topics {
		if _, skip := state.dupeTopics[t]; skip {
			continue
		}
		for _, outpoint := range state.inpoints {
			if err := e.Storage.MarkUTXOAsSpent(ctx, outpoint, t); err != nil {
				return err
			}
			for _, l := range e.LookupServices {
				if err := l.OutputSpent(ctx, outpoint, t, taggedBEEF.Beef); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (e *Engine) broadcastIfLive(mode SumbitMode, tx *transaction.Transaction) error {
	if mode == SubmitModeHistorical || e.Broadcaster == nil {
		return nil
	}
	_, failure := e.Broadcaster.Broadcast(tx)
	if failure != nil {
		if e.ErrorOnBroadcastFailure {
			return failure
		}
		log.Println("Error broadcasting transaction:", failure)
	}
	return nil
}

// settleAllTopics finishes processing each non-duplicate topic: retained
// inputs are kept linked, unretained ones are pruned via deleteUTXODeep,
// newly admitted outputs are inserted and linked back to what they
// consumed, and the applied-transaction record is written last so a crash
// mid-topic never leaves a topic marked processed without its outputs.
func (e *Engine) settleAllTopics(ctx context.Context, taggedBEEF overlay.TaggedBEEF, state *admissionState, clock *stageClock) error {
	for _, t := range taggedBEEF.Topics {
		if _, skip := state.dupeTopics[t]; skip {
			continue
		}
		admit := state.steak[t]

		outputsConsumed, outpointsConsumed := partitionRetainedInputs(state.topicInputs[t], admit.CoinsToRetain)

		for vin, output := range state.topicInputs[t] {
			if err := e.deleteUTXODeep(ctx, output); err != nil {
				return err
			}
			admit.CoinsRemoved = append(admit.CoinsRemoved, vin)
		}

		newOutpoints, err := e.admitNewOutputs(ctx, t, state, admit, outpointsConsumed, taggedBEEF.Beef)
		if err != nil {
			return err
		}
		clock.lap("Outputs added")

		for _, output := range outputsConsumed {
			for _, newOutpoint := range newOutpoints {
				if !slices.ContainsFunc(output.ConsumedBy, func(o *overlay.Outpoint) bool {
					return o.Txid.Equal(newOutpoint.Txid) && o.OutputIndex == newOutpoint.OutputIndex
				}) {
					output.ConsumedBy = append(output.ConsumedBy, newOutpoint)
				}
			}
			if err := e.Storage.UpdateConsumedBy(ctx, &output.Outpoint, output.Topic, output.ConsumedBy); err != nil {
				return err
			}
		}
		clock.lap("Consumes updated")

		if err := e.Storage.InsertAppliedTransaction(ctx, &overlay.AppliedTransaction{Txid: state.txid, Topic: t}); err != nil {
			return err
		}
		clock.lap("Applied")
	}
	return nil
}

// partitionRetainedInputs splits a topic's previous-coin inputs into the
// ones the topic manager chose to retain (returned, alongside their
// outpoints) versus the rest, which the caller is left to prune. The map
// passed in is drained of retained entries as a side effect so callers can
// iterate what remains.
func partitionRetainedInputs(inputs map[uint32]*Output, coinsToRetain []uint32) ([]*Output, []*overlay.Outpoint) {
	retained := make([]*Output, 0, len(coinsToRetain))
	retainedOutpoints := make([]*overlay.Outpoint, 0, len(coinsToRetain))
	for vin, output := range inputs {
		for _, coin := range coinsToRetain {
			if vin == coin {
				retained = append(retained, output)
				retainedOutpoints = append(retainedOutpoints, &output.Outpoint)
				delete(inputs, vin)
				break
			}
		}
	}
	return retained, retainedOutpoints
}

// admitNewOutputs inserts the outputs a topic manager admitted, stamping
// in merkle-position data when the transaction already carries a proof,
// and notifies lookup services of each new output.
func (e *Engine) admitNewOutputs(ctx context.Context, t string, state *admissionState, admit *overlay.AdmittanceInstructions, outpointsConsumed []*overlay.Outpoint, beef []byte) ([]*overlay.Outpoint, error) {
	newOutpoints := make([]*overlay.Outpoint, 0, len(admit.OutputsToAdmit))
	for _, vout := range admit.OutputsToAdmit {
		txOut := state.tx.Outputs[vout]
		output := &Output{
			Outpoint: overlay.Outpoint{
				Txid:        *state.txid,
				OutputIndex: uint32(vout),
			},
			Script:          txOut.LockingScript,
			Satoshis:        txOut.Satoshis,
			Topic:           t,
			OutputsConsumed: outpointsConsumed,
			Beef:            beef,
			AncillaryTxids:  admit.AncillaryTxids,
			AncillaryBeef:   state.ancillaryBeefs[t],
		}
		stampBlockPosition(output, state.tx.MerklePath)

		if err := e.Storage.InsertOutput(ctx, output); err != nil {
			return nil, err
		}
		newOutpoints = append(newOutpoints, &output.Outpoint)
		for _, l := range e.LookupServices {
			if err := l.OutputAdded(ctx, &output.Outpoint, t, output.Beef); err != nil {
				return nil, err
			}
		}
	}
	return newOutpoints, nil
}

// stampBlockPosition copies the block height/index of an output's own leaf
// out of a merkle path onto the output, if the path is already known.
func stampBlockPosition(output *Output, path *transaction.MerklePath) {
	if path == nil {
		return
	}
	output.BlockHeight = path.BlockHeight
	for _, leaf := range path.Path[0] {
		if leaf.Hash != nil && leaf.Hash.Equal(output.Outpoint.Txid) {
			output.BlockIdx = leaf.Offset
			return
		}
	}
}

// gossipSteak fans the submitted BEEF out to SHIP-advertised peers for
// every topic that actually admitted something. Unlike the rest of
// Submit, gossip failures are logged and swallowed: a peer being
// unreachable is not grounds for failing the submitter's request.
func (e *Engine) gossipSteak(ctx context.Context, taggedBEEF overlay.TaggedBEEF, mode SumbitMode, state *admissionState) {
	if e.Advertiser == nil || mode == SubmitModeHistorical {
		return
	}

	relevantTopics := make([]string, 0, len(taggedBEEF.Topics))
	for t, admit := range state.steak {
		if len(admit.OutputsToAdmit) == 0 {
			continue
		}
		if _, dupe := state.dupeTopics[t]; !dupe {
			relevantTopics = append(relevantTopics, t)
		}
	}
	if len(relevantTopics) == 0 {
		return
	}

	domainToTopics, err := e.resolvePeerDomains(ctx, relevantTopics)
	if err != nil {
		log.Println("Error during propagation to other nodes:", err)
		return
	}
	if len(domainToTopics) == 0 {
		return
	}
	if e.Gossiper == nil {
		return
	}
	for _, failure := range e.Gossiper.Gossip(ctx, taggedBEEF.Beef, domainToTopics) {
		log.Println("Error during propagation to other nodes:", failure)
	}
}

// resolvePeerDomains builds the domain -> topics fan-out map described by
// the peer-propagation algorithm: an ls_ship lookup per relevant topic
// contributes domain -> {topic} edges, and the tm_ship/tm_slap bootstrap
// trackers are unioned in whenever those reserved topics are relevant.
// The engine never gossips to itself.
func (e *Engine) resolvePeerDomains(ctx context.Context, relevantTopics []string) (map[string][]string, error) {
	domainTopics := make(map[string]map[string]struct{})
	addEdge := func(domain, t string) {
		if domain == "" || domain == e.HostingURL {
			return
		}
		if domainTopics[domain] == nil {
			domainTopics[domain] = make(map[string]struct{})
		}
		domainTopics[domain][t] = struct{}{}
	}

	for _, t := range relevantTopics {
		domains, err := e.queryShipDomains(ctx, t)
		if err != nil {
			return nil, err
		}
		for _, domain := range domains {
			addEdge(domain, t)
		}
	}

	if slices.Contains(relevantTopics, "tm_ship") {
		for _, domain := range e.SHIPTrackers {
			addEdge(domain, "tm_ship")
		}
	}
	if slices.Contains(relevantTopics, "tm_slap") {
		for _, domain := range e.SLAPTrackers {
			addEdge(domain, "tm_slap")
		}
	}

	out := make(map[string][]string, len(domainTopics))
	for domain, topics := range domainTopics {
		list := make([]string, 0, len(topics))
		for t := range topics {
			list = append(list, t)
		}
		out[domain] = list
	}
	return out, nil
}

// queryShipDomains asks the local ls_ship lookup service which domains
// advertise the given topic.
func (e *Engine) queryShipDomains(ctx context.Context, t string) ([]string, error) {
	l, ok := e.LookupServices["ls_ship"]
	if !ok {
		return nil, nil
	}
	query, err := json.Marshal(map[string]any{"topic": t})
	if err != nil {
		return nil, err
	}
	answer, err := l.Lookup(ctx, &lookup.LookupQuestion{Service: "ls_ship", Query: query})
	if err != nil {
		return nil, err
	}
	if answer == nil || answer.Type != lookup.AnswerTypeOutputList {
		return nil, nil
	}

	domains := make([]string, 0, len(answer.Outputs))
	for _, out := range answer.Outputs {
		tx, err := transaction.NewTransactionFromBEEF(out.Beef)
		if err != nil {
			log.Println("Failed to parse SHIP advertisement output:", err)
			continue
		}
		if int(out.OutputIndex) >= len(tx.Outputs) {
			continue
		}
		ad, err := e.Advertiser.ParseAdvertisement(tx.Outputs[out.OutputIndex].LockingScript)
		if err != nil || ad == nil || ad.Protocol != "SHIP" {
			continue
		}
		domains = append(domains, ad.Domain)
	}
	return domains, nil
}

// Lookup dispatches a question to the named lookup service, rehydrating
// any formula-based answer into full BEEF via the UTXO history walk.
func (e *Engine) Lookup(ctx context.Context, question *lookup.LookupQuestion) (*lookup.LookupAnswer, error) {
	l, ok := e.LookupServices[question.Service]
	if !ok {
		return nil, ErrUnknownTopic
	}
	result, err := l.Lookup(ctx, question)
	if err != nil {
		return nil, err
	}
	if result.Type == lookup.AnswerTypeFreeform || result.Type == lookup.AnswerTypeOutputList {
		return result, nil
	}

	hydrated := make([]*lookup.OutputListItem, 0, len(result.Outputs))
	for _, formula := range result.Formulas {
		output, err := e.Storage.FindOutput(ctx, formula.Outpoint, nil, nil, true)
		if err != nil {
			return nil, err
		}
		if output == nil || output.Beef == nil {
			continue
		}
		hist, err := e.GetUTXOHistory(ctx, output, formula.Histoy, 0)
		if err != nil {
			return nil, err
		}
		if hist != nil {
			hydrated = append(hydrated, &lookup.OutputListItem{Beef: hist.Beef, OutputIndex: hist.Outpoint.OutputIndex})
		}
	}
	return &lookup.LookupAnswer{Type: lookup.AnswerTypeOutputList, Outputs: hydrated}, nil
}

// GetUTXOHistory walks the consumption graph backwards from output,
// re-embedding each ancestor's BEEF into its descendant's source
// transaction so the returned output carries a fully self-contained BEEF
// as deep as historySelector says to travel. A nil selector means "just
// this output, no ancestors".
func (e *Engine) GetUTXOHistory(ctx context.Context, output *Output, historySelector func(beef []byte, outputIndex uint32, currentDepth uint32) bool, currentDepth uint32) (*Output, error) {
	if historySelector == nil {
		return output, nil
	}
	if !historySelector(output.Beef, output.Outpoint.OutputIndex, currentDepth) {
		return nil, nil
	}
	if len(output.OutputsConsumed) == 0 {
		return output, nil
	}

	childHistories := make(map[string]*Output, len(output.OutputsConsumed))
	for _, outpoint := range output.OutputsConsumed {
		parent, err := e.Storage.FindOutput(ctx, outpoint, nil, nil, true)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			continue
		}
		child, err := e.GetUTXOHistory(ctx, parent, historySelector, currentDepth+1)
		if err != nil {
			return nil, err
		}
		if child != nil {
			childHistories[child.Outpoint.String()] = child
		}
	}

	tx, err := transaction.NewTransactionFromBEEF(output.Beef)
	if err != nil {
		return nil, err
	}
	for _, txin := range tx.Inputs {
		outpoint := &overlay.Outpoint{Txid: *txin.SourceTXID, OutputIndex: txin.SourceTxOutIndex}
		ancestor, ok := childHistories[outpoint.String()]
		if !ok {
			continue
		}
		if ancestor.Beef == nil {
			return nil, errors.New("missing beef")
		}
		if txin.SourceTransaction, err = transaction.NewTransactionFromBEEF(ancestor.Beef); err != nil {
			return nil, err
		}
	}
	beef, err := tx.BEEF()
	if err != nil {
		return nil, err
	}
	output.Beef = beef
	return output, nil
}

// SyncAdvertisements reconciles the engine's configured topics/services
// against its current SHIP/SLAP advertisements: anything configured but
// not yet advertised is minted, anything advertised but no longer
// configured is revoked.
func (e *Engine) SyncAdvertisements(ctx context.Context) error {
	if e.Advertiser == nil {
		return nil
	}

	requiredShip := topicNameSet(e.Managers)
	requiredSlap := serviceNameSet(e.LookupServices)

	shipCreate, shipRevoke, err := e.diffAdvertisements("SHIP", requiredShip)
	if err != nil {
		return err
	}
	slapCreate, slapRevoke, err := e.diffAdvertisements("SLAP", requiredSlap)
	if err != nil {
		return err
	}

	toCreate := make([]*advertiser.AdvertisementData, 0, len(shipCreate)+len(slapCreate))
	for _, t := range shipCreate {
		toCreate = append(toCreate, &advertiser.AdvertisementData{Protocol: "SHIP", TopicOrServiceName: t})
	}
	for _, s := range slapCreate {
		toCreate = append(toCreate, &advertiser.AdvertisementData{Protocol: "SLAP", TopicOrServiceName: s})
	}
	if len(toCreate) > 0 {
		if beef, err := e.Advertiser.CreateAdvertisements(toCreate); err != nil {
			log.Println("Failed to create SHIP advertisement:", err)
		} else if _, err := e.Submit(ctx, beef, SubmitModeCurrent, nil); err != nil {
			log.Println("Failed to create SHIP advertisement:", err)
		}
	}

	toRevoke := append(shipRevoke, slapRevoke...)
	if len(toRevoke) > 0 {
		if beef, err := e.Advertiser.RevokeAdvertisements(toRevoke); err != nil {
			log.Println("Failed to revoke SHIP/SLAP advertisements:", err)
		} else if _, err := e.Submit(ctx, beef, SubmitModeCurrent, nil); err != nil {
			log.Println("Failed to revoke SHIP/SLAP advertisements:", err)
		}
	}
	return nil
}

func topicNameSet(managers map[string]TopicManager) map[string]struct{} {
	set := make(map[string]struct{}, len(managers))
	for name := range managers {
		set[name] = struct{}{}
	}
	return set
}

func serviceNameSet(services map[string]LookupService) map[string]struct{} {
	set := make(map[string]struct{}, len(services))
	for name := range services {
		set[name] = struct{}{}
	}
	return set
}

// diffAdvertisements compares the advertisements currently published under
// protocol against the required set of topic/service names, returning the
// names that need a fresh advertisement and the stale advertisements that
// need revoking.
func (e *Engine) diffAdvertisements(protocol overlay.Protocol, required map[string]struct{}) ([]string, []*advertiser.Advertisement, error) {
	current, err := e.Advertiser.FindAllAdvertisements(protocol)
	if err != nil {
		return nil, nil, err
	}

	toCreate := make([]string, 0, len(required))
	for name := range required {
		if !slices.ContainsFunc(current, func(ad *advertiser.Advertisement) bool {
			return ad.TopicOrService == name && ad.Domain == e.HostingURL
		}) {
			toCreate = append(toCreate, name)
		}
	}

	toRevoke := make([]*advertiser.Advertisement, 0, len(current))
	for _, ad := range current {
		if _, ok := required[ad.TopicOrService]; !ok {
			toRevoke = append(toRevoke, ad)
		}
	}
	return toCreate, toRevoke, nil
}

// StartGASPSync runs one round of graph-aware sync for every topic that
// has a sync configuration, resolving peers from SHIP advertisements when
// configured to do so.
func (e *Engine) StartGASPSync(ctx context.Context) error {
	if e.SyncConfiguration == nil {
		return errors.New("not configured for topical synchronization")
	}

	for t, syncCfg := range e.SyncConfiguration {
		if syncCfg.Type == SyncConfigurationSHIP {
			peers, err := e.discoverShipPeers(ctx, t)
			if err != nil {
				return err
			}
			syncCfg.Peers = peers
		}
		e.syncTopicWithPeers(ctx, t, syncCfg)
	}
	return nil
}

// discoverShipPeers queries ls_ship for the domains advertising topic and
// returns them minus the engine's own hosting URL.
func (e *Engine) discoverShipPeers(ctx context.Context, t string) ([]string, error) {
	resolver := lookup.LookupResolver{
		Facilitator: &lookup.HTTPSOverlayLookupFacilitator{Client: http.DefaultClient},
	}
	if e.SLAPTrackers != nil {
		resolver.SLAPTrackers = e.SLAPTrackers
	}

	query, err := json.Marshal(map[string]any{"topics": []string{t}})
	if err != nil {
		return nil, err
	}
	answer, err := resolver.Query(ctx, &lookup.LookupQuestion{Service: "ls_ship", Query: query}, 10*time.Second)
	if err != nil {
		return nil, err
	}
	if answer.Type != lookup.AnswerTypeOutputList {
		return nil, nil
	}

	endpoints := make(map[string]struct{}, len(answer.Outputs))
	for _, out := range answer.Outputs {
		tx, err := transaction.NewTransactionFromBEEF(out.Beef)
		if err != nil {
			log.Println("Failed to parse advertisement output:", err)
			continue
		}
		ad, err := e.Advertiser.ParseAdvertisement(tx.Outputs[out.OutputIndex].LockingScript)
		if err != nil {
			log.Println("Failed to parse advertisement output:", err)
			continue
		}
		if ad != nil && ad.Protocol == "SHIP" {
			endpoints[ad.Domain] = struct{}{}
		}
	}
	peers := make([]string, 0, len(endpoints))
	for endpoint := range endpoints {
		if endpoint != e.HostingURL {
			peers = append(peers, endpoint)
		}
	}
	return peers, nil
}

func (e *Engine) syncTopicWithPeers(ctx context.Context, t string, syncCfg SyncConfiguration) {
	for _, peer := range syncCfg.Peers {
		if peer == e.HostingURL {
			continue
		}
		logPrefix := "[GASP Sync of " + t + " with " + peer + "]"
		gasp := core.NewGASP(core.GASPParams{
			Storage: NewOverlayGASPStorage(t, e, nil),
			Remote: &OverlayGASPRemote{
				EndpointUrl: peer,
				Topic:       t,
				HttpClient:  http.DefaultClient,
			},
			LogPrefix:      &logPrefix,
			Unidirectional: true,
			Concurrency:    syncCfg.Concurrency,
		})
		if err := gasp.Sync(ctx); err != nil {
			log.Println("Failed to sync with peer", peer, ":", err)
		}
	}
}

// ProvideForeignSyncResponse answers a remote GASP peer's initial request
// with the outpoints this node has admitted into topic since the given
// score.
func (e *Engine) ProvideForeignSyncResponse(ctx context.Context, initialRequest *core.GASPInitialRequest, topic string) (*core.GASPInitialResponse, error) {
	utxos, err := e.Storage.FindUTXOsForTopic(ctx, topic, initialRequest.Since, false)
	if err != nil {
		return nil, err
	}
	utxoList := make([]*overlay.Outpoint, 0, len(utxos))
	for _, utxo := range utxos {
		utxoList = append(utxoList, &utxo.Outpoint)
	}
	return &core.GASPInitialResponse{UTXOList: utxoList}, nil
}

// ProvideForeignGASPNode materializes a single GASP graph node for a peer,
// walking down through spent-and-consumed outputs until it finds one whose
// BEEF actually resolves to a transaction.
func (e *Engine) ProvideForeignGASPNode(ctx context.Context, graphId *overlay.Outpoint, outpoint *overlay.Outpoint, topic string) (*core.GASPNode, error) {
	output, err := e.Storage.FindOutput(ctx, graphId, &topic, nil, true)
	if err != nil {
		return nil, err
	}
	return e.hydrateGASPNode(ctx, graphId, outpoint, topic, output)
}

func (e *Engine) hydrateGASPNode(ctx context.Context, graphId, outpoint *overlay.Outpoint, topic string, output *Output) (*core.GASPNode, error) {
	if output.Beef == nil {
		return nil, ErrMissingInput
	}
	_, tx, _, err := transaction.ParseBeef(output.Beef)
	if err != nil {
		return nil, err
	}
	if tx != nil {
		node := &core.GASPNode{
			GraphID:       graphId,
			RawTx:         tx.Hex(),
			OutputIndex:   outpoint.OutputIndex,
			AncillaryBeef: output.AncillaryBeef,
		}
		if tx.MerklePath != nil {
			proof := tx.MerklePath.Hex()
			node.Proof = &proof
		}
		return node, nil
	}

	for _, consumed := range output.OutputsConsumed {
		parent, err := e.Storage.FindOutput(ctx, consumed, &topic, nil, false)
		if err != nil {
			continue
		}
		if parent != nil {
			return e.hydrateGASPNode(ctx, graphId, outpoint, topic, parent)
		}
	}
	return nil, errors.New("unable to find output")
}

// deleteUTXODeep recursively prunes an output that is no longer needed:
// it deletes the output itself if nothing consumes it, then walks back to
// everything it consumed, unlinking itself from their consumedBy lists
// and recursing so a chain of now-orphaned ancestors is cleaned up in one
// pass.
func (e *Engine) deleteUTXODeep(ctx context.Context, output *Output) error {
	if len(output.ConsumedBy) == 0 {
		if err := e.Storage.DeleteOutput(ctx, &output.Outpoint, output.Topic); err != nil {
			return err
		}
		for _, l := range e.LookupServices {
			if err := l.OutputDeleted(ctx, &output.Outpoint, output.Topic); err != nil {
				return err
			}
		}
	}
	if len(output.OutputsConsumed) == 0 {
		return nil
	}

	for _, outpoint := range output.OutputsConsumed {
		ancestor, err := e.Storage.FindOutput(ctx, outpoint, &output.Topic, nil, false)
		if err != nil {
			return err
		}
		if ancestor == nil {
			continue
		}
		if err := e.unlinkConsumer(ctx, ancestor, &output.Outpoint); err != nil {
			return err
		}
		if err := e.deleteUTXODeep(ctx, ancestor); err != nil {
			return err
		}
	}
	return nil
}

// unlinkConsumer removes consumerOutpoint from ancestor's consumedBy list
// and persists the change, if the ancestor had anything recorded there.
func (e *Engine) unlinkConsumer(ctx context.Context, ancestor *Output, consumerOutpoint *overlay.Outpoint) error {
	if len(ancestor.ConsumedBy) == 0 {
		return nil
	}
	remaining := make([]*overlay.Outpoint, 0, len(ancestor.ConsumedBy))
	for _, consumer := range ancestor.ConsumedBy {
		if !(consumer.Txid.Equal(consumerOutpoint.Txid) && consumer.OutputIndex == consumerOutpoint.OutputIndex) {
			remaining = append(remaining, consumer)
		}
	}
	ancestor.ConsumedBy = remaining
	return e.Storage.UpdateConsumedBy(ctx, &ancestor.Outpoint, ancestor.Topic, ancestor.ConsumedBy)
}

// updateInputProofs stamps proof onto tx if txid names tx itself, or
// recurses into tx's source transactions until it finds the one the proof
// belongs to.
func (e *Engine) updateInputProofs(ctx context.Context, tx *transaction.Transaction, txid chainhash.Hash, proof *transaction.MerklePath) error {
	if tx.TxID().Equal(txid) {
		tx.MerklePath = proof
		return nil
	}
	if tx.MerklePath != nil {
		return nil
	}
	for _, input := range tx.Inputs {
		if input.SourceTransaction == nil {
			return errors.New("missing source transaction")
		}
		if err := e.updateInputProofs(ctx, input.SourceTransaction, txid, proof); err != nil {
			return err
		}
	}
	return nil
}

// updateMerkleProof back-propagates a newly confirmed merkle proof for
// txid into output's BEEF (and recursively into everything output's BEEF
// later becomes an input of), skipping the work entirely if the output
// already embeds a proof computing the same root.
func (e *Engine) updateMerkleProof(ctx context.Context, output *Output, txid chainhash.Hash, proof *transaction.MerklePath) error {
	if len(output.Beef) == 0 {
		return errors.New("missing beef")
	}
	beef, tx, _, err := transaction.ParseBeef(output.Beef)
	if err != nil {
		return err
	}
	if tx == nil {
		return errors.New("missing transaction")
	}

	if tx.MerklePath != nil {
		oldRoot, err := tx.MerklePath.ComputeRoot(&txid)
		if err != nil {
			return err
		}
		newRoot, err := proof.ComputeRoot(&txid)
		if err != nil {
			return err
		}
		if oldRoot.Equal(*newRoot) {
			return nil
		}
	}

	if err := e.updateInputProofs(ctx, tx, txid, proof); err != nil {
		return err
	}
	atomicBytes, err := tx.AtomicBEEF(false)
	if err != nil {
		return err
	}

	if err := e.refreshAncillaryBeef(output, beef); err != nil {
		return err
	}
	stampBlockPosition(output, proof)

	if err := e.Storage.UpdateTransactionBEEF(ctx, &output.Outpoint.Txid, atomicBytes); err != nil {
		return err
	}

	for _, consumer := range output.ConsumedBy {
		consumingOutputs, err := e.Storage.FindOutputsForTransaction(ctx, &consumer.Txid, true)
		if err != nil {
			return err
		}
		for _, consuming := range consumingOutputs {
			if err := e.updateMerkleProof(ctx, consuming, txid, proof); err != nil {
				return err
			}
		}
	}
	return nil
}

// refreshAncillaryBeef re-bundles an output's ancillary dependency BEEF
// from the (possibly just-updated) parent beef, or clears it if the
// output no longer declares any ancillary txids.
func (e *Engine) refreshAncillaryBeef(output *Output, beef *transaction.Beef) error {
	if len(output.AncillaryTxids) == 0 {
		output.AncillaryBeef = nil
		return nil
	}
	bundle, err := bundleAncillaryBeef(beef, output.AncillaryTxids)
	if err != nil {
		return err
	}
	output.AncillaryBeef = bundle
	return nil
}

// HandleNewMerkleProof is the entrypoint a block-header watcher calls once
// a transaction's proof becomes available: every output of that
// transaction, across every topic, gets the proof back-propagated through
// its descendants.
func (e *Engine) HandleNewMerkleProof(ctx context.Context, txid *chainhash.Hash, proof *transaction.MerklePath) error {
	outputs, err := e.Storage.FindOutputsForTransaction(ctx, txid, true)
	if err != nil {
		return err
	}
	if len(outputs) == 0 {
		return nil
	}
	found := false
	for _, leaf := range proof.Path[0] {
		if leaf.Hash != nil && leaf.Hash.Equal(*txid) {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("transaction %s not found in proof", txid)
	}
	for _, output := range outputs {
		if err := e.updateMerkleProof(ctx, output, *txid, proof); err != nil {
			return err
		}
		if err := e.Storage.UpdateOutputBlockHeight(ctx, &output.Outpoint, output.Topic, output.BlockHeight, output.BlockIdx, output.AncillaryBeef); err != nil {
			return err
		}
		for _, l := range e.LookupServices {
			if err := l.OutputBlockHeightUpdated(ctx, &output.Outpoint, output.BlockHeight, output.BlockIdx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) ListTopicManagers() map[string]*overlay.MetaData {
	result := make(map[string]*overlay.MetaData, len(e.Managers))
	for name, manager := range e.Managers {
		result[name] = manager.GetMetaData()
	}
	return result
}

func (e *Engine) ListLookupServiceProviders() map[string]*overlay.MetaData {
	result := make(map[string]*overlay.MetaData, len(e.LookupServices))
	for name, provider := range e.LookupServices {
		result[name] = provider.GetMetaData()
	}
	return result
}

func (e *Engine) GetDocumentationForTopicManager(manager string) (string, error) {
	tm, ok := e.Managers[manager]
	if !ok {
		return "", errors.New("no documentation found")
	}
	return tm.GetDocumentation(), nil
}

func (e *Engine) GetDocumentationForLookupServiceProvider(provider string) (string, error) {
	l, ok := e.LookupServices[provider]
	if !ok {
		return "", errors.New("no documentation found")
	}
	return l.GetDocumentation(), nil
}

// stageClock prints elapsed-time breadcrumbs between admission stages when
// an engine is run with Verbose enabled; it is a no-op otherwise.
type stageClock struct {
	enabled bool
	start   time.Time
}

func newStageClock(enabled bool) *stageClock {
	return &stageClock{enabled: enabled, start: time.Now()}
}

func (c *stageClock) lap(label string) {
	if !c.enabled {
		return
	}
	fmt.Println(label, "in", time.Since(c.start))
	c.start = time.Now()
}
