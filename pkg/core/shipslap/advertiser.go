package shipslap

import (
	"context"
	"fmt"

	"github.com/4chain-ag/go-overlay-services/pkg/core/advertiser"
	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
)

// Advertiser mints and parses SHIP/SLAP PushDrop advertisements for a single
// node identity. CreateAdvertisements and RevokeAdvertisements build
// unsigned transaction templates (one advertisement output per request;
// revocations spend the named advertisement outpoints) — the node wallet
// that funds and signs the spend is outside this package's concern, the
// same way engine.Broadcaster is handed a transaction rather than a
// funding plan.
type Advertiser struct {
	identityKey []byte
	hostingURL  string
	lookup      map[overlay.Protocol]*LookupService
}

// NewAdvertiser builds an Advertiser that mints advertisements under
// identityKey for hostingURL, and answers FindAllAdvertisements by reading
// back through the given ls_ship/ls_slap lookup services.
func NewAdvertiser(identityKey []byte, hostingURL string, ship, slap *LookupService) *Advertiser {
	return &Advertiser{
		identityKey: identityKey,
		hostingURL:  hostingURL,
		lookup: map[overlay.Protocol]*LookupService{
			overlay.Protocol(ProtocolSHIP): ship,
			overlay.Protocol(ProtocolSLAP): slap,
		},
	}
}

func (a *Advertiser) CreateAdvertisements(adsData []*advertiser.AdvertisementData) (overlay.TaggedBEEF, error) {
	if len(adsData) == 0 {
		return overlay.TaggedBEEF{}, fmt.Errorf("shipslap advertiser: no advertisement data given")
	}

	tx := transaction.NewTransaction()
	topics := make(map[string]struct{}, len(adsData))
	for _, ad := range adsData {
		lockingScript, err := encodeRecord(a.identityKey, record{
			protocol:       string(ad.Protocol),
			identityKey:    string(a.identityKey),
			domain:         a.hostingURL,
			topicOrService: ad.TopicOrServiceName,
		})
		if err != nil {
			return overlay.TaggedBEEF{}, err
		}
		tx.AddOutput(&transaction.TransactionOutput{Satoshis: 1, LockingScript: lockingScript})
		topics[topicForProtocol(ad.Protocol)] = struct{}{}
	}

	beef, err := tx.BEEF()
	if err != nil {
		return overlay.TaggedBEEF{}, fmt.Errorf("shipslap advertiser: serialize beef: %w", err)
	}

	topicList := make([]string, 0, len(topics))
	for t := range topics {
		topicList = append(topicList, t)
	}
	return overlay.TaggedBEEF{Beef: beef, Topics: topicList}, nil
}

func topicForProtocol(p overlay.Protocol) string {
	if string(p) == ProtocolSLAP {
		return TopicSLAP
	}
	return TopicSHIP
}

func (a *Advertiser) FindAllAdvertisements(protocol overlay.Protocol) ([]*advertiser.Advertisement, error) {
	svc, ok := a.lookup[protocol]
	if !ok || svc == nil {
		return nil, fmt.Errorf("shipslap advertiser: no lookup service for protocol %q", protocol)
	}

	svc.mu.RLock()
	defer svc.mu.RUnlock()

	ads := make([]*advertiser.Advertisement, 0, len(svc.entries))
	for _, e := range svc.entries {
		if e.rec.protocol != string(protocol) {
			continue
		}
		ads = append(ads, &advertiser.Advertisement{
			Protocol:       protocol,
			IdentityKey:    e.rec.identityKey,
			Domain:         e.rec.domain,
			TopicOrService: e.rec.topicOrService,
			Beef:           e.beef,
			OutputIndex:    e.outpoint.OutputIndex,
		})
	}
	return ads, nil
}

func (a *Advertiser) RevokeAdvertisements(advertisements []*advertiser.Advertisement) (overlay.TaggedBEEF, error) {
	if len(advertisements) == 0 {
		return overlay.TaggedBEEF{}, fmt.Errorf("shipslap advertiser: no advertisements to revoke")
	}

	tx := transaction.NewTransaction()
	topics := make(map[string]struct{}, len(advertisements))
	for _, ad := range advertisements {
		parsed, err := transaction.NewTransactionFromBEEF(ad.Beef)
		if err != nil {
			return overlay.TaggedBEEF{}, fmt.Errorf("shipslap advertiser: parse advertisement beef: %w", err)
		}
		tx.AddInput(&transaction.TransactionInput{
			SourceTXID:        parsed.TxID(),
			SourceTxOutIndex:  ad.OutputIndex,
			SourceTransaction: parsed,
		})
		topics[topicForProtocol(ad.Protocol)] = struct{}{}
	}

	beef, err := tx.BEEF()
	if err != nil {
		return overlay.TaggedBEEF{}, fmt.Errorf("shipslap advertiser: serialize revocation beef: %w", err)
	}

	topicList := make([]string, 0, len(topics))
	for t := range topics {
		topicList = append(topicList, t)
	}
	return overlay.TaggedBEEF{Beef: beef, Topics: topicList}, nil
}

func (a *Advertiser) ParseAdvertisement(outputScript *script.Script) (*advertiser.Advertisement, error) {
	rec, err := decodeRecord(outputScript)
	if err != nil {
		return nil, err
	}
	return &advertiser.Advertisement{
		Protocol:       overlay.Protocol(rec.protocol),
		IdentityKey:    rec.identityKey,
		Domain:         rec.domain,
		TopicOrService: rec.topicOrService,
	}, nil
}
