package shipslap

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/4chain-ag/go-overlay-services/pkg/core/advertiser"
	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/bsv-blockchain/go-sdk/overlay/lookup"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/stretchr/testify/require"
)

var testIdentityKey = []byte{0x02, 0xde, 0xad, 0xbe, 0xef}

func buildAdRecordBEEF(t *testing.T, protocol, domain, topicOrService string) ([]byte, *overlay.Outpoint) {
	t.Helper()

	lockingScript, err := encodeRecord(testIdentityKey, record{
		protocol:       protocol,
		identityKey:    string(testIdentityKey),
		domain:         domain,
		topicOrService: topicOrService,
	})
	require.NoError(t, err)

	tx := transaction.NewTransaction()
	tx.AddOutput(&transaction.TransactionOutput{Satoshis: 1, LockingScript: lockingScript})

	beef, err := transaction.NewBeefFromTransaction(tx)
	require.NoError(t, err)
	bytes, err := beef.AtomicBytes(tx.TxID())
	require.NoError(t, err)

	return bytes, &overlay.Outpoint{Txid: *tx.TxID(), OutputIndex: 0}
}

func TestEncodeDecodeRecord_RoundTrips(t *testing.T) {
	// given
	lockingScript, err := encodeRecord(testIdentityKey, record{
		protocol:       ProtocolSHIP,
		identityKey:    string(testIdentityKey),
		domain:         "https://example.com",
		topicOrService: "tm_bridge",
	})
	require.NoError(t, err)

	// when
	rec, err := decodeRecord(lockingScript)

	// then
	require.NoError(t, err)
	require.Equal(t, ProtocolSHIP, rec.protocol)
	require.Equal(t, "https://example.com", rec.domain)
	require.Equal(t, "tm_bridge", rec.topicOrService)
}

func TestTopicManager_IdentifyAdmissableOutputs_AdmitsOnlyMatchingProtocol(t *testing.T) {
	// given
	shipScript, err := encodeRecord(testIdentityKey, record{protocol: ProtocolSHIP, identityKey: "k", domain: "d", topicOrService: "tm_bridge"})
	require.NoError(t, err)
	slapScript, err := encodeRecord(testIdentityKey, record{protocol: ProtocolSLAP, identityKey: "k", domain: "d", topicOrService: "ls_bridge"})
	require.NoError(t, err)

	tx := transaction.NewTransaction()
	tx.AddOutput(&transaction.TransactionOutput{Satoshis: 1, LockingScript: shipScript})
	tx.AddOutput(&transaction.TransactionOutput{Satoshis: 1, LockingScript: slapScript})
	beef, err := transaction.NewBeefFromTransaction(tx)
	require.NoError(t, err)
	bytes, err := beef.AtomicBytes(tx.TxID())
	require.NoError(t, err)

	sut := NewSHIPTopicManager()

	// when
	instructions, err := sut.IdentifyAdmissableOutputs(context.Background(), bytes, nil)

	// then
	require.NoError(t, err)
	require.Equal(t, []uint32{0}, instructions.OutputsToAdmit)
}

func TestTopicManager_IdentifyNeededInputs_AlwaysEmpty(t *testing.T) {
	sut := NewSLAPTopicManager()
	inputs, err := sut.IdentifyNeededInputs(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, inputs)
}

func TestLookupService_OutputAdded_ThenLookupByTopic(t *testing.T) {
	// given
	sut := NewSHIPLookupService()
	beef, outpoint := buildAdRecordBEEF(t, ProtocolSHIP, "https://peer.example", "tm_bridge")

	// when
	err := sut.OutputAdded(context.Background(), outpoint, TopicSHIP, beef)
	require.NoError(t, err)

	query, err := json.Marshal(map[string]any{"topic": "tm_bridge"})
	require.NoError(t, err)
	answer, err := sut.Lookup(context.Background(), &lookup.LookupQuestion{Service: ServiceSHIP, Query: query})

	// then
	require.NoError(t, err)
	require.Equal(t, lookup.AnswerTypeOutputList, answer.Type)
	require.Len(t, answer.Outputs, 1)
	require.Equal(t, uint32(0), answer.Outputs[0].OutputIndex)
}

func TestLookupService_OutputDeleted_RemovesEntry(t *testing.T) {
	// given
	sut := NewSHIPLookupService()
	beef, outpoint := buildAdRecordBEEF(t, ProtocolSHIP, "https://peer.example", "tm_bridge")
	require.NoError(t, sut.OutputAdded(context.Background(), outpoint, TopicSHIP, beef))

	// when
	err := sut.OutputDeleted(context.Background(), outpoint, TopicSHIP)
	require.NoError(t, err)

	answer, err := sut.Lookup(context.Background(), &lookup.LookupQuestion{Service: ServiceSHIP, Query: json.RawMessage(`"findAll"`)})

	// then
	require.NoError(t, err)
	require.Empty(t, answer.Outputs)
}

func TestLookupService_Lookup_RejectsWrongService(t *testing.T) {
	sut := NewSHIPLookupService()
	_, err := sut.Lookup(context.Background(), &lookup.LookupQuestion{Service: "ls_slap"})
	require.Error(t, err)
}

func TestAdvertiser_CreateAndParseAdvertisement_RoundTrips(t *testing.T) {
	// given
	ship := NewSHIPLookupService()
	slap := NewSLAPLookupService()
	sut := NewAdvertiser(testIdentityKey, "https://me.example", ship, slap)

	// when
	tagged, err := sut.CreateAdvertisements([]*advertiser.AdvertisementData{
		{Protocol: overlay.Protocol(ProtocolSHIP), TopicOrServiceName: "tm_bridge"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{TopicSHIP}, tagged.Topics)

	tx, err := transaction.NewTransactionFromBEEF(tagged.Beef)
	require.NoError(t, err)
	require.Len(t, tx.Outputs, 1)

	ad, err := sut.ParseAdvertisement(tx.Outputs[0].LockingScript)

	// then
	require.NoError(t, err)
	require.Equal(t, overlay.Protocol(ProtocolSHIP), ad.Protocol)
	require.Equal(t, "https://me.example", ad.Domain)
	require.Equal(t, "tm_bridge", ad.TopicOrService)
}

func TestAdvertiser_FindAllAdvertisements_ReadsFromLookupService(t *testing.T) {
	// given
	ship := NewSHIPLookupService()
	slap := NewSLAPLookupService()
	sut := NewAdvertiser(testIdentityKey, "https://me.example", ship, slap)

	beef, outpoint := buildAdRecordBEEF(t, ProtocolSHIP, "https://me.example", "tm_bridge")
	require.NoError(t, ship.OutputAdded(context.Background(), outpoint, TopicSHIP, beef))

	// when
	ads, err := sut.FindAllAdvertisements(overlay.Protocol(ProtocolSHIP))

	// then
	require.NoError(t, err)
	require.Len(t, ads, 1)
	require.Equal(t, "tm_bridge", ads[0].TopicOrService)
}

func TestAdvertiser_CreateAdvertisements_ErrorsOnEmptyInput(t *testing.T) {
	sut := NewAdvertiser(testIdentityKey, "https://me.example", nil, nil)
	_, err := sut.CreateAdvertisements(nil)
	require.Error(t, err)
}
