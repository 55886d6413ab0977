// Package shipslap implements the reserved SHIP (Service Host Interconnect
// Protocol) and SLAP (Service Lookup Availability Protocol) topic managers,
// lookup services, and advertiser that every overlay node carries so peers
// can discover which domains host which topics and lookup services.
package shipslap

import (
	"fmt"

	"github.com/bsv-blockchain/go-sdk/script"
)

// ProtocolSHIP and ProtocolSLAP name the two overlay bootstrap protocols.
const (
	ProtocolSHIP = "SHIP"
	ProtocolSLAP = "SLAP"
)

// TopicSHIP and TopicSLAP are the reserved topic/service names the engine
// refuses to let any other plug-in register under.
const (
	TopicSHIP   = "tm_ship"
	TopicSLAP   = "tm_slap"
	ServiceSHIP = "ls_ship"
	ServiceSLAP = "ls_slap"
)

// record is the decoded payload of a SHIP or SLAP PushDrop output: protocol
// identifier, advertiser identity key, hosting domain, and the topic (SHIP)
// or lookup-service (SLAP) name being advertised.
type record struct {
	protocol       string
	identityKey    string
	domain         string
	topicOrService string
}

// encodeRecord builds a single-key PushDrop locking script carrying the
// four SHIP/SLAP fields, following the field layout demonstrated for SHIP
// advertisements: pubkey + OP_CHECKSIG, then the four data pushes, then
// enough OP_2DROP/OP_DROP to clear them from the stack.
func encodeRecord(identityKeyBytes []byte, r record) (*script.Script, error) {
	s := &script.Script{}
	if err := s.AppendPushData(identityKeyBytes); err != nil {
		return nil, fmt.Errorf("shipslap: append identity key: %w", err)
	}
	if err := s.AppendOpcodes(script.OpCHECKSIG); err != nil {
		return nil, fmt.Errorf("shipslap: append checksig: %w", err)
	}

	fields := [][]byte{
		[]byte(r.protocol),
		[]byte(r.identityKey),
		[]byte(r.domain),
		[]byte(r.topicOrService),
	}
	for _, f := range fields {
		if err := s.AppendPushData(f); err != nil {
			return nil, fmt.Errorf("shipslap: append field: %w", err)
		}
	}

	remaining := len(fields)
	for remaining > 1 {
		if err := s.AppendOpcodes(script.Op2DROP); err != nil {
			return nil, fmt.Errorf("shipslap: append 2drop: %w", err)
		}
		remaining -= 2
	}
	if remaining == 1 {
		if err := s.AppendOpcodes(script.OpDROP); err != nil {
			return nil, fmt.Errorf("shipslap: append drop: %w", err)
		}
	}
	return s, nil
}

// decodeRecord recovers the four SHIP/SLAP fields from a locking script
// built by encodeRecord. It walks the script's parsed ops rather than
// assuming byte offsets, so it tolerates identity keys of varying length.
func decodeRecord(lockingScript *script.Script) (*record, error) {
	if lockingScript == nil {
		return nil, fmt.Errorf("shipslap: nil locking script")
	}
	chunks, err := lockingScript.ParseOps()
	if err != nil {
		return nil, fmt.Errorf("shipslap: parse script: %w", err)
	}

	var pushes [][]byte
	for _, c := range chunks {
		if len(c.Data) > 0 {
			pushes = append(pushes, c.Data)
		}
	}
	// pushes[0] is the identity pubkey used for the P2PK-style prefix;
	// the four SHIP/SLAP fields follow it.
	if len(pushes) < 5 {
		return nil, fmt.Errorf("shipslap: expected at least 5 data pushes, got %d", len(pushes))
	}
	fields := pushes[len(pushes)-4:]
	return &record{
		protocol:       string(fields[0]),
		identityKey:    string(fields[1]),
		domain:         string(fields[2]),
		topicOrService: string(fields[3]),
	}, nil
}
