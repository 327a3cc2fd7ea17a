package pipeline

import (
	"fmt"

	pb "github.com/kabili207/meshtastic-go/core/proto"
	"google.golang.org/protobuf/proto"
)

// DecodeEnvelope parses the bytes of an MQTT publish into a ServiceEnvelope.
// The envelope must carry a packet and the packet must carry either a
// decoded or an encrypted payload.
func DecodeEnvelope(raw []byte) (*pb.ServiceEnvelope, error) {
	var env pb.ServiceEnvelope
	if err := proto.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}

	pkt := env.GetPacket()
	if pkt == nil {
		return nil, fmt.Errorf("%w: no packet", ErrMalformedEnvelope)
	}
	if pkt.GetPayloadVariant() == nil {
		return nil, fmt.Errorf("%w: packet %d has no payload", ErrMalformedEnvelope, pkt.GetId())
	}

	return &env, nil
}
