// Package pipeline turns raw MQTT payloads into node registry updates and
// printed telegrams.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	pb "github.com/kabili207/meshtastic-go/core/proto"

	"github.com/kabili207/mesh-telegraph/pkg/meshtastic"
	"github.com/kabili207/mesh-telegraph/pkg/meshtastic/radio"
	"github.com/kabili207/mesh-telegraph/pkg/models"
	"github.com/kabili207/mesh-telegraph/pkg/printer"
	"github.com/kabili207/mesh-telegraph/pkg/registry"
)

// Message is one publish received from the transport.
type Message struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// ChannelKey is the pre-shared key of one mesh channel.
type ChannelKey struct {
	Name string
	Key  []byte
}

// PrintQueue accepts approved telegrams.
type PrintQueue interface {
	Submit(job printer.Job) error
}

// TelegramSink is told about every text message and the print decision made for it.
type TelegramSink interface {
	PublishTelegram(t models.Telegram)
}

type Outcome int

const (
	OutcomeHandled Outcome = iota
	OutcomeMalformed
	OutcomeDuplicate
	OutcomeUndecryptable
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHandled:
		return "handled"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeUndecryptable:
		return "undecryptable"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result reports what Process did with a message.
type Result struct {
	Outcome  Outcome
	PacketID uint32
	From     uint32
	Port     pb.PortNum
	Decision Decision
	Err      error
}

type Options struct {
	Registry  *registry.Registry
	Dedup     *Deduplicator
	Keys      []ChannelKey
	Cooldown  time.Duration
	Printer   PrintQueue
	Telegrams TelegramSink
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Pipeline is safe for concurrent use by several workers.
type Pipeline struct {
	registry   *registry.Registry
	dedup      *Deduplicator
	keys       []ChannelKey
	gate       *PrintGate
	printer    PrintQueue
	telegrams  TelegramSink
	dispatcher *Dispatcher
	log        *slog.Logger
	now        func() time.Time
	stats      counters
}

func New(opts Options) (*Pipeline, error) {
	if opts.Registry == nil {
		return nil, errors.New("pipeline requires a node registry")
	}
	if opts.Printer == nil {
		return nil, errors.New("pipeline requires a print queue")
	}
	if opts.Dedup == nil {
		opts.Dedup = NewDeduplicator(0, 0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	p := &Pipeline{
		registry:  opts.Registry,
		dedup:     opts.Dedup,
		keys:      opts.Keys,
		gate:      NewPrintGate(opts.Registry, opts.Cooldown),
		printer:   opts.Printer,
		telegrams: opts.Telegrams,
		log:       opts.Logger,
		now:       opts.Clock,
	}
	p.registerHandlers()
	return p, nil
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	s := p.stats.snapshot()
	s.SeenPackets = p.dedup.Len()
	return s
}

// Process runs one message through decode, decrypt, dedup and dispatch.
// It never fails; problems are logged and described by the Result.
func (p *Pipeline) Process(ctx context.Context, msg Message) Result {
	p.stats.received.Add(1)

	env, err := DecodeEnvelope(msg.Payload)
	if err != nil {
		p.stats.malformed.Add(1)
		p.log.Warn("dropping malformed envelope", "topic", msg.Topic, "error", err)
		return Result{Outcome: OutcomeMalformed, Err: err}
	}

	pkt := env.GetPacket()
	res := Result{PacketID: pkt.GetId(), From: pkt.GetFrom()}
	log := p.log.With("packet_id", pkt.GetId(), "from", meshtastic.NodeID(pkt.GetFrom()))

	if enc, ok := pkt.GetPayloadVariant().(*pb.MeshPacket_Encrypted); ok {
		if data := p.decrypt(pkt.GetId(), pkt.GetFrom(), enc.Encrypted); data != nil {
			pkt.PayloadVariant = &pb.MeshPacket_Decoded{Decoded: data}
			p.stats.decrypted.Add(1)
		}
	}

	// undecryptable packets are recorded too, so relays of them stay quiet
	if p.dedup.SeenAndRecord(pkt.GetId()) {
		p.stats.duplicates.Add(1)
		log.Debug("duplicate packet, skipping")
		res.Outcome, res.Err = OutcomeDuplicate, ErrDuplicatePacket
		return res
	}

	data := pkt.GetDecoded()
	if data == nil {
		p.stats.undecryptable.Add(1)
		log.Info("encrypted payload", "topic", msg.Topic, "channel", env.GetChannelId())
		p.recordSighting(ctx, log, pkt.GetFrom())
		res.Outcome, res.Err = OutcomeUndecryptable, radio.ErrDecryptionFailure
		return res
	}

	res.Port = data.GetPortnum()
	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = p.now()
	}

	log = log.With("port", meshtastic.PortNumName(int32(data.GetPortnum())))
	log.Debug("packet",
		"to", meshtastic.NodeID(pkt.GetTo()),
		"channel", pkt.GetChannel(),
		"gateway", env.GetGatewayId(),
		"rx_time", pkt.GetRxTime(),
		"rx_snr", pkt.GetRxSnr(),
		"rx_rssi", pkt.GetRxRssi(),
		"hop_limit", pkt.GetHopLimit(),
	)

	if data.GetPortnum() != pb.PortNum_NODEINFO_APP {
		p.recordSighting(ctx, log, pkt.GetFrom())
	}

	packet := &Packet{
		Envelope:   env,
		Mesh:       pkt,
		Data:       data,
		Topic:      msg.Topic,
		ReceivedAt: receivedAt,
		Log:        log,
	}
	p.stats.dispatched.Add(1)
	if err := p.dispatcher.Dispatch(ctx, packet); err != nil {
		p.stats.failures.Add(1)
		log.Warn("error processing packet", "error", err)
		res.Outcome, res.Err = OutcomeFailed, err
		res.Decision = packet.Decision
		return res
	}

	res.Outcome = OutcomeHandled
	res.Decision = packet.Decision
	return res
}

// decrypt tries every configured channel key and returns the first payload
// that decrypts cleanly.
func (p *Pipeline) decrypt(packetID, from uint32, ciphertext []byte) *pb.Data {
	for _, ck := range p.keys {
		data, err := radio.Decrypt(uint64(packetID), uint64(from), ciphertext, ck.Key)
		if err == nil {
			return data
		}
	}
	return nil
}

func (p *Pipeline) recordSighting(ctx context.Context, log *slog.Logger, from uint32) {
	if from == 0 || meshtastic.NodeID(from).IsBroadcast() {
		return
	}
	if _, err := p.registry.Upsert(ctx, registry.NodeUpdate{NodeID: from}); err != nil {
		log.Warn("failed to record node sighting", "error", err)
	}
}
