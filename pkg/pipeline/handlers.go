package pipeline

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	pb "github.com/kabili207/meshtastic-go/core/proto"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/kabili207/mesh-telegraph/pkg/meshtastic"
	"github.com/kabili207/mesh-telegraph/pkg/models"
	"github.com/kabili207/mesh-telegraph/pkg/printer"
	"github.com/kabili207/mesh-telegraph/pkg/registry"
)

func (p *Pipeline) registerHandlers() {
	p.dispatcher = NewDispatcher(p.handleGeneric)
	p.dispatcher.Register(pb.PortNum_TEXT_MESSAGE_APP, p.handleText)
	p.dispatcher.Register(pb.PortNum_NODEINFO_APP, p.handleNodeInfo)
	p.dispatcher.Register(pb.PortNum_POSITION_APP, p.handlePosition)
	p.dispatcher.Register(pb.PortNum_TELEMETRY_APP, p.handleTelemetry)
}

func (p *Pipeline) handleText(ctx context.Context, pkt *Packet) error {
	text := decodeText(pkt.Payload())
	from := p.registry.Lookup(ctx, pkt.From())
	to := p.registry.Lookup(ctx, pkt.To())
	pkt.Log.Debug("text message", "text", text, "from_name", from.ShortName, "to_name", to.ShortName)

	decision, err := p.gate.Decide(ctx, pkt.From())
	pkt.Decision = decision

	switch decision {
	case DecisionApproved:
		pkt.Log.Info("printing telegram", "from_name", from.ShortName, "text", text)
		job := printer.Job{
			PacketID:   pkt.ID(),
			FromID:     pkt.From(),
			ToID:       pkt.To(),
			From:       from,
			To:         to,
			Text:       text,
			ReceivedAt: pkt.ReceivedAt,
		}
		if err := p.printer.Submit(job); err != nil {
			// last_print stays recorded; the cooldown still applies
			p.stats.printFailures.Add(1)
			pkt.Log.Error("failed to queue telegram", "error", err)
		} else {
			p.stats.printed.Add(1)
		}
	case DecisionSuppressed:
		p.stats.suppressed.Add(1)
		pkt.Log.Info("rate limiting, skipping message", "from_name", from.ShortName, "cooldown", p.gate.Cooldown())
	case DecisionFailed:
		p.stats.printFailures.Add(1)
		pkt.Log.Warn("failed to record print time, skipping print", "error", err)
	}

	if p.telegrams != nil {
		p.telegrams.PublishTelegram(models.Telegram{
			PacketID:   pkt.ID(),
			From:       meshtastic.NodeID(pkt.From()).String(),
			FromView:   from,
			To:         meshtastic.NodeID(pkt.To()).String(),
			ToView:     to,
			Text:       text,
			Decision:   decision.String(),
			ReceivedAt: pkt.ReceivedAt,
		})
	}
	return nil
}

func (p *Pipeline) handleNodeInfo(ctx context.Context, pkt *Packet) error {
	var user pb.User
	if err := proto.Unmarshal(pkt.Payload(), &user); err != nil {
		return fmt.Errorf("decode user: %w", err)
	}

	update := registry.NodeUpdate{NodeID: pkt.From()}
	if s := user.GetShortName(); s != "" {
		update.ShortName = &s
	}
	if s := user.GetLongName(); s != "" {
		update.LongName = &s
	}
	if hw := user.GetHwModel(); hw != pb.HardwareModel_UNSET {
		id := int32(hw)
		name := meshtastic.HardwareModelName(id)
		update.HwModelID = &id
		update.HwModelName = &name
	}

	pkt.Log.Debug("node info", "user_id", user.GetId(), "long_name", user.GetLongName(),
		"short_name", user.GetShortName(), "hw_model", meshtastic.HardwareModelName(int32(user.GetHwModel())))

	res, err := p.registry.Upsert(ctx, update)
	if err != nil {
		return fmt.Errorf("save node: %w", err)
	}

	switch res {
	case registry.Created:
		pkt.Log.Info("added new node", "short_name", user.GetShortName(), "long_name", user.GetLongName())
	case registry.Updated:
		pkt.Log.Info("updated node", "short_name", user.GetShortName(), "long_name", user.GetLongName())
	default:
		pkt.Log.Debug("updated last_seen")
	}
	return nil
}

func (p *Pipeline) handlePosition(_ context.Context, pkt *Packet) error {
	var pos pb.Position
	if err := proto.Unmarshal(pkt.Payload(), &pos); err != nil {
		return fmt.Errorf("decode position: %w", err)
	}

	attrs := []any{}
	if pos.LatitudeI != nil && pos.LongitudeI != nil {
		attrs = append(attrs,
			"lat", float64(pos.GetLatitudeI())*1e-7,
			"lon", float64(pos.GetLongitudeI())*1e-7,
		)
	}
	if pos.Altitude != nil {
		attrs = append(attrs, "alt", pos.GetAltitude())
	}
	pkt.Log.Debug("position", attrs...)
	pkt.Log.Debug("position fields", fieldAttrs(&pos)...)
	return nil
}

func (p *Pipeline) handleTelemetry(_ context.Context, pkt *Packet) error {
	var tel pb.Telemetry
	if err := proto.Unmarshal(pkt.Payload(), &tel); err != nil {
		return fmt.Errorf("decode telemetry: %w", err)
	}

	dm := tel.GetDeviceMetrics()
	if dm == nil {
		pkt.Log.Debug("telemetry", fieldAttrs(&tel)...)
		return nil
	}
	pkt.Log.Debug("device metrics", fieldAttrs(dm)...)
	return nil
}

// handleGeneric logs the field layout of payloads nobody handles. Payloads
// are not required to be protobuf, so it never fails.
func (p *Pipeline) handleGeneric(_ context.Context, pkt *Packet) error {
	pkt.Log.Debug("unhandled port", "bytes", len(pkt.Payload()), "fields", wireFields(pkt.Payload()))
	return nil
}

// decodeText decodes a text payload, replacing invalid UTF-8 with U+FFFD.
func decodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

func fieldAttrs(m proto.Message) []any {
	var attrs []any
	m.ProtoReflect().Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		attrs = append(attrs, string(fd.Name()), v.String())
		return true
	})
	return attrs
}

// wireFields lists the field numbers and wire types of a protobuf payload.
func wireFields(b []byte) []string {
	var fields []string
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return append(fields, "malformed")
		}
		b = b[n:]

		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return append(fields, "malformed")
		}
		b = b[m:]

		fields = append(fields, fmt.Sprintf("%d:%s", num, wireTypeName(typ)))
	}
	return fields
}

func wireTypeName(t protowire.Type) string {
	switch t {
	case protowire.VarintType:
		return "varint"
	case protowire.Fixed32Type:
		return "fixed32"
	case protowire.Fixed64Type:
		return "fixed64"
	case protowire.BytesType:
		return "bytes"
	case protowire.StartGroupType, protowire.EndGroupType:
		return "group"
	default:
		return "unknown"
	}
}
