package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pb "github.com/kabili207/meshtastic-go/core/proto"
)

// Packet is a decoded mesh packet on its way through the dispatcher.
type Packet struct {
	Envelope   *pb.ServiceEnvelope
	Mesh       *pb.MeshPacket
	Data       *pb.Data
	Topic      string
	ReceivedAt time.Time
	Log        *slog.Logger

	// Decision is set by the text handler.
	Decision Decision
}

func (p *Packet) ID() uint32 { return p.Mesh.GetId() }
func (p *Packet) From() uint32 { return p.Mesh.GetFrom() }
func (p *Packet) To() uint32 { return p.Mesh.GetTo() }
func (p *Packet) Port() pb.PortNum { return p.Data.GetPortnum() }
func (p *Packet) Payload() []byte { return p.Data.GetPayload() }

// Handler processes the payload of one port.
type Handler func(ctx context.Context, pkt *Packet) error

// Dispatcher routes packets to a handler by port number. Ports without a
// registered handler go to the fallback.
type Dispatcher struct {
	handlers map[pb.PortNum]Handler
	fallback Handler
}

func NewDispatcher(fallback Handler) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[pb.PortNum]Handler),
		fallback: fallback,
	}
}

// Register installs h for port, replacing any previous handler.
func (d *Dispatcher) Register(port pb.PortNum, h Handler) {
	d.handlers[port] = h
}

// Dispatch runs the handler for the packet's port. Handler errors and panics
// are returned wrapped in ErrHandlerFailure.
func (d *Dispatcher) Dispatch(ctx context.Context, pkt *Packet) (err error) {
	h, ok := d.handlers[pkt.Port()]
	if !ok {
		h = d.fallback
	}
	if h == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrHandlerFailure, r)
		}
	}()

	if err := h(ctx, pkt); err != nil {
		return fmt.Errorf("%w: %w", ErrHandlerFailure, err)
	}
	return nil
}
