package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pb "github.com/kabili207/meshtastic-go/core/proto"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/kabili207/mesh-telegraph/pkg/meshtastic"
	"github.com/kabili207/mesh-telegraph/pkg/meshtastic/radio"
	"github.com/kabili207/mesh-telegraph/pkg/models"
	"github.com/kabili207/mesh-telegraph/pkg/printer"
	"github.com/kabili207/mesh-telegraph/pkg/registry"
	"github.com/kabili207/mesh-telegraph/pkg/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []printer.Job
	err  error
}

func (q *fakeQueue) Submit(job printer.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) Jobs() []printer.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]printer.Job(nil), q.jobs...)
}

type fakeSink struct {
	mu        sync.Mutex
	telegrams []models.Telegram
}

func (s *fakeSink) PublishTelegram(t models.Telegram) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telegrams = append(s.telegrams, t)
}

// failingPrintStore refuses to record prints.
type failingPrintStore struct {
	store.NodeStore
}

func (failingPrintStore) SetLastPrint(context.Context, uint32, time.Time) error {
	return errors.New("read-only database")
}

type harness struct {
	pipeline *Pipeline
	registry *registry.Registry
	queue    *fakeQueue
	sink     *fakeSink
	clock    *testClock
}

func newHarness(t *testing.T, nodes store.NodeStore, keys ...[]byte) *harness {
	t.Helper()
	if nodes == nil {
		nodes = store.NewMemoryNodeStore()
	}
	clock := &testClock{now: time.Date(2025, 5, 10, 14, 0, 0, 0, time.UTC)}
	reg := registry.New(nodes, registry.WithClock(clock.Now))

	var channelKeys []ChannelKey
	for i, k := range keys {
		channelKeys = append(channelKeys, ChannelKey{Name: string(rune('A' + i)), Key: k})
	}

	h := &harness{registry: reg, queue: &fakeQueue{}, sink: &fakeSink{}, clock: clock}
	p, err := New(Options{
		Registry:  reg,
		Keys:      channelKeys,
		Cooldown:  60 * time.Second,
		Printer:   h.queue,
		Telegrams: h.sink,
		Clock:     clock.Now,
	})
	require.NoError(t, err)
	h.pipeline = p
	return h
}

func (h *harness) process(t *testing.T, raw []byte) Result {
	t.Helper()
	return h.pipeline.Process(context.Background(), Message{Topic: "msh/US/2/e/LongFast/!00000001", Payload: raw})
}

func envelope(t *testing.T, pkt *pb.MeshPacket) []byte {
	t.Helper()
	raw, err := proto.Marshal(&pb.ServiceEnvelope{Packet: pkt, ChannelId: "LongFast", GatewayId: "!00000001"})
	require.NoError(t, err)
	return raw
}

func decodedPacket(id, from, to uint32, port pb.PortNum, payload []byte) *pb.MeshPacket {
	return &pb.MeshPacket{
		Id:   id,
		From: from,
		To:   to,
		PayloadVariant: &pb.MeshPacket_Decoded{
			Decoded: &pb.Data{Portnum: port, Payload: payload},
		},
	}
}

func encryptedPacket(t *testing.T, id, from, to uint32, key []byte, data *pb.Data) *pb.MeshPacket {
	t.Helper()
	ciphertext, err := radio.Encrypt(data, key, uint64(id), uint64(from))
	require.NoError(t, err)
	return &pb.MeshPacket{
		Id:             id,
		From:           from,
		To:             to,
		PayloadVariant: &pb.MeshPacket_Encrypted{Encrypted: ciphertext},
	}
}

func TestTextMessagePrintedOnceAndDuplicateDropped(t *testing.T) {
	h := newHarness(t, nil)
	raw := envelope(t, decodedPacket(1001, 42, meshtastic.BROADCAST_ID, pb.PortNum_TEXT_MESSAGE_APP, []byte("hello mesh")))

	res := h.process(t, raw)
	require.Equal(t, OutcomeHandled, res.Outcome)
	require.Equal(t, DecisionApproved, res.Decision)
	require.Equal(t, uint32(1001), res.PacketID)
	require.Equal(t, uint32(42), res.From)
	require.Equal(t, pb.PortNum_TEXT_MESSAGE_APP, res.Port)

	jobs := h.queue.Jobs()
	require.Len(t, jobs, 1)
	require.Equal(t, "hello mesh", jobs[0].Text)
	require.Equal(t, models.UnknownNodeView, jobs[0].From)
	require.Equal(t, models.BroadcastNodeView, jobs[0].To)

	node, err := h.registry.Get(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, node.LastPrint)
	printedAt := *node.LastPrint
	require.True(t, h.clock.Now().Equal(printedAt))

	h.clock.Advance(5 * time.Second)
	res = h.process(t, raw)
	require.Equal(t, OutcomeDuplicate, res.Outcome)
	require.ErrorIs(t, res.Err, ErrDuplicatePacket)
	require.Len(t, h.queue.Jobs(), 1)

	node, err = h.registry.Get(context.Background(), 42)
	require.NoError(t, err)
	require.True(t, printedAt.Equal(*node.LastPrint))

	stats := h.pipeline.Stats()
	require.Equal(t, uint64(2), stats.Received)
	require.Equal(t, uint64(1), stats.Duplicates)
	require.Equal(t, uint64(1), stats.Printed)
	require.Equal(t, 1, stats.SeenPackets)
}

func TestTextMessageCooldown(t *testing.T) {
	h := newHarness(t, nil)

	res := h.process(t, envelope(t, decodedPacket(1, 42, meshtastic.BROADCAST_ID, pb.PortNum_TEXT_MESSAGE_APP, []byte("one"))))
	require.Equal(t, DecisionApproved, res.Decision)

	h.clock.Advance(30 * time.Second)
	res = h.process(t, envelope(t, decodedPacket(2, 42, meshtastic.BROADCAST_ID, pb.PortNum_TEXT_MESSAGE_APP, []byte("two"))))
	require.Equal(t, OutcomeHandled, res.Outcome)
	require.Equal(t, DecisionSuppressed, res.Decision)

	// another sender is not affected
	res = h.process(t, envelope(t, decodedPacket(3, 43, meshtastic.BROADCAST_ID, pb.PortNum_TEXT_MESSAGE_APP, []byte("other"))))
	require.Equal(t, DecisionApproved, res.Decision)

	h.clock.Advance(31 * time.Second)
	res = h.process(t, envelope(t, decodedPacket(4, 42, meshtastic.BROADCAST_ID, pb.PortNum_TEXT_MESSAGE_APP, []byte("three"))))
	require.Equal(t, DecisionApproved, res.Decision)

	jobs := h.queue.Jobs()
	require.Len(t, jobs, 3)
	require.Equal(t, "three", jobs[2].Text)
	require.Equal(t, uint64(1), h.pipeline.Stats().Suppressed)

	require.Len(t, h.sink.telegrams, 4)
	require.Equal(t, "suppressed", h.sink.telegrams[1].Decision)
	require.Equal(t, "!0000002a", h.sink.telegrams[1].From)
}

func TestUndecryptablePacket(t *testing.T) {
	wrongKey := make([]byte, 16)
	for i := range wrongKey {
		wrongKey[i] = byte(0x5a ^ i)
	}
	h := newHarness(t, nil, wrongKey)

	pkt := encryptedPacket(t, 555, 42, meshtastic.BROADCAST_ID, radio.DefaultKey, &pb.Data{
		Portnum: pb.PortNum_TEXT_MESSAGE_APP,
		Payload: []byte("secret telegram text"),
	})

	res := h.process(t, envelope(t, pkt))
	require.Equal(t, OutcomeUndecryptable, res.Outcome)
	require.ErrorIs(t, res.Err, radio.ErrDecryptionFailure)
	require.Empty(t, h.queue.Jobs())

	// the id was still recorded
	require.True(t, h.pipeline.dedup.SeenAndRecord(555))

	// and so was the sender, with nothing printed yet
	node, err := h.registry.Get(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, node)
	require.True(t, h.clock.Now().Equal(node.LastSeen))
	require.Nil(t, node.LastPrint)
}

func TestEncryptedPacketDecryptsWithSecondKey(t *testing.T) {
	other := make([]byte, 32)
	for i := range other {
		other[i] = byte(i)
	}
	h := newHarness(t, nil, other, radio.DefaultKey)

	pkt := encryptedPacket(t, 777, 42, meshtastic.BROADCAST_ID, radio.DefaultKey, &pb.Data{
		Portnum: pb.PortNum_TEXT_MESSAGE_APP,
		Payload: []byte("over the air"),
	})

	res := h.process(t, envelope(t, pkt))
	require.Equal(t, OutcomeHandled, res.Outcome)
	require.Equal(t, DecisionApproved, res.Decision)
	require.Equal(t, "over the air", h.queue.Jobs()[0].Text)
	require.Equal(t, uint64(1), h.pipeline.Stats().Decrypted)
}

func TestNoKeysLeavesPacketEncrypted(t *testing.T) {
	h := newHarness(t, nil)
	pkt := encryptedPacket(t, 9, 42, meshtastic.BROADCAST_ID, radio.DefaultKey, &pb.Data{
		Portnum: pb.PortNum_TEXT_MESSAGE_APP,
		Payload: []byte("nobody can read this"),
	})
	res := h.process(t, envelope(t, pkt))
	require.Equal(t, OutcomeUndecryptable, res.Outcome)

	node, err := h.registry.Get(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, node)

	// a relay of the same packet is a duplicate and does not touch the registry again
	h.clock.Advance(time.Minute)
	res = h.process(t, envelope(t, pkt))
	require.Equal(t, OutcomeDuplicate, res.Outcome)
	node, err = h.registry.Get(context.Background(), 42)
	require.NoError(t, err)
	require.True(t, h.clock.Now().Add(-time.Minute).Equal(node.LastSeen))
}

func TestMalformedEnvelope(t *testing.T) {
	h := newHarness(t, nil)

	for _, raw := range [][]byte{
		{0xff, 0xff, 0xff},
		{},
		envelope(t, &pb.MeshPacket{Id: 1, From: 2}),
	} {
		res := h.process(t, raw)
		require.Equal(t, OutcomeMalformed, res.Outcome)
		require.ErrorIs(t, res.Err, ErrMalformedEnvelope)
	}
	require.Equal(t, uint64(3), h.pipeline.Stats().Malformed)
}

func TestNodeInfoThenText(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	user, err := proto.Marshal(&pb.User{
		Id:        "!0000002a",
		LongName:  "Alpha Bravo",
		ShortName: "AB",
		HwModel:   pb.HardwareModel_TBEAM,
	})
	require.NoError(t, err)

	res := h.process(t, envelope(t, decodedPacket(10, 42, meshtastic.BROADCAST_ID, pb.PortNum_NODEINFO_APP, user)))
	require.Equal(t, OutcomeHandled, res.Outcome)

	node, err := h.registry.Get(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, "AB", *node.ShortName)
	require.Equal(t, "Alpha Bravo", *node.LongName)
	require.Equal(t, int32(pb.HardwareModel_TBEAM), *node.HwModelID)
	require.Equal(t, pb.HardwareModel_TBEAM.String(), *node.HwModelName)

	// a later node info with empty names keeps the stored ones
	empty, err := proto.Marshal(&pb.User{Id: "!0000002a"})
	require.NoError(t, err)
	h.process(t, envelope(t, decodedPacket(11, 42, meshtastic.BROADCAST_ID, pb.PortNum_NODEINFO_APP, empty)))

	node, err = h.registry.Get(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, "AB", *node.ShortName)
	require.Equal(t, int32(pb.HardwareModel_TBEAM), *node.HwModelID)

	h.process(t, envelope(t, decodedPacket(12, 42, 43, pb.PortNum_TEXT_MESSAGE_APP, []byte("hi there"))))
	jobs := h.queue.Jobs()
	require.Len(t, jobs, 1)
	require.Equal(t, models.NodeView{ShortName: "AB", LongName: "Alpha Bravo"}, jobs[0].From)
	require.Equal(t, models.UnknownNodeView, jobs[0].To)
}

func TestSightingRecordedForOtherPorts(t *testing.T) {
	h := newHarness(t, nil)

	lat, lon := int32(401234567), int32(-751234567)
	pos, err := proto.Marshal(&pb.Position{LatitudeI: &lat, LongitudeI: &lon})
	require.NoError(t, err)

	res := h.process(t, envelope(t, decodedPacket(20, 99, meshtastic.BROADCAST_ID, pb.PortNum_POSITION_APP, pos)))
	require.Equal(t, OutcomeHandled, res.Outcome)

	node, err := h.registry.Get(context.Background(), 99)
	require.NoError(t, err)
	require.NotNil(t, node)
	require.Nil(t, node.ShortName)
}

func TestTelemetryAndUnknownPorts(t *testing.T) {
	h := newHarness(t, nil)

	tel, err := proto.Marshal(&pb.Telemetry{
		Variant: &pb.Telemetry_DeviceMetrics{DeviceMetrics: &pb.DeviceMetrics{}},
	})
	require.NoError(t, err)

	res := h.process(t, envelope(t, decodedPacket(30, 5, meshtastic.BROADCAST_ID, pb.PortNum_TELEMETRY_APP, tel)))
	require.Equal(t, OutcomeHandled, res.Outcome)

	res = h.process(t, envelope(t, decodedPacket(31, 5, meshtastic.BROADCAST_ID, pb.PortNum_RANGE_TEST_APP, []byte("seq 1"))))
	require.Equal(t, OutcomeHandled, res.Outcome)
}

func TestHandlerFailureIsContained(t *testing.T) {
	h := newHarness(t, nil)

	res := h.process(t, envelope(t, decodedPacket(40, 5, meshtastic.BROADCAST_ID, pb.PortNum_POSITION_APP, []byte{0xff, 0xff, 0xff})))
	require.Equal(t, OutcomeFailed, res.Outcome)
	require.ErrorIs(t, res.Err, ErrHandlerFailure)

	// the pipeline keeps going
	res = h.process(t, envelope(t, decodedPacket(41, 5, meshtastic.BROADCAST_ID, pb.PortNum_TEXT_MESSAGE_APP, []byte("still here"))))
	require.Equal(t, OutcomeHandled, res.Outcome)
	require.Equal(t, uint64(1), h.pipeline.Stats().HandlerFailures)
}

func TestPrintNotQueuedWhenTimestampFails(t *testing.T) {
	h := newHarness(t, failingPrintStore{NodeStore: store.NewMemoryNodeStore()})

	res := h.process(t, envelope(t, decodedPacket(50, 42, meshtastic.BROADCAST_ID, pb.PortNum_TEXT_MESSAGE_APP, []byte("no record, no print"))))
	require.Equal(t, OutcomeHandled, res.Outcome)
	require.Equal(t, DecisionFailed, res.Decision)
	require.Empty(t, h.queue.Jobs())
	require.Equal(t, uint64(1), h.pipeline.Stats().PrintFailures)
}

func TestQueueFailureKeepsLastPrint(t *testing.T) {
	h := newHarness(t, nil)
	h.queue.err = printer.ErrSpoolerFull

	res := h.process(t, envelope(t, decodedPacket(60, 42, meshtastic.BROADCAST_ID, pb.PortNum_TEXT_MESSAGE_APP, []byte("lost"))))
	require.Equal(t, DecisionApproved, res.Decision)

	node, err := h.registry.Get(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, node.LastPrint)
	require.Equal(t, uint64(1), h.pipeline.Stats().PrintFailures)
}

func TestInvalidUTF8Text(t *testing.T) {
	h := newHarness(t, nil)
	h.process(t, envelope(t, decodedPacket(70, 42, meshtastic.BROADCAST_ID, pb.PortNum_TEXT_MESSAGE_APP, []byte{'o', 'k', 0xff})))
	jobs := h.queue.Jobs()
	require.Len(t, jobs, 1)
	require.Equal(t, "ok\uFFFD", jobs[0].Text)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	reg := registry.New(store.NewMemoryNodeStore())
	_, err = New(Options{Registry: reg})
	require.Error(t, err)
}
