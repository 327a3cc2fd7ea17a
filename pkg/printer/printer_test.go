package printer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kabili207/mesh-telegraph/pkg/models"
	"github.com/stretchr/testify/require"
)

func testJob() Job {
	return Job{
		PacketID:   1,
		FromID:     42,
		ToID:       0xffffffff,
		From:       models.NodeView{ShortName: "ab", LongName: "Alpha Bravo"},
		To:         models.BroadcastNodeView,
		Text:       "hello mesh",
		ReceivedAt: time.Date(2025, 7, 4, 18, 30, 0, 0, time.UTC),
	}
}

func TestLines(t *testing.T) {
	lines := Lines(testJob(), time.UTC)
	require.Equal(t, []string{
		"MESHTASTIC TELEGRAM",
		"=====================",
		"",
		"RECEIVED: 04 JULY 2025 18:30 UTC",
		"",
		"HELLO MESH",
		"",
		"--AB / ALPHA BRAVO",
	}, lines)
}

func TestPrint(t *testing.T) {
	job := testJob()
	job.Text = "café \x1b@ ☃"

	var buf bytes.Buffer
	require.NoError(t, Print(&buf, job, time.UTC))
	out := buf.String()

	require.True(t, strings.HasPrefix(out, "\x1b@"))
	require.Contains(t, out, "\x1bt\x00")
	require.Contains(t, out, "MESHTASTIC TELEGRAM")
	require.Contains(t, out, "--AB / ALPHA BRAVO")
	require.Contains(t, out, "\x1dV")

	// É is 0x90 in code page 437, the snowman has no mapping and the
	// escape from the message body is blanked
	require.Contains(t, out, "CAF\x90  @ ?")
	require.Less(t, strings.Index(out, "MESHTASTIC TELEGRAM"), strings.Index(out, "CAF\x90"))
	require.Less(t, strings.Index(out, "CAF\x90"), strings.Index(out, "--AB / ALPHA BRAVO"))
}

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

func TestPrintReportsWriteError(t *testing.T) {
	paperOut := errors.New("paper out")
	err := Print(failingWriter{err: paperOut}, testJob(), time.UTC)
	require.ErrorIs(t, err, paperOut)
}

func TestEncodeCP437(t *testing.T) {
	require.Equal(t, []byte("HI  THERE"), EncodeCP437("HI\r\nTHERE"))
	require.Equal(t, []byte{'A', 0x81, '?'}, EncodeCP437("Aü✓"))
	require.Equal(t, []byte(" "), EncodeCP437("\x7f"))
}

type recordingRenderer struct {
	mu   sync.Mutex
	jobs []Job
	fail error
}

func (r *recordingRenderer) Name() string { return "recording" }

func (r *recordingRenderer) Render(_ context.Context, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.jobs = append(r.jobs, job)
	return nil
}

func TestSpoolerDrainsOnClose(t *testing.T) {
	r := &recordingRenderer{}
	s := NewSpooler(r, 8, time.Second, nil)

	for i := range 5 {
		job := testJob()
		job.PacketID = uint32(i)
		require.NoError(t, s.Submit(job))
	}
	s.Close()

	require.Len(t, r.jobs, 5)
	for i, job := range r.jobs {
		require.Equal(t, uint32(i), job.PacketID)
	}
	require.ErrorIs(t, s.Submit(testJob()), ErrSpoolerClosed)

	// closing twice is harmless
	s.Close()
}

func TestSpoolerSurvivesRenderFailure(t *testing.T) {
	r := &recordingRenderer{fail: errors.New("out of paper")}
	s := NewSpooler(r, 4, time.Second, nil)
	require.NoError(t, s.Submit(testJob()))
	s.Close()
	require.Empty(t, r.jobs)
}

func TestNetworkRenderer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- data
	}()

	r := NewNetworkRenderer(ln.Addr().String(), time.Second, time.UTC)
	require.NoError(t, r.Render(context.Background(), testJob()))

	select {
	case data := <-received:
		var want bytes.Buffer
		require.NoError(t, Print(&want, testJob(), time.UTC))
		require.Equal(t, want.Bytes(), data)
	case <-time.After(2 * time.Second):
		t.Fatal("printer did not receive data")
	}
}

func TestNetworkRendererDefaultPort(t *testing.T) {
	r := NewNetworkRenderer("192.0.2.10", 0, nil)
	require.Equal(t, "192.0.2.10:9100", r.Addr)
	require.Equal(t, defaultTimeout, r.Timeout)
}

func TestDeviceRenderer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lp0")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	r := NewDeviceRenderer(path, time.UTC)
	require.NoError(t, r.Render(context.Background(), testJob()))
	require.NoError(t, r.Render(context.Background(), testJob()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, 2, strings.Count(string(data), "MESHTASTIC TELEGRAM"))

	missing := NewDeviceRenderer(filepath.Join(t.TempDir(), "nope"), nil)
	require.Error(t, missing.Render(context.Background(), testJob()))
}
