package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kabili207/mesh-telegraph/pkg/config"
)

func TestRunNetworkPrinter(t *testing.T) {
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

	cfg := config.PrinterSettings{Type: config.PrinterNetwork, Address: ln.Addr().String(), Timeout: time.Second}
	require.NoError(t, run(context.Background(), cfg, sampleText, slog.Default()))

	select {
	case data := <-received:
		require.Contains(t, string(data), "RECEIPT PRINTER TEST")
		require.Contains(t, string(data), "--TEST / TELEGRAPH SELF TEST")
		// É in code page 437
		require.Contains(t, string(data), "CAF\x90")
	case <-time.After(2 * time.Second):
		t.Fatal("printer did not receive data")
	}
}

func TestRunUnknownPrinter(t *testing.T) {
	err := run(context.Background(), config.PrinterSettings{Type: "fax"}, "x", slog.Default())
	require.Error(t, err)
}
