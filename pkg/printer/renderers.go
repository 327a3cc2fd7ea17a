package printer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

const (
	DefaultPort    = "9100"
	defaultTimeout = 5 * time.Second
)

// NetworkRenderer sends ESC/POS data to a raw TCP printer port.
type NetworkRenderer struct {
	Addr     string
	Timeout  time.Duration
	Location *time.Location
}

// NewNetworkRenderer creates a renderer for addr. A missing port defaults to 9100.
func NewNetworkRenderer(addr string, timeout time.Duration, loc *time.Location) *NetworkRenderer {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, DefaultPort)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &NetworkRenderer{Addr: addr, Timeout: timeout, Location: loc}
}

func (r *NetworkRenderer) Name() string {
	return "network"
}

func (r *NetworkRenderer) Render(ctx context.Context, job Job) error {
	d := net.Dialer{Timeout: r.Timeout}
	conn, err := d.DialContext(ctx, "tcp", r.Addr)
	if err != nil {
		return fmt.Errorf("connect to printer %s: %w", r.Addr, err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(r.Timeout)); err != nil {
		return err
	}
	if err := Print(conn, job, r.Location); err != nil {
		return fmt.Errorf("write to printer %s: %w", r.Addr, err)
	}
	return nil
}

// DeviceRenderer writes ESC/POS data to a character device such as /dev/usb/lp0.
type DeviceRenderer struct {
	Path     string
	Location *time.Location

	// lookup finds the device node on every render, for printers addressed
	// by USB id that may be replugged under another lpN.
	lookup func() (string, error)
}

func NewDeviceRenderer(path string, loc *time.Location) *DeviceRenderer {
	return &DeviceRenderer{Path: path, Location: loc}
}

// NewUSBRenderer creates a device renderer for the USB printer with the
// given vendor and product id.
func NewUSBRenderer(sysRoot, devDir string, vendorID, productID uint16, loc *time.Location) *DeviceRenderer {
	return &DeviceRenderer{
		Path:     fmt.Sprintf("usb:%04x:%04x", vendorID, productID),
		Location: loc,
		lookup: func() (string, error) {
			return FindUSBPrinter(sysRoot, devDir, vendorID, productID)
		},
	}
}

func (r *DeviceRenderer) Name() string {
	return "device"
}

func (r *DeviceRenderer) Render(_ context.Context, job Job) error {
	path := r.Path
	if r.lookup != nil {
		var err error
		if path, err = r.lookup(); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("open printer device: %w", err)
	}
	if err := Print(f, job, r.Location); err != nil {
		_ = f.Close()
		return fmt.Errorf("write to printer device: %w", err)
	}
	return f.Close()
}

// LogRenderer prints nothing and only logs the telegram.
type LogRenderer struct {
	Log      *slog.Logger
	Location *time.Location
}

func NewLogRenderer(log *slog.Logger, loc *time.Location) *LogRenderer {
	if log == nil {
		log = slog.Default()
	}
	return &LogRenderer{Log: log, Location: loc}
}

func (r *LogRenderer) Name() string {
	return "log"
}

func (r *LogRenderer) Render(_ context.Context, job Job) error {
	r.Log.Info("telegram", "packet_id", job.PacketID, "from", job.From.ShortName, "to", job.To.ShortName,
		"body", strings.Join(Lines(job, r.Location), "\n"))
	return nil
}
