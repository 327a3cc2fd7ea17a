package printer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	DefaultSysfsRoot = "/sys"
	DefaultUSBDevDir = "/dev/usb"
)

var ErrPrinterNotFound = errors.New("usb printer not found")

// ParseUSBID parses a hex vendor or product id such as 0x04b8 or 04b8.
func ParseUSBID(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid usb id %q: %w", s, err)
	}
	return uint16(v), nil
}

// FindUSBPrinter returns the usblp device node in devDir of the printer with
// the given vendor and product id. Each class/usbmisc/lpN entry under sysRoot
// links to the printer's USB interface, whose parent holds the ids.
func FindUSBPrinter(sysRoot, devDir string, vendorID, productID uint16) (string, error) {
	entries, err := filepath.Glob(filepath.Join(sysRoot, "class", "usbmisc", "lp*"))
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		iface, err := filepath.EvalSymlinks(filepath.Join(entry, "device"))
		if err != nil {
			continue
		}
		usbDev := filepath.Dir(iface)
		vid, err := readUSBID(filepath.Join(usbDev, "idVendor"))
		if err != nil || vid != vendorID {
			continue
		}
		pid, err := readUSBID(filepath.Join(usbDev, "idProduct"))
		if err != nil || pid != productID {
			continue
		}
		return filepath.Join(devDir, filepath.Base(entry)), nil
	}
	return "", fmt.Errorf("%w: %04x:%04x", ErrPrinterNotFound, vendorID, productID)
}

func readUSBID(path string) (uint16, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return ParseUSBID(string(b))
}
