package printer

import (
	"io"
	"strings"
	"time"

	"github.com/justinmichaelvieira/escpos"
	"golang.org/x/text/encoding/charmap"
)

const (
	headerTitle = "MESHTASTIC TELEGRAM"
	timeLayout  = "02 January 2006 15:04 MST"
	feedLines   = 5
)

// ESC t 0 selects code page 437, which the escpos package has no helper for.
var selectCodePage437 = []byte{0x1b, 0x74, 0x00}

// Lines returns the printable lines of a telegram, without any printer
// commands. Empty strings are blank lines.
func Lines(job Job, loc *time.Location) []string {
	if loc == nil {
		loc = time.Local
	}
	received := job.ReceivedAt
	if received.IsZero() {
		received = time.Now()
	}

	lines := []string{
		headerTitle,
		strings.Repeat("=", len(headerTitle)+2),
		"",
		strings.ToUpper("Received: " + received.In(loc).Format(timeLayout)),
		"",
	}
	lines = append(lines, strings.Split(strings.ToUpper(job.Text), "\n")...)
	lines = append(lines,
		"",
		strings.ToUpper("--"+job.From.ShortName+" / "+job.From.LongName),
	)
	return lines
}

// Print sends job to the printer behind dst: a bold double size header, the
// body left aligned, the centered signature, then a feed and a cut. It returns
// the first error dst reported.
func Print(dst io.Writer, job Job, loc *time.Location) error {
	w := &errWriter{w: dst}
	lines := Lines(job, loc)
	header, body, signature := lines[:2], lines[2:len(lines)-1], lines[len(lines)-1]

	p := escpos.New(w)
	p.Initialize()
	p.WriteRaw(selectCodePage437)

	p.Justify(escpos.JustifyCenter)
	p.Bold(true)
	p.Size(2, 2)
	for _, l := range header {
		p.WriteRaw(EncodeCP437(l))
		p.LineFeed()
	}
	p.Size(1, 1)
	p.Bold(false)

	p.Justify(escpos.JustifyLeft)
	for _, l := range body {
		p.WriteRaw(EncodeCP437(l))
		p.LineFeed()
	}

	p.Justify(escpos.JustifyCenter)
	p.WriteRaw(EncodeCP437(signature))
	for range feedLines {
		p.LineFeed()
	}
	p.Justify(escpos.JustifyLeft)
	p.Cut()

	return w.err
}

// EncodeCP437 encodes s for the printer. Runes outside code page 437 become
// '?' and control characters are blanked so message text can never inject
// printer commands.
func EncodeCP437(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			out = append(out, ' ')
			continue
		}
		b, ok := charmap.CodePage437.EncodeRune(r)
		if !ok || b < 0x20 || b == 0x7f {
			out = append(out, '?')
			continue
		}
		out = append(out, b)
	}
	return out
}

// errWriter remembers the first write error, since the escpos command
// helpers do not return one. Reads go to the underlying printer when it
// supports them.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(b []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(b)
	if err != nil {
		e.err = err
	}
	return n, err
}

func (e *errWriter) Read(b []byte) (int, error) {
	if r, ok := e.w.(io.Reader); ok {
		return r.Read(b)
	}
	return 0, io.EOF
}
