package components

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/a-h/templ"

	"github.com/kabili207/mesh-telegraph/pkg/models"
)

const displayTime = "2006-01-02 15:04:05"

// html writes markup fragments and keeps the first error.
type html struct {
	w   io.Writer
	err error
}

func (h *html) raw(s string) {
	if h.err == nil {
		_, h.err = io.WriteString(h.w, s)
	}
}

func (h *html) text(s string) {
	h.raw(templ.EscapeString(s))
}

func (h *html) render(ctx context.Context, c templ.Component) {
	if h.err == nil {
		h.err = c.Render(ctx, h.w)
	}
}

// Layout wraps body in the page skeleton.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		h.raw(`<meta name="viewport" content="width=device-width, initial-scale=1"><title>`)
		h.text(title)
		h.raw(`</title><link rel="stylesheet" href="/static/style.css"></head><body><h1>`)
		h.text(title)
		h.raw(`</h1>`)
		h.render(ctx, body)
		h.raw(`<script src="/static/telegraph.js"></script></body></html>`)
		return h.err
	})
}

// Dashboard renders the status page: pipeline counters, recent telegrams
// newest first, and the node registry.
func Dashboard(data DashboardPageData) templ.Component {
	return Layout(data.PageTitle, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &html{w: w}
		h.render(ctx, StatsTable(data))
		h.render(ctx, TelegramsTable(data.Telegrams, data.SSEEndpoint))
		h.render(ctx, NodesTable(data.Nodes))
		return h.err
	}))
}

func StatsTable(data DashboardPageData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		s := data.Stats
		h := &html{w: w}
		h.raw(`<h2>Pipeline</h2><table>`)
		for _, row := range []struct {
			label string
			value uint64
		}{
			{"Received", s.Received},
			{"Decrypted", s.Decrypted},
			{"Duplicates", s.Duplicates},
			{"Undecryptable", s.Undecryptable},
			{"Malformed", s.Malformed},
			{"Printed", s.Printed},
			{"Suppressed", s.Suppressed},
			{"Print failures", s.PrintFailures},
		} {
			h.raw(`<tr><th>`)
			h.text(row.label)
			h.raw(`</th><td>`)
			h.text(fmt.Sprint(row.value))
			h.raw(`</td></tr>`)
		}
		h.raw(`</table>`)
		return h.err
	})
}

// TelegramsTable lists telegrams newest first. The table subscribes to
// sseEndpoint for rows added later.
func TelegramsTable(telegrams []models.Telegram, sseEndpoint string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<h2>Recent telegrams</h2><table id="telegrams" data-sse="`)
		h.text(sseEndpoint)
		h.raw(`"><thead><tr><th>Received</th><th>From</th><th>To</th><th>Text</th><th>Decision</th></tr></thead><tbody>`)
		if len(telegrams) == 0 {
			h.raw(`<tr id="no-telegrams"><td colspan="5">No telegrams yet</td></tr>`)
		}
		for i := len(telegrams) - 1; i >= 0; i-- {
			h.render(ctx, TelegramRow(telegrams[i]))
		}
		h.raw(`</tbody></table>`)
		return h.err
	})
}

// TelegramRow is one telegram as a table row. It is also the payload of the
// telegram SSE event.
func TelegramRow(t models.Telegram) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<tr><td>`)
		h.text(formatTime(t.ReceivedAt))
		h.raw(`</td><td>`)
		h.text(nodeLabel(t.FromView, t.From))
		h.raw(`</td><td>`)
		h.text(nodeLabel(t.ToView, t.To))
		h.raw(`</td><td>`)
		for i, line := range strings.Split(t.Text, "\n") {
			if i > 0 {
				h.raw(`<br>`)
			}
			h.text(line)
		}
		h.raw(`</td><td class="`)
		h.text(t.Decision)
		h.raw(`">`)
		h.text(t.Decision)
		h.raw(`</td></tr>`)
		return h.err
	})
}

func NodesTable(nodes []NodeData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<h2>Nodes</h2><table><thead><tr><th>Node</th><th>Short</th><th>Long</th><th>Hardware</th><th>Last seen</th><th>Last print</th></tr></thead><tbody>`)
		for _, n := range nodes {
			h.raw(`<tr><td>`)
			h.text(n.NodeID)
			h.raw(`</td><td>`)
			h.text(n.ShortName)
			h.raw(`</td><td>`)
			h.text(n.LongName)
			h.raw(`</td><td>`)
			h.text(n.HwModel)
			h.raw(`</td><td>`)
			h.text(formatTime(n.LastSeen))
			h.raw(`</td><td>`)
			if n.LastPrint != nil {
				h.text(formatTime(*n.LastPrint))
			}
			h.raw(`</td></tr>`)
		}
		h.raw(`</tbody></table>`)
		return h.err
	})
}

func nodeLabel(v models.NodeView, id string) string {
	if id == "" {
		return v.ShortName
	}
	return v.ShortName + " (" + id + ")"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(displayTime)
}
