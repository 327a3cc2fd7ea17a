package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/kabili207/mesh-telegraph/internal/web/components"
	"github.com/kabili207/mesh-telegraph/pkg/models"
)

const (
	DefaultRecentTelegrams = 50
	defaultHeartbeat       = 30 * time.Second
)

// TelegramFeed keeps the most recent telegrams and fans new ones out to SSE
// subscribers. It implements pipeline.TelegramSink.
type TelegramFeed struct {
	mu          sync.RWMutex
	recent      []models.Telegram
	size        int
	subscribers map[chan models.Telegram]struct{}
}

// NewTelegramFeed creates a feed remembering up to size telegrams.
func NewTelegramFeed(size int) *TelegramFeed {
	if size <= 0 {
		size = DefaultRecentTelegrams
	}
	return &TelegramFeed{
		size:        size,
		subscribers: make(map[chan models.Telegram]struct{}),
	}
}

// PublishTelegram records t and notifies subscribers. Slow subscribers miss
// telegrams rather than block the pipeline.
func (f *TelegramFeed) PublishTelegram(t models.Telegram) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.recent = append(f.recent, t)
	if over := len(f.recent) - f.size; over > 0 {
		f.recent = slices.Delete(f.recent, 0, over)
	}

	for ch := range f.subscribers {
		select {
		case ch <- t:
		default:
		}
	}
}

// Recent returns the remembered telegrams, oldest first.
func (f *TelegramFeed) Recent() []models.Telegram {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]models.Telegram, len(f.recent))
	copy(out, f.recent)
	return out
}

// Subscribe adds a new subscriber that will receive every new telegram
func (f *TelegramFeed) Subscribe() chan models.Telegram {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan models.Telegram, 16)
	f.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber
func (f *TelegramFeed) Unsubscribe(ch chan models.Telegram) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscribers, ch)
	close(ch)
}

// SSE endpoint for telegram updates
func (wr *WebRouter) telegramsSSE(w http.ResponseWriter, r *http.Request) {
	// Check if SSE is supported
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	if wr.Feed == nil {
		slog.Warn("SSE endpoint called but telegram feed is nil")
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	notifyCh := wr.Feed.Subscribe()
	defer wr.Feed.Unsubscribe(notifyCh)

	ctx := r.Context()

	heartbeat := wr.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	// The comment line lets clients know the stream is open before the first telegram.
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-notifyCh:
			if err := sendTelegram(w, r, t); err != nil {
				slog.Debug("SSE client gone", "error", err)
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// sendTelegram writes the telegram event, a rendered table row for the status
// page, followed by telegram-json carrying the same telegram for API clients.
func sendTelegram(w http.ResponseWriter, r *http.Request, t models.Telegram) error {
	var buf bytes.Buffer
	if err := components.TelegramRow(t).Render(r.Context(), &buf); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: telegram\ndata: %s\n\n", escapeSSEData(buf.String())); err != nil {
		return err
	}

	data, err := json.Marshal(t)
	if err != nil {
		slog.Error("error encoding telegram for SSE", "error", err)
		return nil
	}
	_, err = fmt.Fprintf(w, "event: telegram-json\ndata: %s\n\n", data)
	return err
}

// escapeSSEData keeps an HTML fragment on a single data: line.
func escapeSSEData(s string) string {
	var result bytes.Buffer
	for _, c := range s {
		switch c {
		case '\n':
			result.WriteString("\\n")
		case '\r':
		default:
			result.WriteRune(c)
		}
	}
	return result.String()
}
