// Package routes serves the status page and JSON API.
package routes

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/kabili207/mesh-telegraph/internal/web"
	"github.com/kabili207/mesh-telegraph/internal/web/components"
	"github.com/kabili207/mesh-telegraph/pkg/meshtastic"
	"github.com/kabili207/mesh-telegraph/pkg/models"
	"github.com/kabili207/mesh-telegraph/pkg/pipeline"
	"github.com/kabili207/mesh-telegraph/pkg/registry"
)

const sseEndpoint = "/api/telegrams-sse"

// StatsSource reports pipeline counters. *pipeline.Pipeline implements it.
type StatsSource interface {
	Stats() pipeline.Stats
}

type WebRouter struct {
	Registry *registry.Registry
	Stats    StatsSource
	Feed     *TelegramFeed
	// Gateways is only set when running the embedded broker.
	Gateways  models.GatewayLister
	Heartbeat time.Duration
}

type NodeResponse struct {
	ID        string     `json:"id"`
	Num       uint32     `json:"num"`
	ShortName string     `json:"short_name,omitempty"`
	LongName  string     `json:"long_name,omitempty"`
	HwModel   string     `json:"hw_model,omitempty"`
	FirstSeen time.Time  `json:"first_seen"`
	LastSeen  time.Time  `json:"last_seen"`
	LastPrint *time.Time `json:"last_print,omitempty"`
}

type NodesResponse struct {
	Nodes []NodeResponse `json:"nodes"`
}

type GatewaysResponse struct {
	Gateways []*models.ClientDetails `json:"gateways"`
}

type TelegramsResponse struct {
	Telegrams []models.Telegram `json:"telegrams"`
}

func newNodeResponse(n *models.Node) NodeResponse {
	resp := NodeResponse{
		ID:        meshtastic.NodeID(n.NodeID).String(),
		Num:       uint32(n.NodeID),
		FirstSeen: n.FirstSeen,
		LastSeen:  n.LastSeen,
		LastPrint: n.LastPrint,
	}
	if n.ShortName != nil {
		resp.ShortName = *n.ShortName
	}
	if n.LongName != nil {
		resp.LongName = *n.LongName
	}
	if n.HwModelName != nil {
		resp.HwModel = *n.HwModelName
	}
	return resp
}

// Handler builds the router with its middleware.
func (wr *WebRouter) Handler() http.Handler {
	// creates a new instance of a mux router
	myRouter := mux.NewRouter().StrictSlash(true)

	myRouter.HandleFunc("/", wr.homePage).Methods("GET")
	myRouter.HandleFunc("/healthz", wr.healthz).Methods("GET")
	myRouter.HandleFunc("/api/nodes", wr.getNodes).Methods("GET")
	myRouter.HandleFunc("/api/nodes/{id}", wr.getNode).Methods("GET")
	myRouter.HandleFunc("/api/stats", wr.getStats).Methods("GET")
	myRouter.HandleFunc("/api/gateways", wr.getGateways).Methods("GET")
	myRouter.HandleFunc("/api/telegrams", wr.getTelegrams).Methods("GET")
	myRouter.HandleFunc(sseEndpoint, wr.telegramsSSE).Methods("GET")
	myRouter.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServerFS(web.StaticFS())))

	myRouter.Use(handlers.ProxyHeaders)
	myRouter.Use(RequestLogger)
	h := handlers.RecoveryHandler()

	return h(myRouter)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (wr *WebRouter) ListenAndServe(ctx context.Context, listenAddr string) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           wr.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", listenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func RequestLogger(h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("endpoint hit", "method", r.Method, "path", r.URL.Path, "remote_host", r.RemoteAddr, "user_agent", r.UserAgent())
		// Call the next handler in the chain.
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("error writing response", "error", err)
	}
}

func (wr *WebRouter) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok\n"))
}

func (wr *WebRouter) homePage(w http.ResponseWriter, r *http.Request) {
	data := components.DashboardPageData{
		PageTitle:   "Mesh Telegraph",
		SSEEndpoint: sseEndpoint,
	}
	if wr.Stats != nil {
		data.Stats = wr.Stats.Stats()
	}
	if wr.Feed != nil {
		data.Telegrams = wr.Feed.Recent()
	}

	nodes, err := wr.Registry.List(r.Context())
	if err != nil {
		slog.Error("error listing nodes", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	for _, n := range nodes {
		resp := newNodeResponse(n)
		data.Nodes = append(data.Nodes, components.NodeData{
			NodeID:    resp.ID,
			ShortName: resp.ShortName,
			LongName:  resp.LongName,
			HwModel:   resp.HwModel,
			LastSeen:  resp.LastSeen,
			LastPrint: resp.LastPrint,
		})
	}
	components.SortNodes(data.Nodes)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := components.Dashboard(data).Render(r.Context(), w); err != nil {
		slog.Error("error rendering status page", "error", err)
	}
}

func (wr *WebRouter) getNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := wr.Registry.List(r.Context())
	if err != nil {
		slog.Error("error listing nodes", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resp := NodesResponse{Nodes: make([]NodeResponse, 0, len(nodes))}
	for _, n := range nodes {
		resp.Nodes = append(resp.Nodes, newNodeResponse(n))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (wr *WebRouter) getNode(w http.ResponseWriter, r *http.Request) {
	id, err := meshtastic.ParseNodeID(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	node, err := wr.Registry.Get(r.Context(), uint32(id))
	if err != nil {
		slog.Error("error loading node", "node", id, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if node == nil {
		http.Error(w, "Node not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newNodeResponse(node))
}

func (wr *WebRouter) getStats(w http.ResponseWriter, r *http.Request) {
	if wr.Stats == nil {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, wr.Stats.Stats())
}

func (wr *WebRouter) getTelegrams(w http.ResponseWriter, r *http.Request) {
	resp := TelegramsResponse{Telegrams: []models.Telegram{}}
	if wr.Feed != nil {
		resp.Telegrams = wr.Feed.Recent()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (wr *WebRouter) getGateways(w http.ResponseWriter, r *http.Request) {
	resp := GatewaysResponse{Gateways: []*models.ClientDetails{}}
	if wr.Gateways != nil {
		resp.Gateways = wr.Gateways.GetClients()
	}
	writeJSON(w, http.StatusOK, resp)
}
