package hooks

import (
	"bytes"
	"slices"
	"sort"
	"sync"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	mqttauth "github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/kabili207/mesh-telegraph/pkg/auth"
	"github.com/kabili207/mesh-telegraph/pkg/config"
	"github.com/kabili207/mesh-telegraph/pkg/models"
	"github.com/kabili207/mesh-telegraph/pkg/pipeline"
)

// IngestHookOptions contains configuration settings for the hook.
type IngestHookOptions struct {
	Users          []config.BrokerUser
	AllowAnonymous bool
	// Topics are the filters gateways may publish to. Publishes matching them
	// are handed to Sink.
	Topics []string
	Sink   pipeline.Submitter
}

// IngestHook authenticates gateways connecting to the embedded broker and
// feeds every mesh publish into the pipeline.
type IngestHook struct {
	mqtt.HookBase
	config  *IngestHookOptions
	users   map[string]config.BrokerUser
	filters []mqttauth.RString

	clientLock sync.RWMutex
	clients    map[string]*models.ClientDetails
	// owners tracks which connection an id belongs to, so a taken over
	// session disconnecting does not forget its replacement.
	owners map[string]*mqtt.Client
}

var _ models.GatewayLister = (*IngestHook)(nil)

func (h *IngestHook) ID() string {
	return "telegraph-ingest"
}

func (h *IngestHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnectAuthenticate,
		mqtt.OnACLCheck,
		mqtt.OnDisconnect,
		mqtt.OnPublish,
	}, []byte{b})
}

func (h *IngestHook) Init(cfg any) error {
	opts, ok := cfg.(*IngestHookOptions)
	if !ok || opts == nil {
		return mqtt.ErrInvalidConfigType
	}
	if opts.Sink == nil || len(opts.Topics) == 0 {
		return mqtt.ErrInvalidConfigType
	}

	h.config = opts
	h.users = make(map[string]config.BrokerUser, len(opts.Users))
	for _, u := range opts.Users {
		h.users[u.Username] = u
	}
	h.filters = make([]mqttauth.RString, 0, len(opts.Topics))
	for _, t := range opts.Topics {
		h.filters = append(h.filters, mqttauth.RString(t))
	}
	h.clients = make(map[string]*models.ClientDetails)
	h.owners = make(map[string]*mqtt.Client)

	h.Log.Info("initialised", "users", len(h.users), "topics", opts.Topics)
	return nil
}

func (h *IngestHook) validateUser(user, pass string) bool {
	u, ok := h.users[user]
	if !ok {
		return false
	}
	return auth.VerifyPassword(pass, u.Salt, u.PasswordHash)
}

// OnConnectAuthenticate returns true if the client presents known gateway credentials.
func (h *IngestHook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	user := string(pk.Connect.Username)
	pass := string(pk.Connect.Password)

	validated := h.validateUser(user, pass)
	if !validated && h.config.AllowAnonymous && user == "" {
		validated = true
	}
	if !validated {
		h.Log.Info("client failed authentication check", "username", user, "client", cl.ID, "remote", cl.Net.Remote)
		return false
	}

	h.clientLock.Lock()
	h.clients[cl.ID] = &models.ClientDetails{
		ClientID:    cl.ID,
		UserID:      user,
		Address:     cl.Net.Remote,
		ConnectedAt: time.Now(),
	}
	h.owners[cl.ID] = cl
	h.clientLock.Unlock()
	h.Log.Info("client authenticated", "username", user, "client", cl.ID)
	return true
}

// OnACLCheck only lets authenticated clients use the configured mesh topics.
func (h *IngestHook) OnACLCheck(cl *mqtt.Client, topic string, write bool) bool {
	h.clientLock.RLock()
	_, known := h.clients[cl.ID]
	h.clientLock.RUnlock()
	if !known {
		h.Log.Warn("unknown client in ACL check", "client", cl.ID, "topic", topic)
		return false
	}

	if h.matches(topic) {
		return true
	}
	h.Log.Debug("client failed ACL check", "client", cl.ID, "topic", topic, "write", write)
	return false
}

func (h *IngestHook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	h.clientLock.Lock()
	if h.owners[cl.ID] == cl {
		delete(h.clients, cl.ID)
		delete(h.owners, cl.ID)
	}
	h.clientLock.Unlock()
	if err != nil {
		h.Log.Info("client disconnected", "client", cl.ID, "expire", expire, "error", err)
	} else {
		h.Log.Info("client disconnected", "client", cl.ID, "expire", expire)
	}
}

// OnPublish hands mesh publishes to the pipeline. The packet itself is passed
// on unchanged so other subscribers of the broker still receive it.
func (h *IngestHook) OnPublish(cl *mqtt.Client, pk packets.Packet) (packets.Packet, error) {
	if !h.matches(pk.TopicName) {
		return pk, nil
	}

	msg := pipeline.Message{
		Topic:      pk.TopicName,
		Payload:    slices.Clone(pk.Payload),
		ReceivedAt: time.Now(),
	}

	h.clientLock.Lock()
	if c, ok := h.clients[cl.ID]; ok {
		c.Publishes++
		at := msg.ReceivedAt
		c.LastPublish = &at
	}
	h.clientLock.Unlock()

	if err := h.config.Sink.Submit(msg); err != nil {
		h.Log.Warn("unable to queue publish", "client", cl.ID, "topic", pk.TopicName, "error", err)
	}
	return pk, nil
}

func (h *IngestHook) matches(topic string) bool {
	for _, f := range h.filters {
		// Subscribing to a configured filter itself is allowed too.
		if f.FilterMatches(topic) || string(f) == topic {
			return true
		}
	}
	return false
}

// GetClients returns a copy of the connected gateways ordered by client id.
func (h *IngestHook) GetClients() []*models.ClientDetails {
	h.clientLock.RLock()
	defer h.clientLock.RUnlock()

	out := make([]*models.ClientDetails, 0, len(h.clients))
	for _, c := range h.clients {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ClientID < out[j].ClientID
	})
	return out
}
