package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-voxcpm/internal/bus"
	"github.com/loqalabs/loqa-voxcpm/internal/config"
	"github.com/nats-io/nats.go"
)

const (
	SubjectAnnounce  = "ctrl.node.announce"
	SubjectDiscover  = "ctrl.node.discover"
	subjectHeartbeat = "ctrl.node.heartbeat.%s"
)

type Capability struct {
	Name       string            `json:"name"`
	Tier       string            `json:"tier,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type Announcement struct {
	NodeID       string       `json:"node_id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	Timestamp    time.Time    `json:"timestamp"`
}

type Heartbeat struct {
	NodeID    string    `json:"node_id"`
	Healthy   bool      `json:"healthy"`
	Timestamp time.Time `json:"timestamp"`
}

// Announcer advertises this node on the control subjects: once at start, on
// every discover request, and through periodic heartbeats. Capabilities are
// described fresh each time so attributes such as the voice count stay current.
type Announcer struct {
	cfg      config.NodeConfig
	log      *slog.Logger
	bus      *bus.Client
	describe func() []Capability
	healthy  func() bool
	sub      *nats.Subscription
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewAnnouncer(cfg config.NodeConfig, busClient *bus.Client, describe func() []Capability, healthy func() bool, log *slog.Logger) *Announcer {
	if healthy == nil {
		healthy = func() bool { return true }
	}
	return &Announcer{
		cfg:      cfg,
		log:      log.With(slog.String("component", "capability-announcer")),
		bus:      busClient,
		describe: describe,
		healthy:  healthy,
	}
}

func (a *Announcer) Start(ctx context.Context) error {
	sub, err := a.bus.Conn().Subscribe(SubjectDiscover, func(msg *nats.Msg) {
		if msg.Reply == "" {
			_ = a.announce()
			return
		}
		data, err := json.Marshal(a.announcement())
		if err != nil {
			return
		}
		_ = msg.Respond(data)
	})
	if err != nil {
		return fmt.Errorf("subscribe discover: %w", err)
	}
	a.sub = sub

	if err := a.announce(); err != nil {
		a.log.Warn("failed to announce node", slogError(err))
	}

	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go a.runHeartbeat(ctx)
	return nil
}

func (a *Announcer) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.sub != nil {
		_ = a.sub.Drain()
	}
	a.wg.Wait()
}

func (a *Announcer) runHeartbeat(ctx context.Context) {
	defer a.wg.Done()
	interval := time.Duration(a.cfg.HeartbeatInterval) * time.Millisecond
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.publishHeartbeat(); err != nil {
				a.log.Warn("failed to publish heartbeat", slogError(err))
			}
		}
	}
}

func (a *Announcer) announcement() Announcement {
	var caps []Capability
	if a.describe != nil {
		caps = a.describe()
	}
	return Announcement{
		NodeID:       a.cfg.ID,
		Role:         a.cfg.Role,
		Capabilities: caps,
		Timestamp:    time.Now().UTC(),
	}
}

func (a *Announcer) announce() error {
	return a.bus.PublishJSON(SubjectAnnounce, a.announcement())
}

func (a *Announcer) publishHeartbeat() error {
	hb := Heartbeat{NodeID: a.cfg.ID, Healthy: a.healthy(), Timestamp: time.Now().UTC()}
	return a.bus.PublishJSON(fmt.Sprintf(subjectHeartbeat, a.cfg.ID), hb)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
