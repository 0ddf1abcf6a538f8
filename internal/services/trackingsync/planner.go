package trackingsync

import (
	"math/rand"
	"sync"
	"time"

	"github.com/itadmit/quickshopcrm-sub010/internal/models"
)

type Rand interface {
	Intn(n int) int
}

// PlannerConfig holds the suggested delays before the next tracking poll.
type PlannerConfig struct {
	TerminalDelay time.Duration // delivered or cancelled; default: 7 days

	InTransitMinDelay time.Duration // default: 30 minutes
	InTransitMaxDelay time.Duration // default: 120 minutes

	UnknownDelay time.Duration // default: 90 minutes
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		TerminalDelay:     7 * 24 * time.Hour,
		InTransitMinDelay: 30 * time.Minute,
		InTransitMaxDelay: 120 * time.Minute,
		UnknownDelay:      90 * time.Minute,
	}
}

// Planner suggests when a caller should poll an order's tracking again.
// Nothing in this service schedules polls; the value is a hint for clients.
// It is safe for concurrent use.
type Planner struct {
	cfg PlannerConfig

	mu sync.Mutex
	r  Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.TerminalDelay <= 0 {
		cfg.TerminalDelay = def.TerminalDelay
	}
	if cfg.InTransitMinDelay <= 0 {
		cfg.InTransitMinDelay = def.InTransitMinDelay
	}
	if cfg.InTransitMaxDelay <= 0 {
		cfg.InTransitMaxDelay = def.InTransitMaxDelay
	}
	if cfg.InTransitMaxDelay < cfg.InTransitMinDelay {
		cfg.InTransitMaxDelay = cfg.InTransitMinDelay
	}
	if cfg.UnknownDelay <= 0 {
		cfg.UnknownDelay = def.UnknownDelay
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

func (p *Planner) NextCheckDelay(status string) time.Duration {
	switch status {
	case models.ShippingStatusDelivered, models.ShippingStatusCancelled:
		return p.cfg.TerminalDelay
	case models.ShippingStatusCreated, models.ShippingStatusInTransit:
		min := p.cfg.InTransitMinDelay
		max := p.cfg.InTransitMaxDelay
		if max == min {
			return min
		}
		secMin := int(min.Seconds())
		secMax := int(max.Seconds())
		return time.Duration(secMin+p.intn(secMax-secMin+1)) * time.Second
	default:
		return p.cfg.UnknownDelay
	}
}

func (p *Planner) intn(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.r.Intn(n)
}
