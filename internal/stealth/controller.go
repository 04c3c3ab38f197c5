package stealth

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Odds configures the dice rolls taken between page visits. Each value N
// means "1 in N chance"; zero disables that roll.
type Odds struct {
	Viewport int
	Session  int
	Egress   int
}

// Decision is one roll's outcome, applied by the browser session owner.
type Decision struct {
	ChangeViewport bool
	RefreshSession bool
	RotateEgress   bool
}

// VPNClient switches the apparent network address. Implementations are
// opaque collaborators; the controller only needs rotate-and-report.
type VPNClient interface {
	Rotate(ctx context.Context) error
}

// Controller owns the anti-detection state shared by all workers: the
// random source, the rotation odds, and the VPN client. Egress rotation
// changes the address every session presents, so it is serialized across
// workers by a single mutex.
type Controller struct {
	odds   Odds
	vpn    VPNClient
	logger *zap.Logger

	egressMu sync.Mutex

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewController builds a Controller. A nil vpn disables egress rotation
// regardless of the configured odds.
func NewController(odds Odds, vpn VPNClient, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		odds:   odds,
		vpn:    vpn,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Profile draws a fresh randomized browser fingerprint.
func (c *Controller) Profile() Profile {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return RandomProfile(c.rng)
}

// Viewport draws a viewport for a mid-session resize.
func (c *Controller) Viewport() (int64, int64) {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return RandomViewport(c.rng)
}

// Roll takes the configured dice rolls and reports which mutations the
// caller should apply before its next page visit.
func (c *Controller) Roll() Decision {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return Decision{
		ChangeViewport: c.hit(c.odds.Viewport),
		RefreshSession: c.hit(c.odds.Session),
		RotateEgress:   c.vpn != nil && c.hit(c.odds.Egress),
	}
}

// RotateEgress switches the VPN exit, holding the process-wide egress lock
// for the duration so concurrent sessions do not race the address change.
func (c *Controller) RotateEgress(ctx context.Context) error {
	if c.vpn == nil {
		return nil
	}
	c.egressMu.Lock()
	defer c.egressMu.Unlock()

	start := time.Now()
	if err := c.vpn.Rotate(ctx); err != nil {
		return fmt.Errorf("rotate egress: %w", err)
	}
	c.logger.Info("egress identity rotated", zap.Duration("took", time.Since(start)))
	return nil
}

// hit rolls a 1-in-n chance. Callers must hold rngMu.
func (c *Controller) hit(n int) bool {
	if n <= 0 {
		return false
	}
	return c.rng.Intn(n) == 0
}
