package stealth

import (
	"context"
	"fmt"
	"math/rand"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// PIAConfig controls the Private Internet Access command-line client.
type PIAConfig struct {
	// Binary is the piactl executable; defaults to "piactl" on PATH.
	Binary string
	// Regions to rotate between. Empty means "let the client pick".
	Regions []string
	// ConnectTimeout bounds how long Rotate waits for the tunnel to come up.
	ConnectTimeout time.Duration
}

// PIAClient rotates the VPN exit region by shelling out to piactl. The
// client is an opaque collaborator: set a region, connect, poll state.
type PIAClient struct {
	cfg    PIAConfig
	logger *zap.Logger
	rng    *rand.Rand

	runCommand func(ctx context.Context, name string, args ...string) (string, error)
}

// NewPIAClient builds a PIAClient.
func NewPIAClient(cfg PIAConfig, logger *zap.Logger) *PIAClient {
	if cfg.Binary == "" {
		cfg.Binary = "piactl"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PIAClient{
		cfg:        cfg,
		logger:     logger,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		runCommand: runExec,
	}
}

// Rotate picks a region, points the client at it, reconnects, and waits for
// the tunnel to report Connected.
func (p *PIAClient) Rotate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	if region := p.pickRegion(); region != "" {
		if _, err := p.runCommand(ctx, p.cfg.Binary, "set", "region", region); err != nil {
			return fmt.Errorf("set vpn region %s: %w", region, err)
		}
		p.logger.Debug("vpn region selected", zap.String("region", region))
	}

	if _, err := p.runCommand(ctx, p.cfg.Binary, "connect"); err != nil {
		return fmt.Errorf("vpn connect: %w", err)
	}
	return p.waitConnected(ctx)
}

func (p *PIAClient) pickRegion() string {
	if len(p.cfg.Regions) == 0 {
		return ""
	}
	return p.cfg.Regions[p.rng.Intn(len(p.cfg.Regions))]
}

func (p *PIAClient) waitConnected(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		state, err := p.runCommand(ctx, p.cfg.Binary, "get", "connectionstate")
		if err == nil && strings.EqualFold(strings.TrimSpace(state), "Connected") {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for vpn connection: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func runExec(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
