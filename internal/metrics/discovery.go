package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DiscoveryConfig holds settings for canary endpoint discovery
type DiscoveryConfig struct {
	// Candidates are tried in order; the first endpoint answering its
	// health check wins.
	Candidates []string `mapstructure:"candidates"`

	// StableEndpoint is the degraded-mode stand-in when no candidate
	// responds.
	StableEndpoint string `mapstructure:"stable_endpoint"`

	HealthPath   string        `mapstructure:"health_path"`
	CheckTimeout time.Duration `mapstructure:"check_timeout"`

	Logger *zap.Logger
}

// Resolution is the outcome of a discovery attempt
type Resolution struct {
	Endpoint string
	// Degraded is set when the stable endpoint was substituted for an
	// unreachable canary. The scheduler propagates this marker into
	// every subsequent analysis result.
	Degraded bool
}

// Discoverer resolves the canary cohort's network address before the
// first fetch. Candidates may be http(s):// endpoints checked via
// their health path, or grpc:// endpoints checked via the standard
// gRPC health service.
type Discoverer struct {
	candidates   []string
	stable       string
	healthPath   string
	checkTimeout time.Duration
	client       *http.Client
	logger       *zap.Logger
}

// NewDiscoverer creates a canary endpoint discoverer
func NewDiscoverer(cfg DiscoveryConfig) *Discoverer {
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/api/v1/health"
	}
	if cfg.CheckTimeout == 0 {
		cfg.CheckTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Discoverer{
		candidates:   cfg.Candidates,
		stable:       cfg.StableEndpoint,
		healthPath:   cfg.HealthPath,
		checkTimeout: cfg.CheckTimeout,
		client:       &http.Client{Timeout: cfg.CheckTimeout},
		logger:       cfg.Logger,
	}
}

// Resolve probes each candidate and returns the first healthy one. If
// none answers, it returns the stable endpoint marked degraded; the
// caller decides whether that stand-in is acceptable.
func (d *Discoverer) Resolve(ctx context.Context) (Resolution, error) {
	for _, candidate := range d.candidates {
		if err := d.check(ctx, candidate); err != nil {
			d.logger.Warn("canary candidate failed health check",
				zap.String("endpoint", candidate),
				zap.Error(err))
			continue
		}
		d.logger.Info("discovered canary endpoint", zap.String("endpoint", candidate))
		return Resolution{Endpoint: candidate}, nil
	}

	if d.stable == "" {
		return Resolution{}, fmt.Errorf("no canary candidate responded and no stable fallback configured")
	}

	d.logger.Warn("could not discover canary endpoint, substituting stable endpoint",
		zap.String("stable_endpoint", d.stable),
		zap.Int("candidates_tried", len(d.candidates)))
	return Resolution{Endpoint: d.stable, Degraded: true}, nil
}

func (d *Discoverer) check(ctx context.Context, endpoint string) error {
	checkCtx, cancel := context.WithTimeout(ctx, d.checkTimeout)
	defer cancel()

	if strings.HasPrefix(endpoint, "grpc://") {
		return d.checkGRPC(checkCtx, strings.TrimPrefix(endpoint, "grpc://"))
	}
	return d.checkHTTP(checkCtx, endpoint)
}

func (d *Discoverer) checkHTTP(ctx context.Context, endpoint string) error {
	url := strings.TrimRight(endpoint, "/") + d.healthPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

func (d *Discoverer) checkGRPC(ctx context.Context, target string) error {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("grpc health check %s: %w", target, err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("grpc health status %s", resp.Status)
	}
	return nil
}
