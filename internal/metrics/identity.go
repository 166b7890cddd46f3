package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/workloadapi"
)

// IdentityConfig enables mTLS on probe connections using a SPIFFE
// workload identity. Deployments without a workload API socket leave
// this disabled and the probe uses plain HTTP.
type IdentityConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	SocketPath  string `mapstructure:"socket_path"`
	TrustDomain string `mapstructure:"trust_domain"`
}

// NewIdentityClient builds an HTTP client whose TLS credentials come
// from the SPIFFE workload API. The returned closer releases the X.509
// source and must be called at shutdown.
func NewIdentityClient(ctx context.Context, cfg IdentityConfig, timeout time.Duration) (*http.Client, func() error, error) {
	if !cfg.Enabled {
		return &http.Client{Timeout: timeout}, func() error { return nil }, nil
	}

	var opts []workloadapi.X509SourceOption
	if cfg.SocketPath != "" {
		opts = append(opts, workloadapi.WithClientOptions(workloadapi.WithAddr(cfg.SocketPath)))
	}

	source, err := workloadapi.NewX509Source(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create X.509 source: %w", err)
	}

	tlsConfig := tlsconfig.MTLSClientConfig(source, source, tlsconfig.AuthorizeAny())
	client := &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
	}
	return client, source.Close, nil
}
