package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/festtrivia/go/clients"
	"github.com/nats-io/nats.go"
)

// Prober checks whether the backend is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// HTTPProber probes a health endpoint of the backend.
type HTTPProber struct {
	client *clients.BaseClient
	path   string
}

func NewHTTPProber(baseURL, path string, timeout time.Duration) *HTTPProber {
	client := clients.NewBaseClient(baseURL)
	client.SetTimeout(timeout)
	return &HTTPProber{client: client, path: path}
}

func (p *HTTPProber) Probe(ctx context.Context) error {
	if _, err := p.client.Get(ctx, p.path); err != nil {
		return fmt.Errorf("health probe: %w", err)
	}
	return nil
}

var ErrNATSNotConnected = errors.New("nats connection is not established")

// NATSProber round-trips a flush to the NATS server.
type NATSProber struct {
	nc      *nats.Conn
	timeout time.Duration
}

func NewNATSProber(nc *nats.Conn, timeout time.Duration) *NATSProber {
	return &NATSProber{nc: nc, timeout: timeout}
}

func (p *NATSProber) Probe(ctx context.Context) error {
	if p.nc.Status() != nats.CONNECTED {
		return ErrNATSNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}
