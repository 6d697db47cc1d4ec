// Package health keeps the standard grpc.health.v1 status in line with the user directory.
package health

import (
	"context"
	"time"

	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"vidstream/backend/internal/logging"
)

const (
	DefaultInterval = 10 * time.Second
	pingTimeout     = 2 * time.Second
)

// Pinger reports whether a dependency is reachable (*pgxpool.Pool, the redis slot repository).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor pings its dependencies and sets SERVING or NOT_SERVING on the health server
// for the overall server ("") and every named service.
type Monitor struct {
	srv      *grpchealth.Server
	pingers  []Pinger
	services []string
	interval time.Duration
	log      logging.Logger
}

// NewMonitor returns a Monitor. With no pingers every check reports SERVING.
func NewMonitor(srv *grpchealth.Server, pingers []Pinger, interval time.Duration, log logging.Logger, services ...string) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Monitor{
		srv:      srv,
		pingers:  pingers,
		services: append([]string{""}, services...),
		interval: interval,
		log:      log,
	}
}

// Check pings once, updates the health server and returns the status it set.
func (m *Monitor) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	for _, p := range m.pingers {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := p.Ping(pctx)
		cancel()
		if err != nil {
			m.log.Warn(ctx, "health: dependency ping failed", "error", err)
			st = healthpb.HealthCheckResponse_NOT_SERVING
			break
		}
	}
	for _, name := range m.services {
		m.srv.SetServingStatus(name, st)
	}
	return st
}

// Run checks immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
