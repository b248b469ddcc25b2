// Package health reports readiness over the standard gRPC health service and the HTTP /healthz probe.
package health

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the gRPC health service name reported for the collab server.
const Service = "collab.v1.Collab"

const pingTimeout = 2 * time.Second

// Pinger is used for readiness (e.g. *sql.DB). Only the postgres record store supplies one.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Checker polls its dependencies and mirrors the result into a grpc health server.
type Checker struct {
	server  *health.Server
	pinger  Pinger
	clock   clock.Clock
	serving atomic.Bool
}

// NewChecker returns a Checker updating srv. pinger may be nil, in which case the service is always serving.
func NewChecker(srv *health.Server, pinger Pinger, clk clock.Clock) *Checker {
	if clk == nil {
		clk = clock.New()
	}
	return &Checker{server: srv, pinger: pinger, clock: clk}
}

// Check runs one probe and publishes the result. It never returns the probe error to callers of the
// health service; an unhealthy dependency only flips the status to NOT_SERVING.
func (c *Checker) Check(ctx context.Context) bool {
	ok := true
	if c.pinger != nil {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := c.pinger.PingContext(pctx)
		cancel()
		if err != nil {
			log.Printf("health: record store ping failed: %v", err)
			ok = false
		}
	}
	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	if c.server != nil {
		c.server.SetServingStatus("", status)
		c.server.SetServingStatus(Service, status)
	}
	c.serving.Store(ok)
	return ok
}

// Serving reports the result of the last probe.
func (c *Checker) Serving() bool {
	return c.serving.Load()
}

// Run probes immediately and then every interval until ctx is done.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	t := c.clock.Ticker(interval)
	defer t.Stop()
	c.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Check(ctx)
		}
	}
}

// Shutdown marks every service NOT_SERVING so load balancers drain before the listeners close.
func (c *Checker) Shutdown() {
	c.serving.Store(false)
	if c.server != nil {
		c.server.Shutdown()
	}
}
