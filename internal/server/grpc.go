// Package server wires the collab websocket handshake, the HTTP probe routes, and the admin gRPC server.
package server

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// NewGRPCServer returns the admin gRPC server exposing the standard health service and reflection.
// RPCs are traced and measured through the global OpenTelemetry providers.
func NewGRPCServer(healthSrv *health.Server) *grpc.Server {
	s := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	RegisterServices(s, healthSrv)
	reflection.Register(s)
	return s
}

// RegisterServices registers the admin gRPC services with the given server.
func RegisterServices(s grpc.ServiceRegistrar, healthSrv *health.Server) {
	healthpb.RegisterHealthServer(s, healthSrv)
}

// Prober reports readiness for /healthz. *health.Checker implements it.
type Prober interface {
	Serving() bool
}

// NewMux routes the collab websocket endpoint and the HTTP health probe. prober may be nil.
func NewMux(collab http.Handler, prober Prober) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET "+CollabPath, collab)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		if prober != nil && !prober.Serving() {
			http.Error(w, "not serving", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
