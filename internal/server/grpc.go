package server

import (
	"errors"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"vidstream/backend/internal/audit"
	identityhandler "vidstream/backend/internal/identity/handler"
	identityservice "vidstream/backend/internal/identity/service"
	"vidstream/backend/internal/logging"
	"vidstream/backend/internal/server/interceptors"
	"vidstream/backend/internal/telemetry"
)

// Health methods are public and never audited or emitted.
const (
	healthCheckMethod = "/grpc.health.v1.Health/Check"
	healthListMethod  = "/grpc.health.v1.Health/List"
)

// Deps holds the service dependencies for the gRPC server.
type Deps struct {
	// Auth is the auth service. If nil, auth RPCs return Unimplemented and every protected RPC is rejected.
	Auth *identityservice.AuthService
	// Audit records authenticated RPCs. If nil, the audit interceptor no-ops.
	Audit audit.AuditLogger
	// Telemetry receives grpc_request events. If nil, the telemetry interceptor no-ops.
	Telemetry telemetry.EventEmitter
	// Health is the standard health server. If nil, grpc.health.v1 is not registered.
	Health *grpchealth.Server
	Log    logging.Logger
}

// NewServer returns a gRPC server with the otelgrpc stats handler and the auth, telemetry and
// audit interceptors installed, and all services registered.
func NewServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	public := PublicMethods()
	skip := map[string]bool{healthCheckMethod: true, healthListMethod: true}

	var authenticator interceptors.Authenticator = denyAll{}
	if deps.Auth != nil {
		authenticator = deps.Auth
	}
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.AuthUnary(authenticator, public),
			interceptors.TelemetryUnary(deps.Log, deps.Telemetry, skip),
			interceptors.AuditUnary(deps.Audit, auditSkipMethods()),
		),
	}
	s := grpc.NewServer(append(base, opts...)...)
	RegisterServices(s, deps)
	return s
}

// auditSkipMethods lists the methods the audit interceptor ignores. Health checks are noise, and
// the auth RPCs already write their own audit events from the service.
func auditSkipMethods() map[string]bool {
	return map[string]bool{
		healthCheckMethod:                    true,
		healthListMethod:                     true,
		identityhandler.MethodRegister:       true,
		identityhandler.MethodLogin:          true,
		identityhandler.MethodRefresh:        true,
		identityhandler.MethodLogout:         true,
		identityhandler.MethodChangePassword: true,
	}
}

// PublicMethods returns the full method names callable without a Bearer token.
func PublicMethods() map[string]bool {
	m := map[string]bool{healthCheckMethod: true, healthListMethod: true}
	for k, v := range identityhandler.PublicMethods {
		m[k] = v
	}
	return m
}

// RegisterServices registers AuthService and, when deps.Health is set, grpc.health.v1.Health.
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	identityhandler.RegisterAuthServiceServer(s, identityhandler.NewAuthServer(deps.Auth))
	if deps.Health != nil {
		healthpb.RegisterHealthServer(s, deps.Health)
	}
}

var errUnauthenticated = errors.New("server: no authenticator configured")

type denyAll struct{}

func (denyAll) Authenticate(string) (*identityservice.Principal, error) {
	return nil, errUnauthenticated
}
