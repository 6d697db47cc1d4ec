package interceptors

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

type auditCall struct {
	userID, action, resource, metadata string
}

type mockAuditLogger struct {
	mu    sync.Mutex
	calls []auditCall
}

func (m *mockAuditLogger) LogEvent(ctx context.Context, userID, action, resource, metadata string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, auditCall{userID, action, resource, metadata})
}

func okHandler(ctx context.Context, req interface{}) (interface{}, error) {
	return "success", nil
}

func TestAuditUnary_SkipMethod(t *testing.T) {
	logger := &mockAuditLogger{}
	interceptor := AuditUnary(logger, map[string]bool{"/test.Service/HealthCheck": true})
	ctx := WithIdentity(context.Background(), "user-1", "jti-1")

	resp, err := interceptor(ctx, "request", &grpc.UnaryServerInfo{FullMethod: "/test.Service/HealthCheck"}, okHandler)
	if err != nil || resp != "success" {
		t.Fatalf("interceptor = %v, %v", resp, err)
	}
	if len(logger.calls) != 0 {
		t.Errorf("skipped method audited %d times", len(logger.calls))
	}
}

func TestAuditUnary_AnonymousNotAudited(t *testing.T) {
	logger := &mockAuditLogger{}
	interceptor := AuditUnary(logger, nil)
	if _, err := interceptor(context.Background(), "request", &grpc.UnaryServerInfo{
		FullMethod: "/vidstream.auth.v1.AuthService/Login",
	}, okHandler); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if len(logger.calls) != 0 {
		t.Errorf("anonymous call audited %d times", len(logger.calls))
	}
}

func TestAuditUnary_RecordsAuthenticatedCall(t *testing.T) {
	logger := &mockAuditLogger{}
	interceptor := AuditUnary(logger, nil)
	ctx := WithIdentity(context.Background(), "user-1", "jti-1")
	wantErr := status.Error(codes.Unauthenticated, "INVALID_CREDENTIALS: invalid user credentials")

	_, err := interceptor(ctx, "request", &grpc.UnaryServerInfo{
		FullMethod: "/vidstream.auth.v1.AuthService/ChangePassword",
	}, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("handler error not propagated: %v", err)
	}
	if len(logger.calls) != 1 {
		t.Fatalf("audit calls = %d, want 1", len(logger.calls))
	}
	got := logger.calls[0]
	if got.userID != "user-1" || got.action != "change_password" || got.resource != "auth" {
		t.Errorf("audit call = %+v", got)
	}
	if got.metadata != `{"status":"Unauthenticated"}` {
		t.Errorf("metadata = %s", got.metadata)
	}
}

func TestAuditUnary_NilLogger(t *testing.T) {
	interceptor := AuditUnary(nil, nil)
	ctx := WithIdentity(context.Background(), "user-1", "jti-1")
	if _, err := interceptor(ctx, "request", &grpc.UnaryServerInfo{FullMethod: "/a.B/C"}, okHandler); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
}

func TestClientIP(t *testing.T) {
	tcp := &net.TCPAddr{IP: net.ParseIP("10.0.0.9"), Port: 5555}
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"none", context.Background(), "unknown"},
		{"forwarded chain", metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-forwarded-for", "1.2.3.4, 5.6.7.8")), "1.2.3.4"},
		{"real ip", metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-real-ip", "9.9.9.9")), "9.9.9.9"},
		{"peer", peer.NewContext(context.Background(), &peer.Peer{Addr: tcp}), "10.0.0.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClientIP(tt.ctx); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
