package handler

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"vidstream/backend/internal/platform/apperr"
	"vidstream/backend/internal/server/interceptors"
)

func TestToStatus(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    codes.Code
		message string
	}{
		{"validation", apperr.Validation("password is required"), codes.InvalidArgument, "VALIDATION_ERROR: password is required"},
		{"credentials", apperr.ErrInvalidCredentials, codes.Unauthenticated, "INVALID_CREDENTIALS: invalid user credentials"},
		{"refresh", apperr.Wrap(apperr.CodeInvalidRefreshToken, "invalid or expired refresh token", errors.New("token is expired")), codes.Unauthenticated, "INVALID_REFRESH_TOKEN: invalid or expired refresh token"},
		{"reused", apperr.ErrRefreshTokenReused, codes.Unauthenticated, "REFRESH_TOKEN_REUSED: refresh token has already been used"},
		{"not found", apperr.ErrNotFound, codes.NotFound, "NOT_FOUND: account not found"},
		{"unavailable", apperr.Wrap(apperr.CodeUnavailable, "user directory unavailable", errors.New("dial tcp: refused")), codes.Unavailable, "UNAVAILABLE: user directory unavailable"},
		{"conflict", apperr.New(apperr.CodeConflict, "user with email or username already exists"), codes.AlreadyExists, "CONFLICT: user with email or username already exists"},
		{"plain error", errors.New("boom"), codes.Internal, "INTERNAL: internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := status.Convert(ToStatus(tt.err))
			if st.Code() != tt.code {
				t.Errorf("code = %v, want %v", st.Code(), tt.code)
			}
			if st.Message() != tt.message {
				t.Errorf("message = %q, want %q", st.Message(), tt.message)
			}
		})
	}
}

func TestToStatus_PassesThroughStatusAndNil(t *testing.T) {
	if ToStatus(nil) != nil {
		t.Error("ToStatus(nil) should be nil")
	}
	in := status.Error(codes.PermissionDenied, "nope")
	if got := ToStatus(in); status.Code(got) != codes.PermissionDenied {
		t.Errorf("code = %v, want PermissionDenied", status.Code(got))
	}
}

func TestAuthServer_NilServiceUnimplemented(t *testing.T) {
	s := NewAuthServer(nil)
	ctx := interceptors.WithIdentity(context.Background(), "user-1", "jti-1")
	calls := map[string]error{}
	_, calls["Register"] = s.Register(ctx, &RegisterRequest{})
	_, calls["Login"] = s.Login(ctx, &LoginRequest{})
	_, calls["Refresh"] = s.Refresh(ctx, &RefreshRequest{})
	_, calls["Logout"] = s.Logout(ctx, &LogoutRequest{})
	_, calls["ChangePassword"] = s.ChangePassword(ctx, &ChangePasswordRequest{})
	_, calls["Me"] = s.Me(ctx, &MeRequest{})
	for name, err := range calls {
		if status.Code(err) != codes.Unimplemented {
			t.Errorf("%s: code = %v, want Unimplemented", name, status.Code(err))
		}
	}
}

func TestCallerID(t *testing.T) {
	if _, err := callerID(context.Background()); status.Code(err) != codes.Unauthenticated {
		t.Errorf("no identity: code = %v, want Unauthenticated", status.Code(err))
	}
	id, err := callerID(interceptors.WithIdentity(context.Background(), "user-1", "jti-1"))
	if err != nil || id != "user-1" {
		t.Errorf("callerID = %q, %v", id, err)
	}
}

func TestJSONCodecRegistered(t *testing.T) {
	c := encoding.GetCodec(ContentSubtype)
	if c == nil {
		t.Fatal("json codec not registered")
	}
	b, err := c.Marshal(&LoginRequest{Username: "alice", Password: "pw"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"username":"alice","password":"pw"}` {
		t.Errorf("wire form = %s", b)
	}
}
