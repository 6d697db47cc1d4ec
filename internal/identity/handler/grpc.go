package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"vidstream/backend/internal/identity/service"
	"vidstream/backend/internal/platform/apperr"
	"vidstream/backend/internal/server/interceptors"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "vidstream.auth.v1.AuthService"

// Full method names, as seen by interceptors.
const (
	MethodRegister       = "/" + ServiceName + "/Register"
	MethodLogin          = "/" + ServiceName + "/Login"
	MethodRefresh        = "/" + ServiceName + "/Refresh"
	MethodLogout         = "/" + ServiceName + "/Logout"
	MethodChangePassword = "/" + ServiceName + "/ChangePassword"
	MethodMe             = "/" + ServiceName + "/Me"
)

// PublicMethods are the RPCs callable without a Bearer access token.
var PublicMethods = map[string]bool{
	MethodRegister: true,
	MethodLogin:    true,
	MethodRefresh:  true,
}

// AuthServiceServer is the server API for AuthService.
type AuthServiceServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	Refresh(context.Context, *RefreshRequest) (*RefreshResponse, error)
	Logout(context.Context, *LogoutRequest) (*LogoutResponse, error)
	ChangePassword(context.Context, *ChangePasswordRequest) (*ChangePasswordResponse, error)
	Me(context.Context, *MeRequest) (*MeResponse, error)
}

// AuthServer implements AuthServiceServer on top of the auth service.
// Logout, ChangePassword and Me read the caller from the context set by interceptors.AuthUnary.
type AuthServer struct {
	auth *service.AuthService
}

// NewAuthServer returns a new Auth gRPC server. If auth is nil, every RPC returns Unimplemented.
func NewAuthServer(auth *service.AuthService) *AuthServer {
	return &AuthServer{auth: auth}
}

func (s *AuthServer) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Register not implemented")
	}
	staged, err := stageUploads(s.auth.UploadDir(), req)
	if err != nil {
		return nil, ToStatus(err)
	}
	defer staged.cleanup()
	acct, err := s.auth.Register(ctx, service.RegisterInput{
		FullName:       req.FullName,
		Email:          req.Email,
		Username:       req.Username,
		Password:       req.Password,
		AvatarPath:     staged.avatar,
		CoverImagePath: staged.cover,
	})
	if err != nil {
		return nil, ToStatus(err)
	}
	return &RegisterResponse{Account: *acct}, nil
}

func (s *AuthServer) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Login not implemented")
	}
	res, err := s.auth.Login(ctx, service.LoginIdentifier{Username: req.Username, Email: req.Email}, req.Password)
	if err != nil {
		return nil, ToStatus(err)
	}
	return &LoginResponse{Tokens: toWirePair(&res.TokenPair), Account: res.Account}, nil
}

func (s *AuthServer) Refresh(ctx context.Context, req *RefreshRequest) (*RefreshResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Refresh not implemented")
	}
	pair, err := s.auth.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return nil, ToStatus(err)
	}
	return &RefreshResponse{Tokens: toWirePair(pair)}, nil
}

func (s *AuthServer) Logout(ctx context.Context, _ *LogoutRequest) (*LogoutResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Logout not implemented")
	}
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.auth.Logout(ctx, userID); err != nil {
		return nil, ToStatus(err)
	}
	return &LogoutResponse{}, nil
}

func (s *AuthServer) ChangePassword(ctx context.Context, req *ChangePasswordRequest) (*ChangePasswordResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method ChangePassword not implemented")
	}
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.auth.ChangePassword(ctx, userID, req.OldPassword, req.NewPassword); err != nil {
		return nil, ToStatus(err)
	}
	return &ChangePasswordResponse{}, nil
}

func (s *AuthServer) Me(ctx context.Context, _ *MeRequest) (*MeResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Me not implemented")
	}
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	acct, err := s.auth.Me(ctx, userID)
	if err != nil {
		return nil, ToStatus(err)
	}
	return &MeResponse{Account: *acct}, nil
}

func callerID(ctx context.Context) (string, error) {
	userID, ok := interceptors.GetUserID(ctx)
	if !ok || userID == "" {
		return "", status.Error(codes.Unauthenticated, "missing or invalid authorization")
	}
	return userID, nil
}

func toWirePair(p *service.TokenPair) TokenPair {
	return TokenPair{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

// ToStatus maps an apperr value to a gRPC status. The message is prefixed with the stable error code
// and never includes the underlying cause.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := apperr.CodeOf(err)
	var c codes.Code
	switch code {
	case apperr.CodeValidation:
		c = codes.InvalidArgument
	case apperr.CodeInvalidCredentials, apperr.CodeInvalidRefreshToken, apperr.CodeRefreshTokenReused:
		c = codes.Unauthenticated
	case apperr.CodeNotFound:
		c = codes.NotFound
	case apperr.CodeUnavailable:
		c = codes.Unavailable
	case apperr.CodeConflict:
		c = codes.AlreadyExists
	default:
		c = codes.Internal
	}
	return status.Error(c, string(code)+": "+apperr.MessageOf(err))
}

// RegisterAuthServiceServer registers srv with s under ServiceName.
func RegisterAuthServiceServer(s grpc.ServiceRegistrar, srv AuthServiceServer) {
	s.RegisterService(&AuthService_ServiceDesc, srv)
}

// AuthService_ServiceDesc describes AuthService for grpc.ServiceRegistrar.
var AuthService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: unaryHandler(MethodRegister, func(srv AuthServiceServer, ctx context.Context, req *RegisterRequest) (any, error) {
			return srv.Register(ctx, req)
		})},
		{MethodName: "Login", Handler: unaryHandler(MethodLogin, func(srv AuthServiceServer, ctx context.Context, req *LoginRequest) (any, error) {
			return srv.Login(ctx, req)
		})},
		{MethodName: "Refresh", Handler: unaryHandler(MethodRefresh, func(srv AuthServiceServer, ctx context.Context, req *RefreshRequest) (any, error) {
			return srv.Refresh(ctx, req)
		})},
		{MethodName: "Logout", Handler: unaryHandler(MethodLogout, func(srv AuthServiceServer, ctx context.Context, req *LogoutRequest) (any, error) {
			return srv.Logout(ctx, req)
		})},
		{MethodName: "ChangePassword", Handler: unaryHandler(MethodChangePassword, func(srv AuthServiceServer, ctx context.Context, req *ChangePasswordRequest) (any, error) {
			return srv.ChangePassword(ctx, req)
		})},
		{MethodName: "Me", Handler: unaryHandler(MethodMe, func(srv AuthServiceServer, ctx context.Context, req *MeRequest) (any, error) {
			return srv.Me(ctx, req)
		})},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vidstream/auth/v1/auth.json",
}

// unaryHandler adapts a typed method call to grpc.MethodHandler, running the interceptor chain when present.
func unaryHandler[Req any](fullMethod string, call func(AuthServiceServer, context.Context, *Req) (any, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		impl := srv.(AuthServiceServer)
		if interceptor == nil {
			return call(impl, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(impl, ctx, req.(*Req))
		})
	}
}

// AuthServiceClient is the client API for AuthService. Calls use the JSON content subtype.
type AuthServiceClient interface {
	Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error)
	Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error)
	Refresh(ctx context.Context, in *RefreshRequest, opts ...grpc.CallOption) (*RefreshResponse, error)
	Logout(ctx context.Context, in *LogoutRequest, opts ...grpc.CallOption) (*LogoutResponse, error)
	ChangePassword(ctx context.Context, in *ChangePasswordRequest, opts ...grpc.CallOption) (*ChangePasswordResponse, error)
	Me(ctx context.Context, in *MeRequest, opts ...grpc.CallOption) (*MeResponse, error)
}

type authServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAuthServiceClient returns a client bound to cc.
func NewAuthServiceClient(cc grpc.ClientConnInterface) AuthServiceClient {
	return &authServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(ContentSubtype)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *authServiceClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return invoke[RegisterResponse](ctx, c.cc, MethodRegister, in, opts)
}

func (c *authServiceClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	return invoke[LoginResponse](ctx, c.cc, MethodLogin, in, opts)
}

func (c *authServiceClient) Refresh(ctx context.Context, in *RefreshRequest, opts ...grpc.CallOption) (*RefreshResponse, error) {
	return invoke[RefreshResponse](ctx, c.cc, MethodRefresh, in, opts)
}

func (c *authServiceClient) Logout(ctx context.Context, in *LogoutRequest, opts ...grpc.CallOption) (*LogoutResponse, error) {
	return invoke[LogoutResponse](ctx, c.cc, MethodLogout, in, opts)
}

func (c *authServiceClient) ChangePassword(ctx context.Context, in *ChangePasswordRequest, opts ...grpc.CallOption) (*ChangePasswordResponse, error) {
	return invoke[ChangePasswordResponse](ctx, c.cc, MethodChangePassword, in, opts)
}

func (c *authServiceClient) Me(ctx context.Context, in *MeRequest, opts ...grpc.CallOption) (*MeResponse, error) {
	return invoke[MeResponse](ctx, c.cc, MethodMe, in, opts)
}
