package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"vidstream/backend/internal/audit"
	"vidstream/backend/internal/logging"
	"vidstream/backend/internal/media"
	"vidstream/backend/internal/platform/apperr"
	"vidstream/backend/internal/security"
	"vidstream/backend/internal/telemetry"
	userdomain "vidstream/backend/internal/user/domain"
	userrepo "vidstream/backend/internal/user/repository"
)

// AccountRepo is the minimal user directory needed by the auth service.
// Lookups return nil, nil when no account matches.
type AccountRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.Account, error)
	GetByUsername(ctx context.Context, username string) (*userdomain.Account, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.Account, error)
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
	Create(ctx context.Context, a *userdomain.Account) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

// SessionStore holds the single refresh credential per account. Errors are apperr values.
type SessionStore interface {
	Current(ctx context.Context, subjectID string) (string, bool, error)
	Replace(ctx context.Context, subjectID, value string) error
	CompareAndSwap(ctx context.Context, subjectID, expected, value string) (bool, error)
	Clear(ctx context.Context, subjectID string) error
}

// Options tunes the rotation protocol.
type Options struct {
	// RotationCAS persists a rotated refresh token only if the slot still holds the presented one.
	RotationCAS bool
	// RevokeOnPasswordChange clears the refresh slot after a successful password change.
	RevokeOnPasswordChange bool
	// DirectoryTimeout bounds each user directory call; zero uses 3s.
	DirectoryTimeout time.Duration
	// UploadDir is the only directory Register reads media files from.
	// Empty uses DefaultUploadDir().
	UploadDir string
}

// DefaultUploadDir is the staging directory used when Options.UploadDir is empty.
func DefaultUploadDir() string {
	return filepath.Join(os.TempDir(), "vidstream-uploads")
}

// Deps are the collaborators of AuthService. Media, Audit, Metrics and Log may be nil.
type Deps struct {
	Accounts AccountRepo
	Sessions SessionStore
	Hasher   *security.Hasher
	Tokens   *security.TokenCodec
	Media    media.Store
	Audit    audit.AuditLogger
	Metrics  *telemetry.AuthMetrics
	Log      logging.Logger
}

// LoginIdentifier names the account to log in as. Username wins when both are set.
type LoginIdentifier struct {
	Username string
	Email    string
}

// TokenPair is a freshly minted access and refresh token.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// LoginResult is the outcome of a successful Login.
type LoginResult struct {
	TokenPair
	Account userdomain.PublicAccount
}

// RegisterInput carries the sign-up form. AvatarPath and CoverImagePath are files staged by the server
// under Options.UploadDir; any other path is rejected.
type RegisterInput struct {
	FullName       string
	Email          string
	Username       string
	Password       string
	AvatarPath     string
	CoverImagePath string
}

// Principal is the caller identity carried by a valid access token.
type Principal struct {
	AccountID string
	Username  string
	Email     string
	FullName  string
	TokenID   string
	ExpiresAt time.Time
}

// AuthService implements register, login, refresh rotation with reuse detection, logout, and password change.
type AuthService struct {
	accounts AccountRepo
	sessions SessionStore
	hasher   *security.Hasher
	tokens   *security.TokenCodec
	media    media.Store
	audit    audit.AuditLogger
	metrics  *telemetry.AuthMetrics
	log      logging.Logger
	opts     Options
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(deps Deps, opts Options) *AuthService {
	if opts.DirectoryTimeout <= 0 {
		opts.DirectoryTimeout = 3 * time.Second
	}
	if opts.UploadDir == "" {
		opts.UploadDir = DefaultUploadDir()
	}
	if deps.Media == nil {
		deps.Media = media.Disabled{}
	}
	if deps.Log == nil {
		deps.Log = logging.Nop()
	}
	return &AuthService{
		accounts: deps.Accounts,
		sessions: deps.Sessions,
		hasher:   deps.Hasher,
		tokens:   deps.Tokens,
		media:    deps.Media,
		audit:    deps.Audit,
		metrics:  deps.Metrics,
		log:      deps.Log,
		opts:     opts,
	}
}

// Register creates an account. Username and email are lower-cased; the avatar is required and
// uploaded to the media store, the cover image is optional and dropped if its upload fails.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*userdomain.PublicAccount, error) {
	if anyBlank(in.FullName, in.Email, in.Username, in.Password) {
		return nil, apperr.Validation("all fields are required")
	}
	username := userdomain.NormalizeUsername(in.Username)
	email := userdomain.NormalizeEmail(in.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	dctx, cancel := s.directoryContext(ctx)
	exists, err := s.accounts.ExistsByUsernameOrEmail(dctx, username, email)
	cancel()
	if err != nil {
		return nil, directoryError(err)
	}
	if exists {
		return nil, apperr.New(apperr.CodeConflict, "user with email or username already exists")
	}

	if strings.TrimSpace(in.AvatarPath) == "" {
		return nil, apperr.Validation("avatar file is required")
	}
	avatarPath, err := s.stagedFile(in.AvatarPath)
	if err != nil {
		return nil, err
	}
	var coverPath string
	if strings.TrimSpace(in.CoverImagePath) != "" {
		if coverPath, err = s.stagedFile(in.CoverImagePath); err != nil {
			return nil, err
		}
	}

	avatarURL, err := s.media.Upload(ctx, avatarPath)
	if err != nil || avatarURL == "" {
		s.log.Warn(ctx, "avatar upload failed", "error", err)
		return nil, apperr.Validation("avatar file is required")
	}
	var coverURL string
	if coverPath != "" {
		coverURL, err = s.media.Upload(ctx, coverPath)
		if err != nil {
			s.log.Warn(ctx, "cover image upload failed; continuing without it", "error", err)
			coverURL = ""
		}
	}

	hashed, err := s.hasher.Hash([]byte(in.Password))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "hash password", err)
	}
	now := time.Now().UTC()
	acct := &userdomain.Account{
		ID:            uuid.New().String(),
		Username:      username,
		Email:         email,
		FullName:      strings.TrimSpace(in.FullName),
		AvatarURL:     avatarURL,
		CoverImageURL: coverURL,
		PasswordHash:  hashed,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := acct.Validate(); err != nil {
		return nil, apperr.Validation(err.Error())
	}

	dctx, cancel = s.directoryContext(ctx)
	err = s.accounts.Create(dctx, acct)
	cancel()
	if err != nil {
		if errors.Is(err, userrepo.ErrDuplicate) {
			return nil, apperr.New(apperr.CodeConflict, "user with email or username already exists")
		}
		return nil, directoryError(err)
	}

	s.auditEvent(ctx, acct.ID, audit.ActionRegister, nil)
	s.log.Info(ctx, "account registered", "account_id", acct.ID)
	pub := acct.Public()
	return &pub, nil
}

// Login verifies the password for the identified account, mints a token pair, and replaces any
// stored refresh credential, ending whatever session the account had before.
// Unknown identifiers and wrong passwords both fail with InvalidCredentials.
func (s *AuthService) Login(ctx context.Context, id LoginIdentifier, password string) (*LoginResult, error) {
	username := userdomain.NormalizeUsername(id.Username)
	email := userdomain.NormalizeEmail(id.Email)
	if username == "" && email == "" {
		return nil, apperr.Validation("username or email is required")
	}
	if password == "" {
		return nil, apperr.Validation("password is required")
	}

	acct, err := s.findForLogin(ctx, username, email)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		s.hasher.DecoyVerify([]byte(password))
		s.metrics.Login(ctx, telemetry.OutcomeFailure)
		s.auditEvent(ctx, "", audit.ActionLoginFailure, map[string]string{"reason": "unknown_account"})
		return nil, apperr.ErrInvalidCredentials
	}
	if !s.hasher.Verify([]byte(password), acct.PasswordHash) {
		s.metrics.Login(ctx, telemetry.OutcomeFailure)
		s.auditEvent(ctx, acct.ID, audit.ActionLoginFailure, map[string]string{"reason": "bad_password"})
		return nil, apperr.ErrInvalidCredentials
	}

	pair, err := s.issuePair(acct)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Replace(ctx, acct.ID, pair.RefreshToken); err != nil {
		return nil, err
	}

	s.metrics.Login(ctx, telemetry.OutcomeSuccess)
	s.auditEvent(ctx, acct.ID, audit.ActionLoginSuccess, nil)
	s.log.Info(ctx, "login succeeded", "account_id", acct.ID, "refresh_fp", security.Fingerprint(pair.RefreshToken))
	return &LoginResult{TokenPair: *pair, Account: acct.Public()}, nil
}

// Refresh rotates a refresh token. The presented token must verify and equal the stored credential;
// a verified token that no longer matches is reported as RefreshTokenReused.
func (s *AuthService) Refresh(ctx context.Context, presented string) (*TokenPair, error) {
	if presented == "" {
		s.metrics.Refresh(ctx, telemetry.OutcomeFailure)
		return nil, apperr.ErrInvalidRefreshToken
	}
	claims, err := s.tokens.ParseRefresh(presented)
	if err != nil {
		s.metrics.Refresh(ctx, telemetry.OutcomeFailure)
		return nil, apperr.Wrap(apperr.CodeInvalidRefreshToken, "invalid or expired refresh token", err)
	}

	acct, err := s.getAccount(ctx, claims.Subject)
	if err != nil {
		s.metrics.Refresh(ctx, telemetry.OutcomeFailure)
		return nil, err
	}
	if acct == nil {
		s.metrics.Refresh(ctx, telemetry.OutcomeFailure)
		return nil, apperr.ErrInvalidRefreshToken
	}

	current, _, err := s.sessions.Current(ctx, acct.ID)
	if err != nil {
		s.metrics.Refresh(ctx, telemetry.OutcomeFailure)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrInvalidRefreshToken
		}
		return nil, err
	}
	if !security.CredentialEqual(presented, current) {
		return nil, s.reuseDetected(ctx, acct.ID, presented)
	}

	pair, err := s.issuePair(acct)
	if err != nil {
		s.metrics.Refresh(ctx, telemetry.OutcomeFailure)
		return nil, err
	}
	if s.opts.RotationCAS {
		swapped, err := s.sessions.CompareAndSwap(ctx, acct.ID, presented, pair.RefreshToken)
		if err != nil {
			s.metrics.Refresh(ctx, telemetry.OutcomeFailure)
			return nil, err
		}
		if !swapped {
			return nil, s.reuseDetected(ctx, acct.ID, presented)
		}
	} else if err := s.sessions.Replace(ctx, acct.ID, pair.RefreshToken); err != nil {
		s.metrics.Refresh(ctx, telemetry.OutcomeFailure)
		return nil, err
	}

	s.metrics.Refresh(ctx, telemetry.OutcomeSuccess)
	s.auditEvent(ctx, acct.ID, audit.ActionRefresh, nil)
	s.log.Debug(ctx, "refresh rotated", "account_id", acct.ID,
		"old_fp", security.Fingerprint(presented), "new_fp", security.Fingerprint(pair.RefreshToken))
	return pair, nil
}

// Logout clears the refresh credential of subjectID. Clearing an empty slot succeeds.
func (s *AuthService) Logout(ctx context.Context, subjectID string) error {
	if subjectID == "" {
		return apperr.Validation("subject id is required")
	}
	if err := s.sessions.Clear(ctx, subjectID); err != nil {
		return err
	}
	s.metrics.Logout(ctx)
	s.auditEvent(ctx, subjectID, audit.ActionLogout, nil)
	return nil
}

// ChangePassword replaces the password after verifying the old one. The refresh credential is
// revoked only when Options.RevokeOnPasswordChange is set.
func (s *AuthService) ChangePassword(ctx context.Context, subjectID, oldPassword, newPassword string) error {
	if subjectID == "" {
		return apperr.Validation("subject id is required")
	}
	if oldPassword == "" || newPassword == "" {
		return apperr.Validation("old and new password are required")
	}
	acct, err := s.getAccount(ctx, subjectID)
	if err != nil {
		return err
	}
	if acct == nil {
		return apperr.ErrNotFound
	}
	if !s.hasher.Verify([]byte(oldPassword), acct.PasswordHash) {
		return apperr.ErrInvalidCredentials
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	if newPassword == oldPassword {
		return apperr.Validation("new password must differ from the old password")
	}

	hashed, err := s.hasher.Hash([]byte(newPassword))
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "hash password", err)
	}
	dctx, cancel := s.directoryContext(ctx)
	err = s.accounts.UpdatePasswordHash(dctx, acct.ID, hashed)
	cancel()
	if err != nil {
		return directoryError(err)
	}

	revoked := false
	if s.opts.RevokeOnPasswordChange {
		if err := s.sessions.Clear(ctx, acct.ID); err != nil {
			return err
		}
		revoked = true
	} else {
		s.log.Warn(ctx, "password changed; existing refresh session left active", "account_id", acct.ID)
	}
	meta := map[string]string{"session_revoked": "false"}
	if revoked {
		meta["session_revoked"] = "true"
	}
	s.auditEvent(ctx, acct.ID, audit.ActionPasswordChange, meta)
	return nil
}

// Me returns the public view of subjectID.
func (s *AuthService) Me(ctx context.Context, subjectID string) (*userdomain.PublicAccount, error) {
	acct, err := s.getAccount(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, apperr.ErrNotFound
	}
	pub := acct.Public()
	return &pub, nil
}

// Authenticate validates an access token and returns its principal. No directory lookup is made.
func (s *AuthService) Authenticate(accessToken string) (*Principal, error) {
	claims, err := s.tokens.ParseAccess(accessToken)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidCredentials, "invalid or expired access token", err)
	}
	p := &Principal{
		AccountID: claims.Subject,
		Username:  claims.Username,
		Email:     claims.Email,
		FullName:  claims.FullName,
		TokenID:   claims.ID,
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

// UploadDir returns the directory Register accepts media files from.
func (s *AuthService) UploadDir() string { return s.opts.UploadDir }

// stagedFile resolves p and requires it to be a regular file inside the upload directory.
func (s *AuthService) stagedFile(p string) (string, error) {
	root, err := filepath.EvalSymlinks(s.opts.UploadDir)
	if err != nil {
		return "", apperr.Validation("media file must be uploaded with the request")
	}
	resolved, err := filepath.EvalSymlinks(filepath.Clean(p))
	if err != nil {
		return "", apperr.Validation("media file must be uploaded with the request")
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", apperr.Validation("media file must be uploaded with the request")
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.Mode().IsRegular() {
		return "", apperr.Validation("media file must be uploaded with the request")
	}
	return resolved, nil
}

func (s *AuthService) reuseDetected(ctx context.Context, accountID, presented string) error {
	s.metrics.RefreshReuse(ctx)
	s.metrics.Refresh(ctx, telemetry.OutcomeFailure)
	s.auditEvent(ctx, accountID, audit.ActionRefreshReuse, map[string]string{"presented_fp": security.Fingerprint(presented)})
	s.log.Warn(ctx, "superseded refresh token presented", "account_id", accountID, "presented_fp", security.Fingerprint(presented))
	return apperr.ErrRefreshTokenReused
}

func (s *AuthService) issuePair(acct *userdomain.Account) (*TokenPair, error) {
	access, err := s.tokens.IssueAccess(acct.ID, security.Profile{
		Username: acct.Username,
		Email:    acct.Email,
		FullName: acct.FullName,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "issue access token", err)
	}
	refresh, err := s.tokens.IssueRefresh(acct.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "issue refresh token", err)
	}
	return &TokenPair{
		AccessToken:      access.Value,
		RefreshToken:     refresh.Value,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

func (s *AuthService) findForLogin(ctx context.Context, username, email string) (*userdomain.Account, error) {
	dctx, cancel := s.directoryContext(ctx)
	defer cancel()
	if username != "" {
		acct, err := s.accounts.GetByUsername(dctx, username)
		if err != nil {
			return nil, directoryError(err)
		}
		if acct != nil || email == "" {
			return acct, nil
		}
	}
	acct, err := s.accounts.GetByEmail(dctx, email)
	if err != nil {
		return nil, directoryError(err)
	}
	return acct, nil
}

func (s *AuthService) getAccount(ctx context.Context, id string) (*userdomain.Account, error) {
	dctx, cancel := s.directoryContext(ctx)
	defer cancel()
	acct, err := s.accounts.GetByID(dctx, id)
	if err != nil {
		return nil, directoryError(err)
	}
	return acct, nil
}

func (s *AuthService) directoryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.DirectoryTimeout)
}

func (s *AuthService) auditEvent(ctx context.Context, accountID, action string, meta map[string]string) {
	if s.audit == nil {
		return
	}
	var metadata string
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			metadata = string(b)
		}
	}
	s.audit.LogEvent(ctx, accountID, action, audit.ResourceAuth, metadata)
}

func directoryError(err error) error {
	if errors.Is(err, userrepo.ErrNotFound) {
		return apperr.Wrap(apperr.CodeNotFound, "account not found", err)
	}
	return apperr.Wrap(apperr.CodeUnavailable, "user directory unavailable", err)
}
