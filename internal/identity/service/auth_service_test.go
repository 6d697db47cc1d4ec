package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"golang.org/x/crypto/bcrypt"

	"vidstream/backend/internal/platform/apperr"
	"vidstream/backend/internal/security"
	"vidstream/backend/internal/session"
	"vidstream/backend/internal/telemetry"
	userdomain "vidstream/backend/internal/user/domain"
	userrepo "vidstream/backend/internal/user/repository"
)

const (
	alicePassword = "correct horse battery"
	aliceID       = "acct-alice"
)

type recordedEvent struct {
	userID, action, metadata string
}

type memAudit struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (a *memAudit) LogEvent(_ context.Context, userID, action, _ string, metadata string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, recordedEvent{userID: userID, action: action, metadata: metadata})
}

func (a *memAudit) count(action string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.events {
		if e.action == action {
			n++
		}
	}
	return n
}

// memMedia keys uploads by file name.
type memMedia struct {
	fail map[string]bool
}

func (m *memMedia) Upload(_ context.Context, localPath string) (string, error) {
	name := filepath.Base(localPath)
	if m.fail[name] {
		return "", errors.New("upload failed")
	}
	return "https://cdn.test/" + name, nil
}

type testEnv struct {
	svc      *AuthService
	accounts *userrepo.MemoryRepository
	audit    *memAudit
	media    *memMedia
	uploads  string
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	hasher := security.NewHasher(bcrypt.MinCost)
	codec, err := security.NewTokenCodec([]byte("access-secret"), []byte("refresh-secret"), "vidstream-test", 15*time.Minute, 240*time.Hour)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	accounts := userrepo.NewMemoryRepository()
	hash, err := hasher.Hash([]byte(alicePassword))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	now := time.Now().UTC()
	alice := &userdomain.Account{
		ID:           aliceID,
		Username:     "alice",
		Email:        "alice@example.com",
		FullName:     "Alice Liddell",
		AvatarURL:    "https://cdn.test/alice.png",
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := accounts.Create(context.Background(), alice); err != nil {
		t.Fatalf("seed alice: %v", err)
	}
	if opts.UploadDir == "" {
		opts.UploadDir = t.TempDir()
	}
	for _, name := range []string{"bob.png", "bob-cover.png", "broken.png"} {
		writeFile(t, filepath.Join(opts.UploadDir, name))
	}
	env := &testEnv{accounts: accounts, audit: &memAudit{}, media: &memMedia{fail: map[string]bool{}}, uploads: opts.UploadDir}
	env.svc = NewAuthService(Deps{
		Accounts: accounts,
		Sessions: session.NewStore(accounts, time.Second),
		Hasher:   hasher,
		Tokens:   codec,
		Media:    env.media,
		Audit:    env.audit,
	}, opts)
	return env
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("\x89PNG"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func (e *testEnv) slot(t *testing.T, id string) string {
	t.Helper()
	v, err := e.accounts.GetRefreshToken(context.Background(), id)
	if err != nil {
		t.Fatalf("GetRefreshToken: %v", err)
	}
	return v
}

func (e *testEnv) login(t *testing.T) *LoginResult {
	t.Helper()
	res, err := e.svc.Login(context.Background(), LoginIdentifier{Username: "alice"}, alicePassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return res
}

func TestAuthService_LoginAlice(t *testing.T) {
	env := newTestEnv(t, Options{RotationCAS: true})
	res := env.login(t)
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatal("Login should return both tokens")
	}
	if res.Account.ID != aliceID || res.Account.Username != "alice" {
		t.Errorf("Login account = %+v", res.Account)
	}
	if got := env.slot(t, aliceID); got != res.RefreshToken {
		t.Errorf("stored slot = %q, want issued refresh token", got)
	}
	if !res.RefreshExpiresAt.After(res.AccessExpiresAt) {
		t.Error("refresh token should outlive access token")
	}
	if env.audit.count("login_success") != 1 {
		t.Error("expected one login_success audit event")
	}
}

func TestAuthService_LoginByEmailIsCaseInsensitive(t *testing.T) {
	env := newTestEnv(t, Options{})
	res, err := env.svc.Login(context.Background(), LoginIdentifier{Email: "  ALICE@example.com "}, alicePassword)
	if err != nil {
		t.Fatalf("Login by email: %v", err)
	}
	if res.Account.ID != aliceID {
		t.Errorf("account id = %q", res.Account.ID)
	}
}

func TestAuthService_LoginUnknownAccount(t *testing.T) {
	env := newTestEnv(t, Options{})
	_, err := env.svc.Login(context.Background(), LoginIdentifier{Username: "bob"}, "whatever-pass")
	if !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Fatalf("unknown bob: want InvalidCredentials, got %v", err)
	}
	if env.audit.count("login_failure") != 1 {
		t.Error("expected one login_failure audit event")
	}
}

func TestAuthService_LoginWrongPassword(t *testing.T) {
	env := newTestEnv(t, Options{})
	before := env.login(t).RefreshToken
	_, err := env.svc.Login(context.Background(), LoginIdentifier{Username: "alice"}, "not the password")
	if !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Fatalf("wrong password: want InvalidCredentials, got %v", err)
	}
	if got := env.slot(t, aliceID); got != before {
		t.Error("failed login must not touch the refresh slot")
	}
}

func TestAuthService_LoginValidation(t *testing.T) {
	env := newTestEnv(t, Options{})
	cases := []struct {
		name string
		id   LoginIdentifier
		pw   string
	}{
		{"no identifier", LoginIdentifier{}, alicePassword},
		{"blank identifier", LoginIdentifier{Username: "   "}, alicePassword},
		{"no password", LoginIdentifier{Username: "alice"}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.Login(context.Background(), tc.id, tc.pw)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("want ValidationError, got %v", err)
			}
		})
	}
}

func TestAuthService_LoginTakesOverSession(t *testing.T) {
	env := newTestEnv(t, Options{RotationCAS: true})
	first := env.login(t)
	second := env.login(t)
	if first.RefreshToken == second.RefreshToken {
		t.Fatal("second login should mint a new refresh token")
	}
	if _, err := env.svc.Refresh(context.Background(), first.RefreshToken); !errors.Is(err, apperr.ErrRefreshTokenReused) {
		t.Errorf("refresh with displaced token: want RefreshTokenReused, got %v", err)
	}
	if _, err := env.svc.Refresh(context.Background(), second.RefreshToken); err != nil {
		t.Errorf("refresh with current token: %v", err)
	}
}

func TestAuthService_RefreshOnceThenReuse(t *testing.T) {
	for _, cas := range []bool{true, false} {
		t.Run(map[bool]string{true: "cas", false: "replace"}[cas], func(t *testing.T) {
			env := newTestEnv(t, Options{RotationCAS: cas})
			r1 := env.login(t).RefreshToken

			pair, err := env.svc.Refresh(context.Background(), r1)
			if err != nil {
				t.Fatalf("Refresh: %v", err)
			}
			r2 := pair.RefreshToken
			if r2 == r1 {
				t.Fatal("rotation must produce a new refresh token")
			}
			if got := env.slot(t, aliceID); got != r2 {
				t.Error("slot should hold the rotated token")
			}

			if _, err := env.svc.Refresh(context.Background(), r1); !errors.Is(err, apperr.ErrRefreshTokenReused) {
				t.Fatalf("reuse of r1: want RefreshTokenReused, got %v", err)
			}
			if env.audit.count("refresh_reuse") != 1 {
				t.Error("expected one refresh_reuse audit event")
			}
			if got := env.slot(t, aliceID); got != r2 {
				t.Error("reuse attempt must not change the slot")
			}
			if _, err := env.svc.Refresh(context.Background(), r2); err != nil {
				t.Errorf("refresh with r2: %v", err)
			}
		})
	}
}

func TestAuthService_RefreshInvalidTokens(t *testing.T) {
	env := newTestEnv(t, Options{RotationCAS: true})
	access := env.login(t).AccessToken
	foreign, err := security.NewTokenCodec([]byte("other-access"), []byte("other-refresh"), "vidstream-test", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	forged, err := foreign.IssueRefresh(aliceID)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-jwt",
		"access token": access,
		"foreign key":  forged.Value,
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := env.svc.Refresh(context.Background(), tok); !errors.Is(err, apperr.ErrInvalidRefreshToken) {
				t.Errorf("want InvalidRefreshToken, got %v", err)
			}
		})
	}
}

func TestAuthService_RefreshUnknownSubject(t *testing.T) {
	env := newTestEnv(t, Options{RotationCAS: true})
	tok, err := env.svc.tokens.IssueRefresh("acct-ghost")
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if _, err := env.svc.Refresh(context.Background(), tok.Value); !errors.Is(err, apperr.ErrInvalidRefreshToken) {
		t.Errorf("unknown subject: want InvalidRefreshToken, got %v", err)
	}
}

func TestAuthService_RefreshWithoutSession(t *testing.T) {
	env := newTestEnv(t, Options{RotationCAS: true})
	tok, err := env.svc.tokens.IssueRefresh(aliceID)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if _, err := env.svc.Refresh(context.Background(), tok.Value); !errors.Is(err, apperr.ErrRefreshTokenReused) {
		t.Errorf("empty slot: want RefreshTokenReused, got %v", err)
	}
}

func TestAuthService_ConcurrentRefreshSingleWinner(t *testing.T) {
	env := newTestEnv(t, Options{RotationCAS: true})
	r1 := env.login(t).RefreshToken

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		reused  int
		other   []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			pair, err := env.svc.Refresh(context.Background(), r1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, pair.RefreshToken)
			case errors.Is(err, apperr.ErrRefreshTokenReused):
				reused++
			default:
				other = append(other, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if len(winners) != 1 {
		t.Fatalf("winners = %d, want exactly 1", len(winners))
	}
	if reused != workers-1 {
		t.Errorf("reused = %d, want %d", reused, workers-1)
	}
	if got := env.slot(t, aliceID); got != winners[0] {
		t.Error("slot should hold the winner's token")
	}
}

func TestAuthService_LogoutIdempotent(t *testing.T) {
	env := newTestEnv(t, Options{RotationCAS: true})
	r1 := env.login(t).RefreshToken
	for i := 0; i < 2; i++ {
		if err := env.svc.Logout(context.Background(), aliceID); err != nil {
			t.Fatalf("Logout #%d: %v", i+1, err)
		}
	}
	if got := env.slot(t, aliceID); got != "" {
		t.Errorf("slot after logout = %q, want empty", got)
	}
	if _, err := env.svc.Refresh(context.Background(), r1); !errors.Is(err, apperr.ErrRefreshTokenReused) {
		t.Errorf("refresh after logout: want RefreshTokenReused, got %v", err)
	}
	if err := env.svc.Logout(context.Background(), ""); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("empty subject: want ValidationError, got %v", err)
	}
	if err := env.svc.Logout(context.Background(), "acct-ghost"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown subject: want NotFound, got %v", err)
	}
}

func TestAuthService_ChangePasswordKeepsSessionByDefault(t *testing.T) {
	env := newTestEnv(t, Options{RotationCAS: true})
	r1 := env.login(t).RefreshToken
	if err := env.svc.ChangePassword(context.Background(), aliceID, alicePassword, "a brand new secret"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if got := env.slot(t, aliceID); got != r1 {
		t.Error("session should survive password change by default")
	}
	if _, err := env.svc.Login(context.Background(), LoginIdentifier{Username: "alice"}, alicePassword); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Errorf("old password: want InvalidCredentials, got %v", err)
	}
	if _, err := env.svc.Login(context.Background(), LoginIdentifier{Username: "alice"}, "a brand new secret"); err != nil {
		t.Errorf("new password login: %v", err)
	}
}

func TestAuthService_ChangePasswordRevokesWhenConfigured(t *testing.T) {
	env := newTestEnv(t, Options{RotationCAS: true, RevokeOnPasswordChange: true})
	r1 := env.login(t).RefreshToken
	if err := env.svc.ChangePassword(context.Background(), aliceID, alicePassword, "a brand new secret"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if got := env.slot(t, aliceID); got != "" {
		t.Errorf("slot = %q, want empty after revoking change", got)
	}
	if _, err := env.svc.Refresh(context.Background(), r1); !errors.Is(err, apperr.ErrRefreshTokenReused) {
		t.Errorf("refresh after revoke: want RefreshTokenReused, got %v", err)
	}
}

func TestAuthService_ChangePasswordErrors(t *testing.T) {
	env := newTestEnv(t, Options{})
	cases := []struct {
		name     string
		subject  string
		old, new string
		want     error
	}{
		{"blank new", aliceID, alicePassword, "", apperr.ErrValidation},
		{"wrong old", aliceID, "wrong password", "another secret", apperr.ErrInvalidCredentials},
		{"too short", aliceID, alicePassword, "short", apperr.ErrValidation},
		{"too long", aliceID, alicePassword, strings.Repeat("y", 80), apperr.ErrValidation},
		{"same as old", aliceID, alicePassword, alicePassword, apperr.ErrValidation},
		{"unknown account", "acct-ghost", alicePassword, "another secret", apperr.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := env.svc.ChangePassword(context.Background(), tc.subject, tc.old, tc.new)
			if !errors.Is(err, tc.want) {
				t.Errorf("want %v, got %v", tc.want, err)
			}
		})
	}
}

func (e *testEnv) registerInput() RegisterInput {
	return RegisterInput{
		FullName:       "Bob Builder",
		Email:          "Bob@Example.com",
		Username:       "BobTheBuilder",
		Password:       "can we fix it",
		AvatarPath:     filepath.Join(e.uploads, "bob.png"),
		CoverImagePath: filepath.Join(e.uploads, "bob-cover.png"),
	}
}

func TestAuthService_Register(t *testing.T) {
	env := newTestEnv(t, Options{})
	pub, err := env.svc.Register(context.Background(), env.registerInput())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if pub.ID == "" {
		t.Fatal("expected account id")
	}
	if pub.Username != "bobthebuilder" || pub.Email != "bob@example.com" {
		t.Errorf("identifiers not lower-cased: %q %q", pub.Username, pub.Email)
	}
	if pub.AvatarURL != "https://cdn.test/bob.png" || pub.CoverImageURL != "https://cdn.test/bob-cover.png" {
		t.Errorf("media urls = %q %q", pub.AvatarURL, pub.CoverImageURL)
	}
	stored, _ := env.accounts.GetByID(context.Background(), pub.ID)
	if stored == nil || stored.RefreshToken != "" {
		t.Fatal("registered account should exist without a session")
	}
	if stored.PasswordHash == "can we fix it" {
		t.Fatal("password stored in plaintext")
	}
	if _, err := env.svc.Login(context.Background(), LoginIdentifier{Username: "BOBTHEBUILDER"}, "can we fix it"); err != nil {
		t.Errorf("login after register: %v", err)
	}
}

func TestAuthService_RegisterConflict(t *testing.T) {
	env := newTestEnv(t, Options{})
	in := env.registerInput()
	in.Username = "Alice"
	if _, err := env.svc.Register(context.Background(), in); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("taken username: want Conflict, got %v", err)
	}
	in = env.registerInput()
	in.Email = "ALICE@example.com"
	if _, err := env.svc.Register(context.Background(), in); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("taken email: want Conflict, got %v", err)
	}
}

func TestAuthService_RegisterValidation(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.media.fail["broken.png"] = true
	cases := []struct {
		name    string
		mutate  func(*RegisterInput)
		message string
	}{
		{"blank full name", func(in *RegisterInput) { in.FullName = " " }, "all fields are required"},
		{"bad email", func(in *RegisterInput) { in.Email = "bob-at-example" }, "invalid email format"},
		{"short password", func(in *RegisterInput) { in.Password = "short" }, "password must be at least"},
		{"password over bcrypt limit", func(in *RegisterInput) { in.Password = strings.Repeat("x", 73) }, "password must be at most 72 bytes"},
		{"multibyte password over limit", func(in *RegisterInput) { in.Password = strings.Repeat("é", 40) }, "password must be at most 72 bytes"},
		{"no avatar", func(in *RegisterInput) { in.AvatarPath = "" }, "avatar file is required"},
		{"avatar upload fails", func(in *RegisterInput) { in.AvatarPath = filepath.Join(env.uploads, "broken.png") }, "avatar file is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := env.registerInput()
			tc.mutate(&in)
			_, err := env.svc.Register(context.Background(), in)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("want ValidationError, got %v", err)
			}
			if !strings.Contains(apperr.MessageOf(err), tc.message) {
				t.Errorf("message = %q, want it to contain %q", apperr.MessageOf(err), tc.message)
			}
		})
	}
}

func TestAuthService_RegisterCoverImageOptional(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.media.fail["bob-cover.png"] = true
	pub, err := env.svc.Register(context.Background(), env.registerInput())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if pub.CoverImageURL != "" {
		t.Errorf("cover url = %q, want empty after failed upload", pub.CoverImageURL)
	}
}

func TestAuthService_MeAndAuthenticate(t *testing.T) {
	env := newTestEnv(t, Options{})
	res := env.login(t)

	p, err := env.svc.Authenticate(res.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.AccountID != aliceID || p.Username != "alice" || p.Email != "alice@example.com" || p.TokenID == "" {
		t.Errorf("principal = %+v", p)
	}
	if _, err := env.svc.Authenticate(res.RefreshToken); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Errorf("refresh token as access: want InvalidCredentials, got %v", err)
	}

	me, err := env.svc.Me(context.Background(), p.AccountID)
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if me.FullName != "Alice Liddell" {
		t.Errorf("Me full name = %q", me.FullName)
	}
	if _, err := env.svc.Me(context.Background(), "acct-ghost"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Me unknown: want NotFound, got %v", err)
	}
}

type failingAccounts struct {
	*userrepo.MemoryRepository
}

func (failingAccounts) GetByUsername(context.Context, string) (*userdomain.Account, error) {
	return nil, errors.New("connection refused")
}

func TestAuthService_DirectoryUnavailable(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.svc.accounts = failingAccounts{env.accounts}
	_, err := env.svc.Login(context.Background(), LoginIdentifier{Username: "alice"}, alicePassword)
	if !errors.Is(err, apperr.ErrUnavailable) {
		t.Errorf("want Unavailable, got %v", err)
	}
}

func TestAuthService_RegisterRejectsPathOutsideUploadDir(t *testing.T) {
	env := newTestEnv(t, Options{})
	outside := t.TempDir()
	secret := filepath.Join(outside, ".env")
	writeFile(t, secret)
	escape, err := filepath.Rel(env.uploads, secret)
	if err != nil {
		t.Fatalf("Rel: %v", err)
	}
	link := filepath.Join(env.uploads, "link.png")
	if err := os.Symlink(secret, link); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	cases := []struct {
		name   string
		mutate func(*RegisterInput)
	}{
		{"absolute avatar", func(in *RegisterInput) { in.AvatarPath = secret }},
		{"relative avatar", func(in *RegisterInput) { in.AvatarPath = "../../etc/passwd" }},
		{"dot-dot escape", func(in *RegisterInput) { in.AvatarPath = env.uploads + string(filepath.Separator) + escape }},
		{"symlink avatar", func(in *RegisterInput) { in.AvatarPath = link }},
		{"upload dir itself", func(in *RegisterInput) { in.AvatarPath = env.uploads }},
		{"missing file", func(in *RegisterInput) { in.AvatarPath = filepath.Join(env.uploads, "nope.png") }},
		{"absolute cover", func(in *RegisterInput) { in.CoverImagePath = secret }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := env.registerInput()
			tc.mutate(&in)
			_, err := env.svc.Register(context.Background(), in)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("want ValidationError, got %v", err)
			}
		})
	}
	if got, _ := env.accounts.GetByUsername(context.Background(), "bobthebuilder"); got != nil {
		t.Error("no account should be created from a rejected path")
	}
}

func TestAuthService_RotationChain(t *testing.T) {
	const rotations = 5
	for _, cas := range []bool{true, false} {
		t.Run(map[bool]string{true: "cas", false: "replace"}[cas], func(t *testing.T) {
			env := newTestEnv(t, Options{RotationCAS: cas})
			chain := []string{env.login(t).RefreshToken}
			for i := 0; i < rotations; i++ {
				pair, err := env.svc.Refresh(context.Background(), chain[len(chain)-1])
				if err != nil {
					t.Fatalf("rotation %d: %v", i+1, err)
				}
				for _, prev := range chain {
					if pair.RefreshToken == prev {
						t.Fatalf("rotation %d returned an earlier token", i+1)
					}
				}
				chain = append(chain, pair.RefreshToken)
			}
			last := chain[len(chain)-1]
			for i, prev := range chain[:len(chain)-1] {
				if _, err := env.svc.Refresh(context.Background(), prev); !errors.Is(err, apperr.ErrRefreshTokenReused) {
					t.Errorf("token %d: want RefreshTokenReused, got %v", i, err)
				}
				if got := env.slot(t, aliceID); got != last {
					t.Fatalf("slot changed after replaying token %d", i)
				}
			}
			if n := env.audit.count("refresh_reuse"); n != rotations {
				t.Errorf("refresh_reuse events = %d, want %d", n, rotations)
			}
			if _, err := env.svc.Refresh(context.Background(), last); err != nil {
				t.Errorf("latest token rejected: %v", err)
			}
		})
	}
}

type unreachableAccounts struct {
	*userrepo.MemoryRepository
}

func (unreachableAccounts) GetByID(context.Context, string) (*userdomain.Account, error) {
	return nil, errors.New("connection refused")
}

type brokenSessions struct {
	SessionStore
}

func (brokenSessions) Current(context.Context, string) (string, bool, error) {
	return "", false, apperr.Wrap(apperr.CodeUnavailable, "session store", errors.New("i/o timeout"))
}

func refreshCounts(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if m.Name != "auth.refresh" || !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value("outcome"); ok {
					out[v.AsString()] += dp.Value
				}
			}
		}
	}
	return out
}

func TestAuthService_RefreshInfrastructureFailuresCounted(t *testing.T) {
	cases := []struct {
		name     string
		breakDep func(env *testEnv)
	}{
		{"directory down", func(env *testEnv) { env.svc.accounts = unreachableAccounts{env.accounts} }},
		{"session store down", func(env *testEnv) { env.svc.sessions = brokenSessions{env.svc.sessions} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reader := sdkmetric.NewManualReader()
			mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
			defer func() { _ = mp.Shutdown(context.Background()) }()
			m, err := telemetry.NewAuthMetrics(mp.Meter("test"))
			if err != nil {
				t.Fatalf("NewAuthMetrics: %v", err)
			}

			env := newTestEnv(t, Options{RotationCAS: true})
			env.svc.metrics = m
			r1 := env.login(t).RefreshToken
			tc.breakDep(env)

			if _, err := env.svc.Refresh(context.Background(), r1); !errors.Is(err, apperr.ErrUnavailable) {
				t.Fatalf("want Unavailable, got %v", err)
			}
			got := refreshCounts(t, reader)
			if got[telemetry.OutcomeFailure] != 1 || got[telemetry.OutcomeSuccess] != 0 {
				t.Errorf("auth.refresh counts = %v, want one failure", got)
			}
		})
	}
}
