package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GRPCAddr != ":8080" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":8080")
	}
	if cfg.JWTIssuer != "vidstream-auth" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "vidstream-auth")
	}
	if cfg.AccessTTL() != 15*time.Minute {
		t.Errorf("AccessTTL = %v, want 15m", cfg.AccessTTL())
	}
	if cfg.RefreshTTL() != 240*time.Hour {
		t.Errorf("RefreshTTL = %v, want 240h", cfg.RefreshTTL())
	}
	if cfg.DirectoryTimeout() != 3*time.Second {
		t.Errorf("DirectoryTimeout = %v, want 3s", cfg.DirectoryTimeout())
	}
	if cfg.UploadDir != "" {
		t.Errorf("UploadDir = %q, want empty", cfg.UploadDir)
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if cfg.SessionBackend != SessionBackendPostgres {
		t.Errorf("SessionBackend = %q, want postgres", cfg.SessionBackend)
	}
	if !cfg.SessionRotationCAS {
		t.Error("SessionRotationCAS should default to true")
	}
	if cfg.RevokeSessionOnPasswordChange {
		t.Error("RevokeSessionOnPasswordChange should default to false")
	}
	if cfg.JWTAccessSecret == "" || cfg.JWTRefreshSecret == "" || cfg.JWTAccessSecret == cfg.JWTRefreshSecret {
		t.Errorf("dev secrets not filled: access=%q refresh=%q", cfg.JWTAccessSecret, cfg.JWTRefreshSecret)
	}
	if cfg.MediaEnabled() {
		t.Error("MediaEnabled should be false without S3_BUCKET")
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("GRPC_ADDR", ":9090")
	os.Setenv("JWT_ISSUER", "custom-issuer")
	os.Setenv("BCRYPT_COST", "14")
	os.Setenv("SESSION_BACKEND", "Memory")
	os.Setenv("SESSION_ROTATION_CAS", "false")
	os.Setenv("REVOKE_SESSION_ON_PASSWORD_CHANGE", "true")
	os.Setenv("DIRECTORY_TIMEOUT", "750ms")
	os.Setenv("S3_BUCKET", "media")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GRPCAddr != ":9090" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":9090")
	}
	if cfg.JWTIssuer != "custom-issuer" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "custom-issuer")
	}
	if cfg.BcryptCost != 14 {
		t.Errorf("BcryptCost = %d, want 14", cfg.BcryptCost)
	}
	if cfg.SessionBackend != SessionBackendMemory {
		t.Errorf("SessionBackend = %q, want memory", cfg.SessionBackend)
	}
	if cfg.SessionRotationCAS {
		t.Error("SessionRotationCAS should be false")
	}
	if !cfg.RevokeSessionOnPasswordChange {
		t.Error("RevokeSessionOnPasswordChange should be true")
	}
	if cfg.DirectoryTimeout() != 750*time.Millisecond {
		t.Errorf("DirectoryTimeout = %v, want 750ms", cfg.DirectoryTimeout())
	}
	if !cfg.MediaEnabled() {
		t.Error("MediaEnabled should be true with S3_BUCKET")
	}
}

func TestLoad_InvalidBcryptCost(t *testing.T) {
	os.Clearenv()
	os.Setenv("BCRYPT_COST", "50")
	if _, err := Load(); err == nil {
		t.Fatal("Load: expected error for BCRYPT_COST=50")
	}
}

func TestLoad_EqualSecretsRejected(t *testing.T) {
	os.Clearenv()
	os.Setenv("JWT_ACCESS_SECRET", "same")
	os.Setenv("JWT_REFRESH_SECRET", "same")
	if _, err := Load(); err == nil {
		t.Fatal("Load: expected error for equal secrets")
	}
}

func TestLoad_ProductionRequiresSecrets(t *testing.T) {
	os.Clearenv()
	os.Setenv("APP_ENV", "production")
	os.Setenv("DATABASE_URL", "postgres://localhost/vidstream")
	if _, err := Load(); err == nil {
		t.Fatal("Load: expected error for missing secrets in production")
	}

	os.Setenv("JWT_ACCESS_SECRET", "a")
	os.Setenv("JWT_REFRESH_SECRET", "r")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.IsProduction() {
		t.Error("IsProduction should be true")
	}
}

func TestLoad_ProductionRejectsMemoryBackend(t *testing.T) {
	os.Clearenv()
	os.Setenv("APP_ENV", "production")
	os.Setenv("JWT_ACCESS_SECRET", "a")
	os.Setenv("JWT_REFRESH_SECRET", "r")
	os.Setenv("SESSION_BACKEND", "memory")
	if _, err := Load(); err == nil {
		t.Fatal("Load: expected error for memory backend in production")
	}
}

func TestLoad_UnknownSessionBackend(t *testing.T) {
	os.Clearenv()
	os.Setenv("SESSION_BACKEND", "etcd")
	if _, err := Load(); err == nil {
		t.Fatal("Load: expected error for unknown SESSION_BACKEND")
	}
}

func TestLoad_RedisBackendRequiresAddr(t *testing.T) {
	os.Clearenv()
	os.Setenv("SESSION_BACKEND", "redis")
	if _, err := Load(); err == nil {
		t.Fatal("Load: expected error without REDIS_ADDR")
	}
	os.Setenv("REDIS_ADDR", "localhost:6379")
	if _, err := Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoad_InvalidDirectoryTimeout(t *testing.T) {
	os.Clearenv()
	os.Setenv("DIRECTORY_TIMEOUT", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("Load: expected error for DIRECTORY_TIMEOUT=soon")
	}
}

func TestConfig_TTLFallbacks(t *testing.T) {
	c := &Config{JWTAccessTTL: "bad", JWTRefreshTTL: "-1h", DirectoryTimeoutRaw: ""}
	if c.AccessTTL() != 15*time.Minute {
		t.Errorf("AccessTTL = %v", c.AccessTTL())
	}
	if c.RefreshTTL() != 240*time.Hour {
		t.Errorf("RefreshTTL = %v", c.RefreshTTL())
	}
	if c.DirectoryTimeout() != 3*time.Second {
		t.Errorf("DirectoryTimeout = %v", c.DirectoryTimeout())
	}
}
