package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	grpchealth "google.golang.org/grpc/health"

	"vidstream/backend/internal/audit"
	auditrepo "vidstream/backend/internal/audit/repository"
	"vidstream/backend/internal/config"
	"vidstream/backend/internal/db"
	"vidstream/backend/internal/health"
	identityhandler "vidstream/backend/internal/identity/handler"
	identityservice "vidstream/backend/internal/identity/service"
	"vidstream/backend/internal/logging"
	"vidstream/backend/internal/media"
	"vidstream/backend/internal/security"
	"vidstream/backend/internal/server"
	"vidstream/backend/internal/server/interceptors"
	"vidstream/backend/internal/session"
	sessionrepo "vidstream/backend/internal/session/repository"
	"vidstream/backend/internal/telemetry"
	telemetryotel "vidstream/backend/internal/telemetry/otel"
	userrepo "vidstream/backend/internal/user/repository"
)

const serviceName = "vidstream-auth"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New(serviceName, "info", "json", os.Stderr).Error(context.Background(), "config", "error", err)
		os.Exit(1)
	}
	log := logging.New(serviceName, cfg.LogLevel, cfg.LogFormat, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "server exited", "error", err)
		os.Exit(1)
	}
}

// stores is the storage wiring chosen by SESSION_BACKEND.
type stores struct {
	accounts identityservice.AccountRepo
	slots    userrepo.SlotRepository
	audit    auditrepo.Repository
	pingers  []health.Pinger
	close    func()
}

func run(ctx context.Context, cfg *config.Config, log logging.Logger) error {
	providers, err := telemetryotel.NewProviders(ctx, cfg.OTelEndpoint, serviceName, cfg.OTelInsecure)
	if err != nil {
		return oops.With("operation", "otel providers").Wrap(err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Warn(shutdownCtx, "otel shutdown", "error", err)
		}
	}()
	metrics, err := telemetry.NewAuthMetrics(providers.Meter(serviceName))
	if err != nil {
		return oops.With("operation", "auth metrics").Wrap(err)
	}
	emitter := telemetryotel.NewEventEmitter(providers.LoggerProvider)

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	store, err := openMedia(ctx, cfg)
	if err != nil {
		return err
	}

	tokens, err := security.NewTokenCodec([]byte(cfg.JWTAccessSecret), []byte(cfg.JWTRefreshSecret), cfg.JWTIssuer, cfg.AccessTTL(), cfg.RefreshTTL())
	if err != nil {
		return oops.With("operation", "token codec").Wrap(err)
	}
	auditLogger := audit.NewLogger(st.audit, interceptors.ClientIP, log)
	auth := identityservice.NewAuthService(identityservice.Deps{
		Accounts: st.accounts,
		Sessions: session.NewStore(st.slots, cfg.DirectoryTimeout()),
		Hasher:   security.NewHasher(cfg.BcryptCost),
		Tokens:   tokens,
		Media:    store,
		Audit:    auditLogger,
		Metrics:  metrics,
		Log:      log.With("component", "auth"),
	}, identityservice.Options{
		RotationCAS:            cfg.SessionRotationCAS,
		RevokeOnPasswordChange: cfg.RevokeSessionOnPasswordChange,
		DirectoryTimeout:       cfg.DirectoryTimeout(),
		UploadDir:              cfg.UploadDir,
	})

	hs := grpchealth.NewServer()
	monitor := health.NewMonitor(hs, st.pingers, health.DefaultInterval, log, identityhandler.ServiceName)
	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	go monitor.Run(monitorCtx)

	srv := server.NewServer(server.Deps{
		Auth:      auth,
		Audit:     auditLogger,
		Telemetry: emitter,
		Health:    hs,
		Log:       log,
	})

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return oops.With("operation", "listen").With("addr", cfg.GRPCAddr).Wrap(err)
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "gRPC server listening", "addr", cfg.GRPCAddr, "session_backend", cfg.SessionBackend)
		serveErr <- srv.Serve(lis)
	}()

	select {
	case err := <-serveErr:
		return oops.With("operation", "serve").Wrap(err)
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down gRPC server")
	stopMonitor()
	hs.Shutdown()
	srv.GracefulStop()
	// Give async telemetry emits time to finish before the providers shut down.
	time.Sleep(telemetry.ShutdownDrainDuration)
	log.Info(context.Background(), "gRPC server stopped")
	return nil
}

func openStores(ctx context.Context, cfg *config.Config, log logging.Logger) (*stores, error) {
	st := &stores{close: func() {}}
	if cfg.SessionBackend == config.SessionBackendMemory || cfg.DatabaseURL == "" {
		if cfg.SessionBackend != config.SessionBackendMemory {
			log.Warn(ctx, "DATABASE_URL not set; using in-memory user directory")
		}
		mem := userrepo.NewMemoryRepository()
		st.accounts, st.slots, st.audit = mem, mem, auditrepo.NewMemoryRepository()
	} else {
		pool, err := db.Open(ctx, cfg.DatabaseURL, db.DefaultConnectAttempts)
		if err != nil {
			return nil, err
		}
		pg := userrepo.NewPostgresRepository(pool)
		st.accounts, st.slots, st.audit = pg, pg, auditrepo.NewPostgresRepository(pool)
		st.pingers = append(st.pingers, pool)
		st.close = pool.Close
	}

	if cfg.SessionBackend == config.SessionBackendRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		rr := sessionrepo.NewRedisRepository(client, "", cfg.RefreshTTL())
		if err := rr.Ping(ctx); err != nil {
			_ = client.Close()
			st.close()
			return nil, oops.With("operation", "redis ping").With("addr", cfg.RedisAddr).Wrap(err)
		}
		st.slots = rr
		st.pingers = append(st.pingers, rr)
		closeDB := st.close
		st.close = func() {
			_ = client.Close()
			closeDB()
		}
	}
	return st, nil
}

func openMedia(ctx context.Context, cfg *config.Config) (media.Store, error) {
	if !cfg.MediaEnabled() {
		return media.Disabled{}, nil
	}
	s3cfg := media.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		PublicBaseURL:   cfg.S3PublicBaseURL,
	}
	client, err := media.NewS3Client(ctx, s3cfg)
	if err != nil {
		return nil, oops.With("operation", "s3 client").Wrap(err)
	}
	return media.NewS3Store(client, s3cfg), nil
}
