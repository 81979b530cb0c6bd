package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/example/modconsole/internal/api"
	"github.com/example/modconsole/internal/auth"
	"github.com/example/modconsole/internal/cases"
	"github.com/example/modconsole/internal/config"
	"github.com/example/modconsole/internal/events"
	"github.com/example/modconsole/internal/queues"
	"github.com/example/modconsole/internal/security"
	"github.com/example/modconsole/pkg/audit"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("console exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	allowlist, err := security.ParseCIDRAllowlist(cfg.IPAllowlist)
	if err != nil {
		return fmt.Errorf("CONSOLE_IP_ALLOWLIST: %w", err)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	clients, err := clientStore(ctx, cfg, st)
	if err != nil {
		return err
	}

	policy, err := cases.NewPolicy(cfg.Policy.CasePolicy())
	if err != nil {
		return fmt.Errorf("build case policy: %w", err)
	}
	machine := cases.NewStateMachine(policy, cases.SystemClock{})

	var publisher cases.EventPublisher
	if cfg.NATSURL != "" {
		nc, err := events.ConnectWithRetry(cfg.NATSURL, 30*time.Second)
		if err != nil {
			return err
		}
		defer nc.Close()
		publisher = nc.Publisher()
		logger.Info("case events enabled", "stream", events.StreamName)
	} else {
		logger.Warn("NATS_URL not set; case events are not published")
	}

	svc := cases.NewService(st.repo, machine, publisher, logger)

	var limiter security.Limiter = security.NewLocalTokenBucket(cfg.RateLimitCapacity, cfg.RateLimitRefill, 0)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		limiter = &security.RedisTokenBucket{
			Redis:      redisClient,
			Prefix:     "modconsole",
			Capacity:   cfg.RateLimitCapacity,
			RefillRate: cfg.RateLimitRefill,
		}
	}

	keySet, err := signingKeys(cfg, logger)
	if err != nil {
		return err
	}

	auditor := audit.NewChainLogger(audit.WithSink(func(e *audit.LogEntry) {
		logger.Debug("audit_entry", "seq", e.Seq, "hash", e.Hash, "payload", e.Payload)
	}))

	router, err := api.NewRouter(api.Dependencies{
		Logger: logger,
		OAuth: &auth.OAuthServer{
			Store:          clients,
			Keys:           keySet,
			Issuer:         cfg.TokenIssuer,
			AccessTokenTTL: cfg.TokenTTL,
		},
		JWTValidator:      &auth.JWTValidator{KeySet: keySet, Issuer: cfg.TokenIssuer},
		Cases:             svc,
		Queues:            queues.NewRegistry(),
		Auditor:           auditor,
		RateLimiter:       limiter,
		IPAllowlist:       allowlist,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		MaxBodyBytes:      cfg.MaxBodyBytes,
		DefaultPageSize:   cfg.Policy.DefaultPageSize,
		MaxPageSize:       cfg.Policy.MaxPageSize,
	})
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	tlsSettings := security.TLSConfig{
		CertFile:          cfg.TLSCertFile,
		KeyFile:           cfg.TLSKeyFile,
		CAFile:            cfg.TLSCAFile,
		RequireClientAuth: cfg.TLSRequireClientCert,
	}
	if tlsSettings.Enabled() {
		tlsCfg, err := security.LoadServerTLSConfig(tlsSettings)
		if err != nil {
			_ = ln.Close()
			return err
		}
		srv.TLSConfig = tlsCfg
		ln = tls.NewListener(ln, tlsCfg)
	}

	logger.Info("moderation console listening",
		"addr", cfg.Addr,
		"env", cfg.Environment,
		"store", cfg.StoreDriver,
		"tls", tlsSettings.Enabled(),
		"listing_flag_threshold", policy.ListingFlagThreshold(),
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("moderation console stopped", "audit_head", auditor.Head())
	return nil
}

type store struct {
	repo  cases.Repository
	pool  *pgxpool.Pool
	close func()
}

func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("create postgres pool: %w", err)
		}
		repo := cases.NewPostgresRepository(pool)
		if err := repo.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate cases: %w", err)
		}
		return &store{repo: repo, pool: pool, close: pool.Close}, nil

	case config.DriverSQLite:
		db, err := sql.Open("sqlite3", cfg.SQLitePath+"?_busy_timeout=5000&_foreign_keys=on")
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// One writer keeps the version check and chain head read atomic.
		db.SetMaxOpenConns(1)
		repo := cases.NewSQLRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate cases: %w", err)
		}
		return &store{repo: repo, close: func() { _ = db.Close() }}, nil

	default:
		return &store{repo: cases.NewMemoryRepository(), close: func() {}}, nil
	}
}

// clientStore prefers CONSOLE_STAFF_CLIENTS and falls back to the
// oauth_clients table when running on postgres.
func clientStore(ctx context.Context, cfg *config.Config, st *store) (auth.ClientStore, error) {
	if cfg.StaffClients != "" {
		s, err := auth.ParseStaticClients(cfg.StaffClients)
		if err != nil {
			return nil, fmt.Errorf("CONSOLE_STAFF_CLIENTS: %w", err)
		}
		return s, nil
	}
	if st.pool == nil {
		return nil, errors.New("no staff client source configured")
	}
	pcs := &auth.PostgresClientStore{Pool: st.pool}
	if err := pcs.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate oauth_clients: %w", err)
	}
	return pcs, nil
}

func signingKeys(cfg *config.Config, logger *slog.Logger) (*auth.KeySet, error) {
	if cfg.SigningKeyFile != "" {
		return auth.LoadKeySet(cfg.SigningKeyFile)
	}
	logger.Warn("no CONSOLE_SIGNING_KEY_FILE; tokens will not survive a restart")
	ks, err := auth.NewKeySet()
	if err != nil {
		return nil, fmt.Errorf("create keyset: %w", err)
	}
	return ks, nil
}
