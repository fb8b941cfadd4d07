package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"document-backend/internal/analysis"
	"document-backend/internal/dispatch"
	"document-backend/internal/documents"
	"document-backend/internal/llm"
	"document-backend/internal/llm/gemini"
	"document-backend/internal/llm/openai"
	"document-backend/internal/media"
	"document-backend/internal/services/health"
	"document-backend/internal/shared/auth"
	"document-backend/internal/shared/config"
	"document-backend/internal/shared/resilience"
	"document-backend/internal/shared/server"
	"document-backend/internal/shared/storage/db"
	"document-backend/internal/shared/storage/object"
	localstore "document-backend/internal/shared/storage/object/local"
	s3store "document-backend/internal/shared/storage/object/s3"
)

// Role selects which parts of the application a binary runs.
type Role string

const (
	// RoleAPI serves HTTP and, in local dispatch mode, runs the analysis pool.
	RoleAPI Role = "api"
	// RoleWorker consumes document ids from NATS.
	RoleWorker Role = "worker"
	// RoleCLI runs analyses inline for operator commands.
	RoleCLI Role = "cli"
)

// App holds shared dependencies.
type App struct {
	Config config.Config
	Role   Role
	Router *gin.Engine

	DB    *sql.DB
	Store object.Store
	Files *localstore.Store
	Redis *redis.Client
	NATS  *nats.Conn

	DocumentsRepo    documents.Repo
	MediaRepo        media.Repo
	DocumentsService *documents.Service
	MediaService     *media.Service
	Orchestrator     *analysis.Orchestrator
	Pool             *dispatch.Pool
	Publisher        *dispatch.NATSPublisher
	Health           *health.Service

	closers []io.Closer
}

// Build prepares the dependencies of role. Nothing runs until Start.
func Build(ctx context.Context, cfg config.Config, role Role) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if role == "" {
		role = RoleAPI
	}
	app := &App{Config: cfg, Role: role, Health: health.NewService()}

	if err := app.build(ctx); err != nil {
		app.closeAll()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	sqlDB, err := buildDB(ctx, cfg, a.Role)
	if err != nil {
		return err
	}
	a.DB = sqlDB
	if sqlDB != nil {
		a.closers = append(a.closers, sqlDB)
		a.Health.Register("database", sqlDB.PingContext)
	}

	if err := a.buildStore(ctx); err != nil {
		return err
	}

	if a.DB != nil {
		a.DocumentsRepo = &documents.PGRepo{DB: a.DB}
		a.MediaRepo = &media.PGRepo{DB: a.DB}
	} else {
		a.DocumentsRepo = documents.NewMemoryRepo()
		a.MediaRepo = media.NewMemoryRepo()
	}

	guard, err := a.buildGuard(ctx)
	if err != nil {
		return err
	}
	client, err := a.buildClient(ctx)
	if err != nil {
		return err
	}
	a.Orchestrator = analysis.New(analysis.Config{
		PromptCharBudget: cfg.Analysis.PromptCharBudget,
		MaxDocumentBytes: cfg.Upload.MaxUploadBytes,
	}, analysis.Deps{
		Store:   a.DocumentsRepo,
		Objects: a.Store,
		Client:  client,
		Guard:   guard,
	})

	a.DocumentsService = documents.NewService(a.DocumentsRepo, a.Store, cfg.Upload.MaxUploadBytes)
	a.DocumentsService.Failures = a.Orchestrator
	a.MediaService = media.NewService(a.MediaRepo, a.Store, cfg.Upload.MaxMediaBytes)

	if err := a.buildDispatch(); err != nil {
		return err
	}

	if a.Role == RoleAPI {
		return a.buildRouter()
	}
	return nil
}

func buildDB(ctx context.Context, cfg config.Config, role Role) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.IsDevLike() {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	defaults := db.DefaultServerOptions()
	switch role {
	case RoleWorker:
		defaults = db.DefaultWorkerOptions(cfg.Analysis.Workers)
	case RoleCLI:
		defaults = db.DefaultMigrateOptions()
	}
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(defaults))
	if err != nil {
		if cfg.IsDevLike() {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}

	if cfg.IsDevLike() && role == RoleAPI {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			sqlDB.Close()
			return nil, err
		}
	}
	return sqlDB, nil
}

func (a *App) buildStore(ctx context.Context) error {
	cfg := a.Config.ObjectStore
	switch cfg.Type {
	case "s3":
		store, err := s3store.New(ctx, s3store.Options{
			Region:    cfg.AWSRegion,
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			KMSKeyID:  cfg.SSEKMSKeyID,
			PublicURL: cfg.PublicURL,
		})
		if err != nil {
			return err
		}
		a.Store = store
	default:
		files := localstore.New(cfg.LocalDir, a.Config.PublicBaseURL)
		a.Store = files
		a.Files = files
	}
	return nil
}

func (a *App) buildGuard(ctx context.Context) (analysis.Guard, error) {
	cfg := a.Config.Redis
	if strings.TrimSpace(cfg.Addr) == "" {
		return analysis.NewMemoryGuard(), nil
	}
	client, err := analysis.NewRedisClient(ctx, cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, err
	}
	a.Redis = client
	a.closers = append(a.closers, client)
	a.Health.Register("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	return analysis.NewRedisGuard(client, cfg.LockTTL.Std()), nil
}

func (a *App) buildClient(ctx context.Context) (llm.Client, error) {
	cfg := a.Config.Analysis
	provider := cfg.Provider
	if provider == "" {
		provider = "none"
	}

	var client llm.Client
	switch {
	case provider == "none":
		client = llm.Unconfigured{Provider: provider}
	case strings.TrimSpace(cfg.ProviderAPIKey) == "":
		log.Printf("bootstrap: no API key for provider %q; analyses will fail", provider)
		client = llm.Unconfigured{Provider: provider}
	case provider == "openai":
		c, err := openai.New(openai.Config{
			APIKey:  cfg.ProviderAPIKey,
			Model:   cfg.ModelName,
			Timeout: cfg.RequestTimeout.Std(),
		})
		if err != nil {
			return nil, err
		}
		client = c
	case provider == "gemini":
		c, err := gemini.New(ctx, gemini.Config{
			APIKey:  cfg.ProviderAPIKey,
			Model:   cfg.ModelName,
			Timeout: cfg.RequestTimeout.Std(),
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, c)
		client = c
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", provider)
	}

	execCfg := resilience.DefaultConfig()
	execCfg.BreakerEnabled = cfg.BreakerEnabled
	return llm.NewBreaker(client, provider, resilience.NewExecutor(execCfg)), nil
}

func (a *App) buildDispatch() error {
	cfg := a.Config
	if a.Role == RoleCLI {
		return nil
	}

	if cfg.Dispatch.Mode == "nats" {
		conn, err := dispatch.ConnectNATS(dispatch.NATSOptions{
			URL:  cfg.Dispatch.NATSURL,
			Name: "document-backend-" + string(a.Role),
		})
		if err != nil {
			return err
		}
		a.NATS = conn
		a.Health.Register("nats", func(context.Context) error {
			if conn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		})
		if a.Role == RoleAPI {
			a.Publisher = dispatch.NewNATSPublisher(conn, cfg.Dispatch.NATSSubject, resilience.NewExecutor(resilience.DefaultConfig()))
			a.DocumentsService.Dispatcher = a.Publisher
			return nil
		}
	} else if a.Role == RoleWorker {
		return errors.New("worker requires DISPATCH_MODE=nats")
	}

	a.Pool = dispatch.NewPool(dispatch.PoolConfig{
		Workers:   cfg.Analysis.Workers,
		QueueSize: cfg.Analysis.QueueSize,
	}, a.Orchestrator.Analyze)
	if a.Role == RoleAPI {
		a.DocumentsService.Dispatcher = a.Pool
	}
	return nil
}

func (a *App) buildRouter() error {
	var verifier *auth.Verifier
	if secret := strings.TrimSpace(a.Config.Auth.JWTSecret); secret != "" {
		v, err := auth.NewVerifier(secret)
		if err != nil {
			return err
		}
		verifier = v
	}
	a.Router = server.NewRouter(server.RouterDeps{
		Config:          a.Config,
		DocumentHandler: documents.NewHandler(a.DocumentsService),
		MediaHandler:    media.NewHandler(a.MediaService),
		Health:          a.Health,
		Verifier:        verifier,
		Files:           a.Files,
	})
	return nil
}

// Start launches background workers.
func (a *App) Start(ctx context.Context) {
	if a.Pool != nil {
		a.Pool.Start(ctx)
	}
}

// Consumer returns the NATS consumer feeding the worker pool.
func (a *App) Consumer() (*dispatch.NATSConsumer, error) {
	if a.NATS == nil || a.Pool == nil {
		return nil, errors.New("consumer requires a NATS connection and a worker pool")
	}
	return dispatch.NewNATSConsumer(a.NATS, a.Config.Dispatch.NATSSubject, a.Pool), nil
}

// Shutdown drains the worker pool and releases connections.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.Pool != nil {
		if err := a.Pool.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("pool shutdown: %w", err))
		}
	}
	if a.NATS != nil {
		if err := a.NATS.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, fmt.Errorf("nats drain: %w", err))
		}
	}
	if a.DB != nil {
		db.LogPoolStats(a.DB, "db.closing")
	}
	if err := a.closeAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
