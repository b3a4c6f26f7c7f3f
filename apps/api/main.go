package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	contactshandler "github.com/collabridge/rapport-tracker/domains/contacts/be/handler"
	contactsrepo "github.com/collabridge/rapport-tracker/domains/contacts/be/repo"
	contactsservice "github.com/collabridge/rapport-tracker/domains/contacts/be/service"
	interactionshandler "github.com/collabridge/rapport-tracker/domains/interactions/be/handler"
	interactionsrepo "github.com/collabridge/rapport-tracker/domains/interactions/be/repo"
	interactionsservice "github.com/collabridge/rapport-tracker/domains/interactions/be/service"
	maintenancehandler "github.com/collabridge/rapport-tracker/domains/maintenance/be/handler"
	maintenancerepo "github.com/collabridge/rapport-tracker/domains/maintenance/be/repo"
	maintenanceservice "github.com/collabridge/rapport-tracker/domains/maintenance/be/service"
	tacticshandler "github.com/collabridge/rapport-tracker/domains/tactics/be/handler"
	tacticsrepo "github.com/collabridge/rapport-tracker/domains/tactics/be/repo"
	tacticsservice "github.com/collabridge/rapport-tracker/domains/tactics/be/service"
	usershandler "github.com/collabridge/rapport-tracker/domains/users/be/handler"
	usersrepo "github.com/collabridge/rapport-tracker/domains/users/be/repo"
	usersservice "github.com/collabridge/rapport-tracker/domains/users/be/service"
	platformauth "github.com/collabridge/rapport-tracker/platform/go/auth"
	"github.com/collabridge/rapport-tracker/platform/go/dataservice"
	platformlogging "github.com/collabridge/rapport-tracker/platform/go/logging"
	"github.com/collabridge/rapport-tracker/platform/go/metrics"
	platformmiddleware "github.com/collabridge/rapport-tracker/platform/go/middleware"
	"github.com/collabridge/rapport-tracker/platform/go/persistence"
	"github.com/collabridge/rapport-tracker/platform/go/policy"
	"github.com/collabridge/rapport-tracker/platform/go/problem"
	"github.com/collabridge/rapport-tracker/platform/go/retention"
	"github.com/collabridge/rapport-tracker/platform/go/softdelete"
)

type config struct {
	Port               string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout     time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel           string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat          string        `env:"LOG_FORMAT" envDefault:"json"`
	DatabaseURL        string        `env:"DATABASE_URL,required"`
	DBMaxConns         int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	DBConnectTimeout   time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"5s"`
	DBStatementTimeout time.Duration `env:"DB_STATEMENT_TIMEOUT" envDefault:"0s"`
	JWTSecret          string        `env:"JWT_SECRET,required"`
	JWTTTL             time.Duration `env:"JWT_TTL" envDefault:"1h"`
	CORSOrigins        []string      `env:"CORS_ORIGINS" envSeparator:","`
	RateLimitRPM       int           `env:"RATE_LIMIT_RPM" envDefault:"60"`
	// TrustProxyHeaders rewrites RemoteAddr from X-Forwarded-For/X-Real-IP.
	// Enable only behind a proxy that overwrites those headers.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`
}

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initialPolicy, err := policy.Load()
	if err != nil {
		logger.Fatal("load soft delete policy", zap.Error(err))
	}
	holder, err := policy.NewHolder(initialPolicy)
	if err != nil {
		logger.Fatal("init policy holder", zap.Error(err))
	}

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{
		ConnString:      cfg.DatabaseURL,
		ApplicationName: "rapport-api",
		MaxConns:        cfg.DBMaxConns,
		ConnectTimeout:  cfg.DBConnectTimeout,
	})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	db := persistence.NewDB(pool, persistence.WithStatementTimeout(cfg.DBStatementTimeout))

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(promRegistry, metrics.WithLogger(logger), metrics.WithPolicy(holder))

	registry := persistence.CoreRegistry()
	bulk := persistence.NewBulkManager(db,
		persistence.WithBulkLogger(logger),
		persistence.WithBulkObserver(recorder),
	)
	// Account deletion walks every relation; owner-facing deletes only walk
	// down to dependents so they never reach the owning user.
	accountCascade := persistence.NewCascadeDeleter(db, registry,
		persistence.WithCascadeLogger(logger),
		persistence.WithCascadeObserver(recorder),
	)
	dependentCascade := persistence.NewCascadeDeleter(db, registry.Dependents(),
		persistence.WithCascadeLogger(logger),
		persistence.WithCascadeObserver(recorder),
	)

	signer, err := platformauth.NewSigner(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		logger.Fatal("init token signer", zap.Error(err))
	}

	userStore, err := persistence.NewUserStore(db)
	if err != nil {
		logger.Fatal("init user store", zap.Error(err))
	}
	userData := dataservice.New[persistence.User](userStore, holder,
		dataservice.WithCascader[persistence.User](accountCascade),
		dataservice.WithLogger[persistence.User](logger),
	)
	userService := usersservice.New(usersrepo.NewPostgresRepository(userStore, userData), signer, holder)
	userHTTPHandler := usershandler.New(userService, logger)

	contactStore, err := persistence.NewStore(db, persistence.ContactSchema())
	if err != nil {
		logger.Fatal("init contact store", zap.Error(err))
	}
	contactData := dataservice.New[persistence.Contact](contactStore, holder,
		dataservice.WithCascader[persistence.Contact](dependentCascade),
		dataservice.WithLogger[persistence.Contact](logger),
	)

	interactionStore, err := persistence.NewInteractionStore(db)
	if err != nil {
		logger.Fatal("init interaction store", zap.Error(err))
	}
	interactionData := dataservice.New[persistence.Interaction](interactionStore, holder,
		dataservice.WithCascader[persistence.Interaction](dependentCascade),
		dataservice.WithLogger[persistence.Interaction](logger),
		dataservice.WithPreloader(interactionsrepo.PreloadTacticLogs, interactionsrepo.TacticLogsPreloader(interactionStore)),
	)

	contactService := contactsservice.New(contactsrepo.NewPostgresRepository(contactData, interactionData))
	contactHTTPHandler := contactshandler.New(contactService, logger)

	interactionService := interactionsservice.New(interactionsrepo.NewPostgresRepository(interactionStore, interactionData, contactData))
	interactionHTTPHandler := interactionshandler.New(interactionService, logger)

	tacticStore, err := persistence.NewTacticStore(db)
	if err != nil {
		logger.Fatal("init tactic store", zap.Error(err))
	}
	tacticData := dataservice.New[persistence.RapportTactic](tacticStore, holder, dataservice.WithLogger[persistence.RapportTactic](logger))
	tacticService := tacticsservice.New(tacticsrepo.NewPostgresRepository(tacticStore, tacticData))
	tacticHTTPHandler := tacticshandler.New(tacticService, logger)

	maintenanceService := maintenanceservice.New(
		maintenancerepo.NewPostgresRepository(db, registry, bulk, accountCascade, dependentCascade, logger),
		holder,
		recorder,
	)
	maintenanceHTTPHandler := maintenancehandler.New(maintenanceService, logger)

	authMiddleware := buildAuthMiddleware(signer, func(ctx context.Context, id uuid.UUID) (persistence.User, error) {
		return userStore.Get(ctx, id, softdelete.ScopeActive)
	}, logger)
	authLimiter := platformmiddleware.NewRateLimiter(cfg.RateLimitRPM)
	maintenanceLimiter := platformmiddleware.NewRateLimiter(cfg.RateLimitRPM)

	rootRouter := chi.NewRouter()

	rootRouter.Use(chimw.RequestID)
	if cfg.TrustProxyHeaders {
		rootRouter.Use(chimw.RealIP)
	}
	rootRouter.Use(
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		platformmiddleware.CORS(cfg.CORSOrigins),
		recorder.Middleware,
	)

	rootRouter.Use(platformlogging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", readinessHandler(pool, logger))
	rootRouter.Method(http.MethodGet, "/metrics", recorder.Handler())

	apiRouter := chi.NewRouter()
	apiRouter.Use(authMiddleware)
	apiRouter.Use(platformmiddleware.RequestTrace)

	apiRouter.Group(func(r chi.Router) {
		r.Use(authLimiter.Handler)
		userHTTPHandler.PublicRoutes(r)
	})

	apiRouter.Group(func(r chi.Router) {
		r.Use(platformauth.RequireUser)

		userHTTPHandler.Routes(r)
		contactHTTPHandler.Routes(r)
		interactionHTTPHandler.Routes(r)
		tacticHTTPHandler.Routes(r)

		r.Group(func(r chi.Router) {
			r.Use(platformauth.RequireRole(platformauth.RoleAdmin))
			userHTTPHandler.AdminRoutes(r)

			r.Group(func(r chi.Router) {
				r.Use(maintenanceLimiter.Handler)
				maintenanceHTTPHandler.AdminRoutes(r)
			})
		})
	})

	rootRouter.Mount("/api/v1", apiRouter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	scheduler := retention.NewScheduler(bulk, holder, registry.Tables(), retention.WithLogger(logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("api server stopped with error", zap.Error(err))
		return
	}
	logger.Info("api server stopped")
}

// readinessHandler reports 503 while the database cannot be reached.
func readinessHandler(pool *pgxpool.Pool, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := pool.Ping(ctx); err != nil {
			platformlogging.FromRequest(r, logger).Warn("readiness check failed", zap.Error(err))
			problem.Write(w, problem.New(http.StatusServiceUnavailable, "not-ready", "Service unavailable", "database is unreachable"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
