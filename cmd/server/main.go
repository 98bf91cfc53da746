package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/echosecure-chat/internal/auth"
	"github.com/iliyamo/echosecure-chat/internal/codec"
	"github.com/iliyamo/echosecure-chat/internal/config"
	"github.com/iliyamo/echosecure-chat/internal/database"
	"github.com/iliyamo/echosecure-chat/internal/dispatch"
	"github.com/iliyamo/echosecure-chat/internal/group"
	"github.com/iliyamo/echosecure-chat/internal/handler"
	"github.com/iliyamo/echosecure-chat/internal/ledger"
	"github.com/iliyamo/echosecure-chat/internal/logging"
	"github.com/iliyamo/echosecure-chat/internal/middleware"
	"github.com/iliyamo/echosecure-chat/internal/presence"
	"github.com/iliyamo/echosecure-chat/internal/queue"
	"github.com/iliyamo/echosecure-chat/internal/repository"
	"github.com/iliyamo/echosecure-chat/internal/repository/memstore"
	"github.com/iliyamo/echosecure-chat/internal/router"
	"github.com/iliyamo/echosecure-chat/internal/ws"
)

func main() {
	_ = godotenv.Load() // a missing .env is fine; the environment may already be set
	cfg := config.Load()
	log := logging.New(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "server stopped", "err", err)
		os.Exit(1)
	}
}

// stores groups the persistence backends the services need.
type stores struct {
	users    auth.UserStore
	sessions auth.SessionStore
	messages ledger.Store
	groups   group.Store
	db       *sql.DB
}

func openStores(ctx context.Context, cfg config.Config, log logging.Logger) (stores, error) {
	if cfg.Storage == config.StorageMemory {
		log.Warn(ctx, "using in-memory storage; data is lost on restart")
		return stores{
			users:    memstore.NewUsers(),
			sessions: memstore.NewSessions(),
			messages: memstore.NewMessages(),
			groups:   memstore.NewGroups(),
		}, nil
	}
	db, err := database.Open(database.Params{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
	})
	if err != nil {
		return stores{}, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return stores{}, err
	}
	return stores{
		users:    repository.NewUserRepo(db),
		sessions: repository.NewSessionRepo(db),
		messages: repository.NewMessageRepo(db),
		groups:   repository.NewGroupRepo(db),
		db:       db,
	}, nil
}

// redisPinger adapts a Redis client to the health check.
type redisPinger struct{ c *redis.Client }

func (p redisPinger) PingContext(ctx context.Context) error { return p.c.Ping(ctx).Err() }

func run(ctx context.Context, cfg config.Config, log logging.Logger) error {
	cdc, err := codec.New(cfg.EncryptionSecret)
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	health := map[string]handler.Pinger{}
	if st.db != nil {
		defer st.db.Close()
		health["mysql"] = st.db
	}

	rl := config.LoadRateLimitConfig()
	var rdb *redis.Client
	if rl.Enabled {
		rdb, err = config.NewRedisClient(config.LoadRedisConfig())
		if err != nil {
			log.Warn(ctx, "redis unavailable, rate limiting disabled", "err", err)
		} else {
			defer rdb.Close()
			health["redis"] = redisPinger{rdb}
		}
	}

	mailer := queue.NewMailer(cfg.Mail, log)
	var notifier auth.Notifier
	if cfg.OTPDelivery == config.DeliveryInline {
		notifier = queue.NewInlineNotifier(mailer, auth.OTPTTL)
	} else {
		notifier = queue.NewPublisher(cfg.AMQPURL, auth.OTPTTL, log)
		go func() {
			if err := queue.NewConsumer(cfg.AMQPURL, mailer, log).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error(ctx, "otp consumer stopped", "err", err)
			}
		}()
	}

	reg := presence.NewRegistry(log)
	d := dispatch.New(reg, log)

	authSvc := auth.NewService(auth.Config{
		AccessSecret:  cfg.JWTSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     time.Duration(cfg.AccessTTLMin) * time.Minute,
		RefreshTTL:    time.Duration(cfg.RefreshTTLDays) * 24 * time.Hour,
		BcryptCost:    cfg.BcryptCost,
	}, st.users, st.sessions, notifier, auth.NewHTTPIPResolver(cfg.IPLookupURL, log), log)
	groupSvc := group.NewService(st.groups, st.users, d, log)
	ledgerSvc := ledger.NewService(st.messages, st.users, groupSvc, d, cdc, log)

	go ledger.NewSweeper(cfg.SweepInterval, log).
		Add("messages", ledgerSvc.SweepExpired).
		Add("sessions", authSvc.SweepSessions).
		Run(ctx)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     []string{cfg.ClientURL},
		AllowCredentials: true,
		AllowHeaders:     []string{echo.HeaderContentType, middleware.CSRFHeader},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
	}))
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			args := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency.String()}
			if v.Error != nil {
				args = append(args, "err", v.Error)
			}
			log.Info(c.Request().Context(), "request", args...)
			return nil
		},
	}))

	guards := router.Guards{
		Session:   middleware.RequireSession(authSvc, log),
		CSRF:      middleware.RequireCSRF(authSvc, log),
		Limit:     middleware.NewTokenBucket(rl, rdb, log),
		AuthLimit: middleware.NewTokenBucket(rl.ForAuth(), rdb, log),
	}
	msgs := handler.NewMessageHandler(ledgerSvc, log)
	router.RegisterRoutes(e, handler.Health(health))
	router.RegisterAuth(e, handler.NewAuthHandler(authSvc, handler.CookiePolicy{Secure: cfg.CookieSecure}, log), guards)
	router.RegisterMessages(e, msgs, guards)
	router.RegisterGroups(e, handler.NewGroupHandler(groupSvc, log), msgs, guards)
	router.RegisterWS(e, ws.NewServer(reg, groupSvc, d, cfg.ClientURL, log), guards)

	errc := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		log.Info(ctx, "listening", "addr", addr, "env", cfg.Env, "storage", cfg.Storage)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reg.CloseAll()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info(shutdownCtx, "shutdown complete")
	return nil
}
