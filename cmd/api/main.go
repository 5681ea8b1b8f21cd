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

	"cloud.google.com/go/firestore"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"google.golang.org/api/option"
	"gorm.io/gorm"

	"marketchat/internal/adapter/api"
	"marketchat/internal/adapter/api/handler"
	apimiddleware "marketchat/internal/adapter/api/middleware"
	"marketchat/internal/adapter/api/router"
	"marketchat/internal/adapter/repository"
	domainrepo "marketchat/internal/domain/repository"
	"marketchat/internal/infrastructure/database"
	"marketchat/internal/infrastructure/events"
	"marketchat/internal/infrastructure/firebase"
	"marketchat/internal/infrastructure/ratelimit"
	"marketchat/internal/infrastructure/storage"
	"marketchat/internal/infrastructure/websocket"
	"marketchat/internal/usecase"
	"marketchat/pkg/config"
	"marketchat/pkg/logger"
)

type stores struct {
	chats    domainrepo.ChatRepository
	listings domainrepo.ListingRepository
	users    domainrepo.UserRepository
	closers  []func() error
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.L().Warn().Err(err).Msg("failed to close store")
		}
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, ServiceName: "marketchat"})
	l := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []option.ClientOption
	if creds := firebase.CredentialsOption(cfg.FirebaseServiceAccountJSON, cfg.FirebaseServiceAccountPath); creds != nil {
		opts = append(opts, creds)
	}

	st, err := openStores(ctx, cfg, opts)
	if err != nil {
		l.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open storage")
	}
	defer st.close()

	authMiddleware, err := newAuthMiddleware(ctx, cfg, opts)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to initialize authentication")
	}

	var media usecase.MediaStorage
	if cfg.StorageBucket != "" {
		gcs, err := storage.NewCloudStorageClient(ctx, cfg.StorageBucket, opts...)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to initialize Cloud Storage")
		}
		defer gcs.Close()
		media = storage.NewImageStore(gcs, storage.DefaultMaxImageBytes)
	} else {
		l.Warn().Msg("STORAGE_BUCKET not set; image uploads are disabled")
	}

	limiter := ratelimit.NewRateLimiter(map[string]ratelimit.Limit{
		ratelimit.ActionSendMessage: ratelimit.PerMinute(cfg.MessageRatePerMinute),
		ratelimit.ActionCreateRoom:  ratelimit.PerMinute(10),
		ratelimit.ActionCreateOffer: ratelimit.PerMinute(10),
	})
	limiter.StartCleanupRoutine(ctx.Done())

	// The websocket manager gates joins through the usecases, which in turn
	// notify the manager; the relay is bound once both exist.
	relay := &events.Relay{}
	notifier := events.Fanout{relay, events.LogNotifier{}}

	opt := usecase.Options{
		EditWindow:      cfg.MessageEditWindow,
		OfferDefaultTTL: cfg.OfferDefaultTTL,
		DisableOfferTTL: cfg.OfferDefaultTTL == 0,
	}
	roomUseCase := usecase.NewRoomUseCase(st.chats, st.listings, st.users, notifier, opt)
	messageUseCase := usecase.NewMessageUseCase(st.chats, st.users, media, notifier, limiter, opt)
	offerUseCase := usecase.NewOfferUseCase(st.chats, st.listings, notifier, limiter, opt)

	wsManager := websocket.NewManager(roomUseCase, messageUseCase)
	wsManager.Start(ctx)

	healthChecks := map[string]handler.Pinger{"store": st.chats}

	if cfg.Redis.Addr != "" {
		bus, err := events.NewRedisBus(ctx, events.RedisConfig{
			Address:  cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			l.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer bus.Close()

		// Every instance, this one included, receives events through the
		// subscription, so the local manager is not notified directly.
		relay.Bind(bus)
		go bus.Run(ctx, wsManager.Deliver)
		healthChecks["redis"] = bus
	} else {
		relay.Bind(wsManager)
	}

	expiryJob := usecase.NewOfferExpiryJob(offerUseCase, cfg.OfferSweepInterval)
	expiryJob.Start(ctx)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := l.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				event = l.Error().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	}))

	e.Validator = api.NewValidator()

	router.Setup(e, router.Handlers{
		Chat:      handler.NewChatHandler(roomUseCase, messageUseCase),
		Message:   handler.NewMessageHandler(messageUseCase),
		Offer:     handler.NewOfferHandler(offerUseCase),
		Admin:     handler.NewAdminHandler(roomUseCase, messageUseCase, offerUseCase),
		WebSocket: handler.NewWebSocketHandler(wsManager, authMiddleware, nil),
		Health:    handler.NewHealthHandler(healthChecks),
	}, authMiddleware, limiter)

	go func() {
		l.Info().Str("port", cfg.ServerPort).Str("store", cfg.StoreDriver).Str("auth", cfg.AuthMode).Msg("server starting")
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	l.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func openStores(ctx context.Context, cfg *config.Config, opts []option.ClientOption) (*stores, error) {
	switch cfg.StoreDriver {
	case "firestore":
		client, err := firestore.NewClient(ctx, cfg.FirebaseProject, opts...)
		if err != nil {
			return nil, err
		}
		return &stores{
			chats:    repository.NewFirestoreChatRepository(client),
			listings: repository.NewFirestoreListingRepository(client),
			users:    repository.NewFirestoreUserRepository(client),
			closers:  []func() error{client.Close},
		}, nil

	case "postgres", "sqlite":
		db, err := openDatabase(cfg, cfg.StoreDriver)
		if err != nil {
			return nil, err
		}
		if err := repository.AutoMigrate(db, cfg.IsDevelopment()); err != nil {
			database.Close(db)
			return nil, err
		}
		return &stores{
			chats:    repository.NewGormChatRepository(db),
			listings: repository.NewGormListingRepository(db),
			users:    repository.NewGormUserRepository(db),
			closers:  []func() error{func() error { return database.Close(db) }},
		}, nil

	case "memory":
		// Chat state lives in process; listings and users come from the
		// SQLite directory at DATABASE_SQLITE_PATH.
		db, err := openDatabase(cfg, "sqlite")
		if err != nil {
			return nil, err
		}
		if err := repository.AutoMigrate(db, true); err != nil {
			database.Close(db)
			return nil, err
		}
		return &stores{
			chats:    repository.NewMemoryChatRepository(),
			listings: repository.NewGormListingRepository(db),
			users:    repository.NewGormUserRepository(db),
			closers:  []func() error{func() error { return database.Close(db) }},
		}, nil
	}
	return nil, errors.New("unsupported store driver: " + cfg.StoreDriver)
}

func openDatabase(cfg *config.Config, driver string) (*gorm.DB, error) {
	return database.New(&database.Config{
		Driver:          driver,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.Name,
		SSLMode:         cfg.Database.SSLMode,
		FilePath:        cfg.Database.SQLitePath,
		MaxIdleConns:    10,
		MaxOpenConns:    50,
		ConnMaxLifetime: 30 * time.Minute,
		Debug:           cfg.LogLevel == "debug",
	})
}

func newAuthMiddleware(ctx context.Context, cfg *config.Config, opts []option.ClientOption) (*apimiddleware.AuthMiddleware, error) {
	if cfg.AuthMode == "header" {
		logger.L().Warn().Msg("AUTH_MODE=header: trusting X-User-ID, do not expose this instance")
		return apimiddleware.NewHeaderAuthMiddleware(), nil
	}

	app, err := firebase.NewApp(ctx, cfg.FirebaseProject, opts...)
	if err != nil {
		return nil, err
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, err
	}
	return apimiddleware.NewAuthMiddleware(firebase.NewFirebaseAuthClient(authClient)), nil
}
