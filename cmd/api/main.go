package main

import (
	"context"
	"fmt"
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

	fbapp "firebase.google.com/go/v4"

	"jobchat/internal/adapter/api"
	"jobchat/internal/adapter/api/handler"
	apimiddleware "jobchat/internal/adapter/api/middleware"
	"jobchat/internal/adapter/api/router"
	"jobchat/internal/adapter/repository"
	"jobchat/internal/adapter/repository/memory"
	domainrepo "jobchat/internal/domain/repository"
	"jobchat/internal/domain/service"
	"jobchat/internal/infrastructure/firebase"
	"jobchat/internal/infrastructure/ratelimit"
	"jobchat/internal/infrastructure/storage"
	"jobchat/internal/infrastructure/websocket"
	"jobchat/internal/usecase"
	"jobchat/pkg/config"
)

type backend struct {
	chats         domainrepo.ChatRepository
	messages      domainrepo.MessageRepository
	presence      domainrepo.PresenceRepository
	notifications domainrepo.NotificationRepository
	identity      usecase.IdentityProvider
	files         service.FileUploadService
	close         func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var b *backend
	if cfg.UseMemoryStore() {
		b, err = memoryBackend(cfg)
	} else {
		b, err = firestoreBackend(ctx, cfg)
	}
	if err != nil {
		log.Fatalf("Failed to initialize %s store: %v", cfg.StoreDriver, err)
	}
	defer b.close()

	settings := usecase.SettingsFromConfig(cfg)

	wsManager := websocket.NewManager()
	wsManager.Start(ctx)

	limiter := ratelimit.NewFromConfig(cfg)
	limiter.StartCleanupRoutine(ctx)

	presenceUseCase := usecase.NewPresenceUseCase(b.presence, settings)
	notificationUseCase := usecase.NewNotificationUseCase(b.notifications, wsManager, settings)
	conversationUseCase := usecase.NewConversationUseCase(b.chats, b.messages, notificationUseCase, b.files, settings)
	directoryUseCase := usecase.NewDirectoryUseCase(b.chats, conversationUseCase, settings)

	handler.Setup(directoryUseCase, conversationUseCase, notificationUseCase, presenceUseCase, b.files, limiter)
	handler.SetupHealthHandler(cfg.StoreDriver)

	wsHandler := handler.NewWebSocketHandler(wsManager, usecase.SessionDeps{
		Presence:      presenceUseCase,
		Directory:     directoryUseCase,
		Conversations: conversationUseCase,
		Notifications: notificationUseCase,
		Settings:      settings,
	}, limiter)

	e := echo.New()

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(apimiddleware.RateLimit(limiter))

	e.Validator = api.NewValidator()

	authMiddleware := apimiddleware.NewAuthMiddleware(b.identity)
	router.Setup(e, authMiddleware, wsHandler)

	go func() {
		log.Printf("Starting server on port %s (%s store)...", cfg.ServerPort, cfg.StoreDriver)
		if err := e.Start(":" + cfg.ServerPort); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}
	// The manager closed every WebSocket when ctx ended; wait for the
	// sessions to write their offline records before the store closes.
	if err := wsHandler.Drain(shutdownCtx); err != nil {
		log.Printf("WebSocket sessions did not drain: %v", err)
	}
}

// memoryBackend serves local development without a Firebase project.
// Tokens are "dev:<uid>".
func memoryBackend(cfg *config.Config) (*backend, error) {
	if cfg.Environment != "development" {
		return nil, fmt.Errorf("STORE_DRIVER=memory is only allowed when ENVIRONMENT=development")
	}
	log.Printf("Using in-memory store with development tokens")

	store := memory.NewStore()
	return &backend{
		chats:         store.Chats(),
		messages:      store.Messages(),
		presence:      store.Presence(),
		notifications: store.Notifications(),
		identity:      firebase.NewDevIdentityProvider(),
		close:         func() {},
	}, nil
}

func firestoreBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	var opt option.ClientOption
	if cfg.ServiceAccountJSON != "" {
		log.Printf("Using Firebase service account from environment variable")
		opt = option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON))
	} else {
		if cfg.ServiceAccountPath == "" {
			return nil, fmt.Errorf("FIREBASE_SERVICE_ACCOUNT_JSON or FIREBASE_SERVICE_ACCOUNT_PATH is required")
		}
		if _, err := os.Stat(cfg.ServiceAccountPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account file does not exist: %s", cfg.ServiceAccountPath)
		}
		log.Printf("Using Firebase service account from file: %s", cfg.ServiceAccountPath)
		opt = option.WithCredentialsFile(cfg.ServiceAccountPath)
	}

	firebaseApp, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.FirebaseProject}, opt)
	if err != nil {
		return nil, err
	}

	authClient, err := firebaseApp.Auth(ctx)
	if err != nil {
		return nil, err
	}

	firestoreClient, err := firestore.NewClient(ctx, cfg.FirebaseProject, opt)
	if err != nil {
		return nil, err
	}

	b := &backend{
		chats:         repository.NewFirestoreChatRepository(firestoreClient),
		messages:      repository.NewFirestoreMessageRepository(firestoreClient),
		presence:      repository.NewFirestorePresenceRepository(firestoreClient),
		notifications: repository.NewFirestoreNotificationRepository(firestoreClient),
		identity:      firebase.NewFirebaseAuthClient(authClient),
	}

	var storageClient *storage.CloudStorageClient
	if cfg.StorageBucket != "" {
		storageClient, err = storage.NewCloudStorageClient(ctx, cfg.StorageBucket, opt)
		if err != nil {
			firestoreClient.Close()
			return nil, err
		}
		b.files = storageClient
	} else {
		log.Printf("STORAGE_BUCKET not set, attachment uploads are disabled")
	}

	b.close = func() {
		if storageClient != nil {
			storageClient.Close()
		}
		firestoreClient.Close()
	}
	return b, nil
}
