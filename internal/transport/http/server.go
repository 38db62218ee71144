package http

import (
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	appsvc "staffchat/internal/app"
	"staffchat/internal/backend"
	"staffchat/internal/bootstrap"
	"staffchat/internal/cache"
	rabbitmqClient "staffchat/internal/platform/rabbitmq"
	"staffchat/internal/prompt"
	"staffchat/internal/rag"
	"staffchat/internal/repository"
	"staffchat/internal/summary"
	"staffchat/internal/transport/http/handler"
	"staffchat/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.Static("/images", app.Config.App.ImageDir)
	router.Static("/files", app.Config.App.FilesDir)
	router.GET("/healthz", healthHandler.Check)

	userRepo := repository.NewUserRepository(app.MySQL)
	chatRepo := repository.NewChatRepository(app.MySQL)
	exchangeRepo := repository.NewExchangeRepository(app.MySQL)
	documentRepo := repository.NewDocumentRepository(app.MySQL)
	indexRepo := repository.NewRAGIndexRepository(app.MySQL)
	threadRepo := repository.NewChatThreadRepository(app.MySQL)

	authService := appsvc.NewAuthService(
		userRepo,
		app.Config.Auth.JWTSecret,
		time.Duration(app.Config.Auth.JWTExpireMinute)*time.Minute,
	)

	client := backend.NewClient()
	normalizer := appsvc.NewNormalizer(client, app.Config.App.ImageDir, app.Config.App.FilesDir)
	completer := appsvc.NewBackendCompleter(client, app.Deployments, normalizer)

	qdrant := rag.NewQdrantClient(app.Config.Qdrant.URL, app.Config.Qdrant.APIKey)
	cleaner := rag.NewCleaner(indexRepo, qdrant, app.RAGQueue, app.Config.Qdrant.Collection)
	gate := prompt.NewOversizeGate(app.Config.Oversize.ReserveTokens, app.Config.Oversize.ExcerptTokens, app.Counter)

	documentService := appsvc.NewDocumentService(
		documentRepo,
		chatRepo,
		app.RAGQueue,
		app.StatusStore,
		cleaner,
		gate,
		app.Counter,
		app.Config.Qdrant.Collection,
		app.Config.RAG.InlineTokenMax,
		app.Config.Oversize.PreviewMaxBytes,
	)

	summaryService := summary.NewService(
		app.SummaryQueue,
		chatRepo,
		exchangeRepo,
		completer,
		app.Config.Azure.SummaryDeployment,
		app.Config.ChatSummary.MinExchanges,
		app.Config.ChatSummary.MaxTokens,
	)
	titleService := appsvc.NewTitleService(completer, chatRepo, app.Config.Azure.TitleDeployment)

	historyCache := cache.NewHistoryCache(
		app.Redis,
		time.Duration(app.Config.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(app.Config.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)
	events := rabbitmqClient.NewTurnEventPublisher(app.MQConn, app.Config.RabbitMQ.TurnEventQueue)

	chatService := appsvc.NewChatService(
		chatRepo,
		exchangeRepo,
		documentRepo,
		threadRepo,
		documentService,
		prompt.NewPlanner(rag.NewBridge(app.Config.RAG)),
		gate,
		client,
		normalizer,
		summaryService,
		titleService,
		historyCache,
		events,
		app.Deployments,
		app.Config.Azure.Default,
		app.Config.App.Name,
	)

	stopFlags, err := appsvc.NewStopFlags(filepath.Join(app.Config.RAGWorkspace().Root, "stopflags"))
	if err != nil {
		panic(err)
	}

	authHandler := handler.NewAuthHandler(authService)
	chatHandler := handler.NewChatHandler(chatService, stopFlags)
	documentHandler := handler.NewDocumentHandler(documentService)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", middleware.AuthJWT(app.Config.Auth.JWTSecret), authHandler.Me)

	chatGroup := v1.Group("/chats")
	chatGroup.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	chatGroup.POST("", chatHandler.CreateChat)
	chatGroup.GET("", chatHandler.ListChats)
	chatGroup.GET("/:id", chatHandler.GetChat)
	chatGroup.PATCH("/:id", chatHandler.UpdateChat)
	chatGroup.DELETE("/:id", chatHandler.DeleteChat)
	chatGroup.GET("/:id/history", chatHandler.GetHistory)
	chatGroup.POST("/:id/messages", chatHandler.SendTurn)
	chatGroup.POST("/:id/stream", chatHandler.StreamTurn)
	chatGroup.POST("/:id/stop", chatHandler.StopStream)

	chatGroup.POST("/:id/documents", documentHandler.Upload)
	chatGroup.POST("/:id/documents/paste", documentHandler.Paste)
	chatGroup.GET("/:id/documents", documentHandler.List)
	chatGroup.GET("/:id/documents/:doc_id/status", documentHandler.Status)
	chatGroup.PATCH("/:id/documents/:doc_id", documentHandler.Toggle)
	chatGroup.DELETE("/:id/documents/:doc_id", documentHandler.Delete)

	return router
}
