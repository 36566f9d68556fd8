package http

import (
	"time"

	"github.com/gin-gonic/gin"

	appsvc "studyrag/internal/app"
	"studyrag/internal/bootstrap"
	"studyrag/internal/transport/http/handler"
	"studyrag/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	guard := appsvc.NewGuard(app.Users, app.Config.Auth.JWTSecret)
	authService := appsvc.NewAuthService(
		app.Users,
		app.RefreshTokens,
		app.Config.Auth.JWTSecret,
		time.Duration(app.Config.Auth.AccessExpireMinute)*time.Minute,
		time.Duration(app.Config.Auth.RefreshExpireDay)*24*time.Hour,
	)
	ragService := appsvc.NewRAGService(
		guard,
		app.LLMClient,
		app.VectorStore,
		app.LLMClient,
		app.AuditPublisher,
		appsvc.RAGConfig{
			ChunkSize:    app.Config.RAG.ChunkSize,
			ChunkOverlap: app.Config.RAG.ChunkOverlap,
			TopK:         app.Config.Vector.TopK,
		},
	)

	authHandler := handler.NewAuthHandler(authService, guard)
	ragHandler := handler.NewRAGHandler(ragService)
	chatHandler := handler.NewChatHandler(ragService)
	healthHandler := handler.NewHealthHandler(app)

	router.GET("/", healthHandler.Root)
	router.GET("/healthz", healthHandler.Check)

	requireAuth := middleware.Auth(guard)

	authGroup := router.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.POST("/token", authHandler.Token)
	authGroup.POST("/refresh", authHandler.Refresh)
	authGroup.GET("/me", requireAuth, authHandler.Me)
	authGroup.POST("/logout", requireAuth, authHandler.Logout)
	authGroup.POST("/logout-all", requireAuth, authHandler.LogoutAll)
	authGroup.GET("/users", requireAuth, authHandler.ListUsers)
	authGroup.GET("/users/:id", requireAuth, authHandler.GetUser)

	v1 := router.Group("/v1")
	v1.HEAD("/keep-alive", healthHandler.KeepAlive)
	v1.POST("/ingest", requireAuth, ragHandler.Ingest)
	v1.POST("/ingest-pdf", requireAuth, ragHandler.IngestPDF)
	v1.POST("/question", requireAuth, ragHandler.Question)
	v1.POST("/delete-document", requireAuth, ragHandler.DeleteDocument)
	v1.POST("/chat/completions", requireAuth, chatHandler.Completions)
	v1.POST("/chat/streaming-completions", requireAuth, chatHandler.StreamingCompletions)

	return router
}
