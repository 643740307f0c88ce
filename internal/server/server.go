package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"anoa.com/threadforum/internal/config"
	"anoa.com/threadforum/internal/middleware"
	"anoa.com/threadforum/pkg/ratelimiter"

	adminHttp "anoa.com/threadforum/internal/modules/admin/delivery/http"
	adminService "anoa.com/threadforum/internal/modules/admin/service"

	contentHttp "anoa.com/threadforum/internal/modules/content/delivery/http"
	"anoa.com/threadforum/internal/modules/content/repository"
	contentService "anoa.com/threadforum/internal/modules/content/service"

	notiHttp "anoa.com/threadforum/internal/modules/notification/delivery/http"
	notifService "anoa.com/threadforum/internal/modules/notification/service"

	statHttp "anoa.com/threadforum/internal/modules/stat/delivery/http"
	statService "anoa.com/threadforum/internal/modules/stat/service"

	userHttp "anoa.com/threadforum/internal/modules/user/delivery/http"
	userRepo "anoa.com/threadforum/internal/modules/user/repository"
	userService "anoa.com/threadforum/internal/modules/user/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deps are the long-lived collaborators built by main.
type Deps struct {
	Config  *config.Config
	Logger  *zap.Logger
	Store   *repository.ContentStore
	Bus     *notifService.Bus
	Users   userRepo.UserRepository
	Revoker userService.Revoker
	// Redis is optional; without it posting is not rate limited.
	Redis *redis.Client
}

type Server struct {
	engine *gin.Engine
	auth   userService.AuthService
	logger *zap.Logger
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := d.Config

	authSvc := userService.NewAuthService(d.Users, d.Revoker, d.Bus, cfg.JWTSecret, cfg.JWTTTL, logger.Named("auth"))
	userHandler := userHttp.NewUserHandler(authSvc)

	contentSvc := contentService.NewService(d.Store, d.Users, d.Bus, logger.Named("engine"))
	contentHandler := contentHttp.NewContentHandler(contentSvc, d.Users)

	adminSvc := adminService.NewAdminService(d.Users, authSvc)
	adminHandler := adminHttp.NewAdminHandler(adminSvc)

	statSvc := statService.NewStatService(d.Users, d.Store, d.Bus)
	statHandler := statHttp.NewStatHandler(statSvc)

	notificationHandler := notiHttp.NewNotificationHandler(d.Bus, cfg.WSPingInterval, logger.Named("ws"))

	postLimit := ratelimiter.New(d.Redis, "post", cfg.RateLimitPost, logger)

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	setupCORS(router, cfg.AllowedOrigins)

	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/health", "/metrics"},
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := middleware.NewAuthMiddleware(authSvc, d.Users)

	api := router.Group("/api")

	// Public routes (no auth required)
	auth := api.Group("/auth")
	{
		auth.POST("/login", userHandler.Login)
	}

	// Protected routes (apply auth middleware explicitly)
	protected := api.Group("")
	protected.Use(authMiddleware.RequireAuth())
	{
		protected.GET("/auth/me", userHandler.Me)
		protected.POST("/auth/logout", userHandler.Logout)
		protected.PUT("/profile", userHandler.UpdateProfile)

		protected.GET("/forums", contentHandler.ListForums)
		protected.GET("/forums/:forum_id", contentHandler.GetForum)
		protected.POST("/forums/:forum_id/threads", contentHandler.CreateThread)

		protected.GET("/threads/:thread_id", contentHandler.GetThread)
		protected.POST("/threads/:thread_id/messages", postLimit.Middleware(), contentHandler.CreateMessage)

		protected.GET("/messages/:message_id", contentHandler.GetMessage)
		protected.POST("/messages/:message_id/replies", postLimit.Middleware(), contentHandler.CreateReply)
		protected.PATCH("/messages/:message_id", contentHandler.EditMessage)
		protected.DELETE("/messages/:message_id", contentHandler.DeleteMessage)
		protected.POST("/messages/:message_id/likes", contentHandler.LikeMessage)

		protected.GET("/ws", notificationHandler.HandleWebSocket)
		protected.GET("/stats", statHandler.GetStats)

		// Admin routes
		adminGroup := protected.Group("")
		adminGroup.Use(authMiddleware.RequireAdmin())
		{
			adminGroup.POST("/admin/users", adminHandler.CreateUser)
			adminGroup.POST("/forums", contentHandler.CreateForum)
			adminGroup.PATCH("/threads/:thread_id", contentHandler.UpdateThread)
			adminGroup.DELETE("/threads/:thread_id", contentHandler.DeleteThread)
		}
	}

	return &Server{
		engine: router,
		auth:   authSvc,
		logger: logger,
	}
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Auth() userService.AuthService {
	return s.auth
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func setupCORS(router *gin.Engine, allowedOrigins string) {
	var origins []string
	if allowedOrigins != "" {
		origins = strings.Split(allowedOrigins, ",")
	} else {
		origins = []string{"http://localhost:3000"}
	}

	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
}
