// Package main 是服务端的入口点
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"career-coach/internal/cache"
	"career-coach/internal/config"
	"career-coach/internal/database"
	"career-coach/internal/handler"
	"career-coach/internal/middleware"
	"career-coach/internal/repository"
	"career-coach/internal/service"
	"career-coach/internal/websocket"
	"career-coach/pkg/jwt"
	"career-coach/pkg/logger"
)

// cacheBackend Redis 缓存或 NopCache
type cacheBackend interface {
	service.ConversationCache
	service.StreamLocker
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 加载配置
	cfg, err := config.Load("./configs")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	// 初始化数据库
	db, err := database.Open(cfg.Database, cfg.Server.Mode)
	if err != nil {
		return err
	}
	log.Info("database connected", zap.String("driver", cfg.Database.Driver))

	// 自动迁移数据库表
	if err := database.AutoMigrate(db); err != nil {
		return err
	}

	// 初始化 Redis，未启用时使用不缓存的实现
	var (
		backend    cacheBackend = cache.NewNopCache()
		broker     websocket.Broker
		redisCache *cache.RedisCache
	)
	if cfg.Redis.Enabled {
		redisCache, err = cache.NewRedisCache(cfg.Redis)
		if err != nil {
			return err
		}
		defer func() {
			if err := redisCache.Close(); err != nil {
				log.Warn("close redis", zap.Error(err))
			}
		}()
		backend, broker = redisCache, redisCache
		log.Info("redis connected", zap.String("addr", cfg.Redis.Addr()))
	} else {
		log.Info("redis disabled, caching and cross-instance events are off")
	}

	// 初始化 JWT 服务
	jwtService := jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.AccessExpire)

	// 初始化 Repository 层
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	// 初始化 Service 层
	conversationService := service.NewConversationService(conversationRepo, messageRepo, backend, log.Named("conversation"))
	completionService := service.NewCompletionService(cfg.AI, backend, conversationService, log.Named("completion"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化 WebSocket Hub
	hub := websocket.NewHub(broker, log.Named("events"))
	go hub.Run(ctx)
	conversationService.SetNotifier(hub)

	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handler.NewRouter(handler.RouterDeps{
		JWT:           jwtService,
		Conversations: handler.NewConversationHandler(conversationService, log),
		Chat:          handler.NewChatHandler(completionService, log),
		Events:        websocket.NewHandler(hub, jwtService, log),
		CORS:          middleware.DefaultCORSConfig(cfg.Server.CORS...),
		Log:           log,
	})

	// 创建 HTTP 服务器
	// 流式补全可能持续数分钟，不设置 WriteTimeout
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	// 优雅关闭
	select {
	case <-ctx.Done():
	case err := <-errc:
		return fmt.Errorf("listen: %w", err)
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server exited")
	return nil
}
