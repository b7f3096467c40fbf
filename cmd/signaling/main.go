package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/studyroom-signaling/config"
	"github.com/mossy-p/studyroom-signaling/internal/auth"
	"github.com/mossy-p/studyroom-signaling/internal/handlers"
	"github.com/mossy-p/studyroom-signaling/internal/hub"
	"github.com/mossy-p/studyroom-signaling/internal/redis"
	"github.com/mossy-p/studyroom-signaling/internal/rooms"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	rdb, err := redis.Connect(context.Background(), cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()
	logger.Info("redis connection established", slog.String("host", cfg.Redis.Host))

	store := rooms.NewRedisStore(rdb)
	h := hub.New(store, logger)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/login", handlers.Login(cfg.JWTSecret, store))
		apiGroup.POST("/rooms", auth.JWTAuth(cfg.JWTSecret), handlers.CreateRoom(store))
		apiGroup.GET("/rooms/:roomId", handlers.GetRoom(store))
		apiGroup.DELETE("/rooms/:roomId", auth.JWTAuth(cfg.JWTSecret), handlers.DeleteRoom(store))
	}

	router.GET("/ws", handlers.HandleSignaling(h, cfg.JWTSecret, logger))

	logger.Info("starting signaling server", slog.String("port", cfg.Port))
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
