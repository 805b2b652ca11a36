package main

import (
	"context"
	"log"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/civicid/backend/internal/config"
	"github.com/civicid/backend/internal/db"
	"github.com/civicid/backend/internal/handler"
	"github.com/civicid/backend/internal/observability"
	"github.com/civicid/backend/internal/service"
	"github.com/civicid/backend/internal/session"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := observability.NewLogger()

	if err := observability.InitSentry(cfg.Sentry.DSN, cfg.Sentry.Environment); err != nil {
		logger.Warn("sentry initialization failed", map[string]any{"error": err.Error()})
	}
	defer observability.FlushSentry()

	ctx := context.Background()

	pool, err := db.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("postgres connection failed: %v", err)
	}
	defer pool.Close()

	database := db.NewPostgres(pool)
	if err := database.EnsureSchema(ctx); err != nil {
		log.Fatalf("schema setup failed: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	sessions := session.NewStore(redisClient, cfg.Session.TTL)

	floodSvc := service.NewFloodService(database, cfg.Flood, logger)
	credentialsSvc := service.NewCredentialsService(database, floodSvc, logger)
	totpSvc := service.NewTOTPService(database, floodSvc, cfg.TOTP, logger)
	tokenSvc, err := service.NewTokenService(database, cfg.Auth, cfg.App.BaseURL, logger)
	if err != nil {
		log.Fatalf("token service setup failed: %v", err)
	}
	oauthSvc := service.NewOAuthService(database, tokenSvc, sessions, cfg.OAuth, cfg.Auth.AccessTTL, logger)
	accountSvc := service.NewAccountService(database, logger)

	authHandler := handler.NewAuthHandler(
		credentialsSvc, totpSvc, tokenSvc, accountSvc, database,
		sessions, cfg.Session, cfg.TOTP, cfg.Auth, cfg.App.BaseURL, logger,
	)
	oauthHandler := handler.NewOAuthHandler(oauthSvc, tokenSvc, sessions, cfg.Session, cfg.App.BaseURL)

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(observability.Recovery(logger))
	if cfg.App.CORSOrigins != "" {
		router.Use(handler.CORSMiddleware(strings.Split(cfg.App.CORSOrigins, ",")))
	}

	authed := handler.AuthMiddleware(tokenSvc, database)

	router.GET("/", handler.Root)
	router.GET("/ping", handler.Ping)

	router.POST("/login", authHandler.Login)
	router.GET("/logout", authHandler.Logout)
	router.POST("/register", authHandler.Register)
	router.GET("/verify", authHandler.Verify)
	router.POST("/verify", authHandler.Verify)

	router.POST("/jsonwebtoken", authHandler.CreateToken)
	router.GET("/jsonwebtoken", authed, authHandler.ListTokens)
	router.DELETE("/jsonwebtoken", authed, authHandler.RevokeToken)
	router.POST("/admintoken", authed, authHandler.AdminToken)
	router.POST("/signrequest", authed, authHandler.SignURL)

	router.GET("/oauth/authorize", oauthHandler.Authorize)
	router.POST("/oauth/authorize", oauthHandler.Decision)
	router.POST("/oauth/access_token", oauthHandler.AccessToken)
	router.GET("/oauth/jwks", oauthHandler.JWKS)
	router.GET("/.well-known/openid-configuration", oauthHandler.OpenIDConfiguration)
	router.GET("/account.json", authed, oauthHandler.UserInfo)

	logger.Info("server starting", map[string]any{"port": cfg.App.Port, "env": cfg.App.Environment})
	if err := router.Run(":" + cfg.App.Port); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
