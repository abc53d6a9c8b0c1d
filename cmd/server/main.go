package main // Entry point package

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/buildhub/buildhub/internal/chat"
	"github.com/buildhub/buildhub/internal/config"
	"github.com/buildhub/buildhub/internal/database"
	"github.com/buildhub/buildhub/internal/handler"
	"github.com/buildhub/buildhub/internal/middleware"
	"github.com/buildhub/buildhub/internal/presence"
	"github.com/buildhub/buildhub/internal/queue"
	"github.com/buildhub/buildhub/internal/repository"
	"github.com/buildhub/buildhub/internal/router"
	queue_publisher "github.com/buildhub/buildhub/internal/service"
	"github.com/buildhub/buildhub/pkg/apperr"
)

func main() {
	// Load .env when present; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Fatal("redis unreachable; the presence tracker requires it")
	}

	users := repository.NewUserRepo(db)
	accounts := repository.NewAccountRepo(db)
	channels := repository.NewChannelRepo(db)
	messages := repository.NewMessageRepo(db)

	tracker := presence.NewTracker(rdb)
	publisher := queue_publisher.NewPublisher(cfg.AMQPURL)
	chatSvc := chat.NewService(messages, channels, publisher)
	hub := chat.NewHub()
	gateway := chat.NewGateway(hub, tracker, chatSvc, cfg.AccessSecret)

	authHandler := handler.NewAuthHandler(cfg, users, accounts)
	chatHandler := handler.NewChatHandler(chatSvc, tracker)
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)

	// Delivery-log consumer for chat.message.created events.
	go func() {
		if err := queue.StartMessageConsumer(cfg.AMQPURL); err != nil {
			log.Printf("chat-consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler
	router.RegisterRoutes(e)
	router.RegisterAuth(e, authHandler, limiter, cfg.AccessSecret)
	router.RegisterChat(e, gateway, chatHandler, cfg.AccessSecret)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)

	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
