package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/richardliu001/treasury-service/internal/auth"
	"github.com/richardliu001/treasury-service/internal/config"
	"github.com/richardliu001/treasury-service/internal/logger"
	"github.com/richardliu001/treasury-service/internal/model"
	"github.com/richardliu001/treasury-service/internal/notify"
	"github.com/richardliu001/treasury-service/internal/proof"
	"github.com/richardliu001/treasury-service/internal/repo"
	"github.com/richardliu001/treasury-service/internal/scope"
	"github.com/richardliu001/treasury-service/internal/service"
	httptransport "github.com/richardliu001/treasury-service/internal/transport/http"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func configPath() string {
	if p := os.Getenv("TREASURY_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func main() {
	// 1. load config
	cfg, err := config.Load(configPath())
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true, TranslateError: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(model.All()...); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. kafka writer
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	defer kw.Close()

	// 6. proof storage
	var proofs service.ProofStore
	if cfg.S3.Bucket != "" {
		st, err := proof.NewStore(cfg.S3)
		if err != nil {
			log.Fatalf("s3: %v", err)
		}
		proofs = st
	} else {
		log.Warn("s3.bucket not set, proof upload disabled")
	}

	// 7. repo & service
	repository := repo.NewRepository(gdb, rdb, kw, log)
	svc := service.NewTransactionService(repository, repository, scope.NewDirectory(repository),
		notify.NewOutbox(repository), proofs, log)
	tokens := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, repository)

	// 8. gin router
	router := httptransport.NewRouter(svc, tokens, cfg.RateLimit, log)

	// 9. serve
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("treasury-server listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
