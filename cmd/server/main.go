package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	deviceRepo "e2e_trust/internal/repository/device"
	userRepo "e2e_trust/internal/repository/user"
	redisSvc "e2e_trust/internal/service/redis"
	"e2e_trust/internal/service/server"
	"e2e_trust/internal/utils/log"
)

func main() {
	_ = godotenv.Load()

	mongoDBClient, err := initMongo(envOr("MONGO_URI", "mongodb://localhost:27017"))
	if err != nil {
		panic(err)
	}

	db := mongoDBClient.Database(envOr("MONGO_DB", "e2e_trust"))

	rdb := redis.NewClient(&redis.Options{
		Addr:     envOr("REDIS_ADDR", "localhost:6379"),
		Password: "",
		DB:       0,
	})

	redis := redisSvc.NewRedis(rdb)

	users := userRepo.NewUserRepo(db)
	devices := deviceRepo.NewDeviceRepo(db)

	addr := envOr("SERVER_ADDR", "localhost:9090")
	s := server.NewHttpServer(users, devices, redis)

	log.Info("homeserver listening", zap.String("addr", addr))
	if err := s.Run(addr); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
