package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"e2e_trust/internal/keystore"
	"e2e_trust/internal/service/app"
	redisSvc "e2e_trust/internal/service/redis"
	"e2e_trust/internal/service/trust"
	"e2e_trust/internal/utils/log"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 4 {
		log.Fatal("usage: client <userID> <deviceID> <password>")
	}
	userID, deviceID, password := os.Args[1], os.Args[2], os.Args[3]

	keystoreDir := envOr("KEYSTORE_DIR", defaultKeystoreDir())

	identity, err := app.LoadOrCreateDeviceIdentity(keystoreDir, userID, deviceID)
	if err != nil {
		log.Fatal("load device identity failed", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     envOr("REDIS_ADDR", "localhost:6379"),
		Password: "",
		DB:       0,
	})
	redis := redisSvc.NewRedis(rdb)

	client := app.NewClient(envOr("SERVER_ADDR", "localhost:9090"))
	directory := app.NewDirectory(client, redis, userID)

	a := app.NewApp(client, directory, identity)

	// With a passphrase in the environment keys resolve synchronously;
	// otherwise every retrieval goes through the TUI prompt.
	var keys trust.KeysStorage
	if passphrase := os.Getenv("KEYSTORE_PASSPHRASE"); passphrase != "" {
		keys = keystore.NewFileStore(keystoreDir, passphrase)
	} else {
		keys = keystore.NewInteractiveStore(keystoreDir, a)
	}

	a.SetTrustService(trust.NewService(userID, deviceID, keys, client, directory))

	ctx := context.Background()
	a.Run(ctx, password)
	a.Stop()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultKeystoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".e2e_trust"
	}
	return filepath.Join(home, ".e2e_trust")
}
