package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"concord-backend/internal/database"
	"concord-backend/internal/handlers"
	"concord-backend/internal/hub"
	"concord-backend/internal/jwt"
	"concord-backend/internal/keyValue"
	"concord-backend/internal/models"
	"concord-backend/internal/snowflake"
	"concord-backend/internal/uploads"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func setupLogger(cfg *models.ConfigFile) (*zap.SugaredLogger, error) {
	config := zap.NewProductionConfig()

	if cfg.LogToFile {
		config.OutputPaths = []string{"app.log", "stdout"}
	} else {
		config.OutputPaths = []string{"stdout"}
	}

	var level zapcore.Level
	if err := level.Set(cfg.LogLevel); err != nil {
		level = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(level)

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return logger.Sugar(), nil
}

func readConfigFile() (*models.ConfigFile, error) {
	configFile, err := os.Open("config.json")
	if err != nil {
		return nil, err
	}
	defer configFile.Close()

	var cfg models.ConfigFile
	if err := json.NewDecoder(configFile).Decode(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setupRedis(cfg *models.ConfigFile) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return rdb, nil
}

func main() {
	fmt.Println("Reading config file...")
	cfg, err := readConfigFile()
	if err != nil {
		fmt.Println(err)
		return
	}

	fmt.Println("Setting up logger...")
	sugar, err := setupLogger(cfg)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer sugar.Sync()

	db, err := database.Setup(cfg)
	if err != nil {
		sugar.Fatal(err)
	}

	// self-contained mode swaps redis for an in-process map, nothing to dial
	var redisClient *redis.Client
	if !cfg.SelfContained {
		fmt.Println("Connecting to redis...")
		redisClient, err = setupRedis(cfg)
		if err != nil {
			sugar.Fatal(err)
		}
	}
	kv := keyValue.New(sugar, redisClient, cfg.SelfContained)

	if err := snowflake.Setup(cfg.SnowflakeWorkerID); err != nil {
		sugar.Fatal(err)
	}

	messageHub := hub.New(sugar)
	uploadStore := uploads.New("./public/attachments")

	isHttps := cfg.TlsCert != "" && cfg.TlsKey != ""
	tokens := jwt.New(cfg.JwtSecret, cfg.IdentitySecret, isHttps)

	handler := handlers.New(sugar, db, messageHub, kv, tokens, uploadStore)

	var httpProtocol string
	if isHttps {
		httpProtocol = "https"
	} else {
		httpProtocol = "http"
	}
	fmt.Printf("Server is running on %s://%s:%s\n", httpProtocol, cfg.Address, cfg.Port)

	if err := handler.Setup(isHttps, cfg); err != nil {
		sugar.Fatal(err)
	}
}
