package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"analytics-workspace/handler"
	"analytics-workspace/internal/integrations/paramstore"
	"analytics-workspace/internal/integrations/platform"
	"analytics-workspace/internal/repository"
	"analytics-workspace/internal/usecase"
)

const apiTokenParam = "api-token"

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	apiURL := os.Getenv("ANALYTICS_API_URL")
	apiKey := os.Getenv("ANALYTICS_API_KEY")
	maxTurns := envInt("SESSION_MAX_TURNS", 50)
	maxQueryLen := envInt("MAX_QUERY_LENGTH", 2000)
	httpTimeout := envDuration("HTTP_TIMEOUT", 300*time.Second)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: envLevel("LOG_LEVEL")}))
	slog.SetDefault(logger)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	var keys platform.KeySource = platform.StaticKey(apiKey)
	if strings.TrimSpace(apiKey) == "" {
		paramPrefix := mustEnv("PARAM_PREFIX")
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg), paramstore.WithPrefix(paramPrefix))
		if err != nil {
			slog.Error("failed to create SSM client", "err", err)
			os.Exit(1)
		}
		keys, err = platform.NewParamStoreKey(ssmClient, apiTokenParam)
		if err != nil {
			slog.Error("failed to create API key source", "err", err)
			os.Exit(1)
		}
	}

	opts := []platform.Option{platform.WithHTTPClient(&http.Client{Timeout: httpTimeout})}
	if apiURL != "" {
		opts = append(opts, platform.WithBaseURL(apiURL))
	}
	platformClient, err := platform.NewClient(keys, opts...)
	if err != nil {
		slog.Error("failed to create analytics client", "err", err)
		os.Exit(1)
	}

	stateClient, err := repository.New(awsdynamodb.NewFromConfig(cfg), stateTable)
	if err != nil {
		slog.Error("failed to create state client", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	opener, err := usecase.NewWorkspaceOpener(platformClient, logger)
	if err != nil {
		slog.Error("failed to create workspace opener", "err", err)
		os.Exit(1)
	}
	chatService, err := usecase.NewChatService(opener, stateClient, maxTurns, maxQueryLen)
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}
	pushService, err := usecase.NewPushService(opener)
	if err != nil {
		slog.Error("failed to create push service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(chatService, pushService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envLevel(key string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv(key))); err != nil {
		return slog.LevelInfo
	}
	return level
}
