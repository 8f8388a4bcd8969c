package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/Aegis-Labs/aegis/core/pkg/alignment"
	"github.com/Aegis-Labs/aegis/core/pkg/api"
	"github.com/Aegis-Labs/aegis/core/pkg/approval"
	"github.com/Aegis-Labs/aegis/core/pkg/audit"
	"github.com/Aegis-Labs/aegis/core/pkg/auth"
	"github.com/Aegis-Labs/aegis/core/pkg/config"
	"github.com/Aegis-Labs/aegis/core/pkg/emergency"
	"github.com/Aegis-Labs/aegis/core/pkg/observability"
	"github.com/Aegis-Labs/aegis/core/pkg/orchestrator"
	"github.com/Aegis-Labs/aegis/core/pkg/ratelimit"
	"github.com/Aegis-Labs/aegis/core/pkg/signing"
)

const defaultListenAddr = ":8787"

func runServe(stdout, stderr io.Writer) int {
	cfg := config.Load()
	setupLogging(cfg.LogLevel, stderr)
	logger := slog.Default().With("component", "main")

	if dir := os.Getenv("PROFILES_DIR"); dir != "" {
		code := os.Getenv("PROFILE")
		if code == "" {
			code = "production"
		}
		profile, err := config.LoadProfile(dir, code)
		if err != nil {
			logger.Error("profile load failed", "profile", code, "error", err)
			return 1
		}
		profile.Apply(cfg)
		logger.Info("profile applied", "profile", profile.Name, "code", profile.Code)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observability.New(ctx, &observability.Config{
		ServiceName:    "aegis-safety-kernel",
		ServiceVersion: "1.0.0",
		Environment:    envOr("ENVIRONMENT", "development"),
		OTLPEndpoint:   os.Getenv("OTLP_ENDPOINT"),
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        os.Getenv("OTLP_ENDPOINT") != "",
		Insecure:       os.Getenv("OTLP_INSECURE") == "true",
	})
	if err != nil {
		logger.Error("observability init failed", "error", err)
		return 1
	}
	defer func() { _ = telemetry.Shutdown(context.Background()) }()

	sinks, cleanup, err := buildSinks(cfg)
	if err != nil {
		logger.Error("audit sink setup failed", "error", err)
		return 1
	}
	defer cleanup()

	auditLog := audit.NewLog(audit.WithSinks(sinks...))
	defer func() { _ = auditLog.Close() }()

	var dispatcher *alignment.Dispatcher
	if cfg.WebhookURL != "" {
		dispatcher = alignment.NewDispatcher(
			alignment.NewConsoleChannel(),
			alignment.NewWebhookChannel(cfg.WebhookURL, alignment.AlertWarning),
		)
	}

	var limiterStore ratelimit.Store
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		limiterStore = ratelimit.NewRedisStore(client, 0)
		defer func() { _ = client.Close() }()
	}
	limiter := ratelimit.NewLimiter(limiterStore, ratelimit.Config{
		Rate:  cfg.RateLimitPerSecond,
		Burst: cfg.RateLimitBurst,
	})

	stakeholders, err := stakeholderRoster(cfg)
	if err != nil {
		logger.Error("stakeholder roster invalid", "error", err)
		return 1
	}
	kernel, err := orchestrator.New(orchestrator.Options{
		Gate:         alignment.NewGate(nil, cfg.AlignmentThreshold, nil, dispatcher),
		Workflow:     approval.NewWorkflow(nil, cfg.TransferThreshold),
		Emergency:    emergency.NewController(cfg.PresenceInterval, nil),
		Audit:        auditLog,
		Limiter:      limiter,
		Telemetry:    telemetry,
		Quorum:       quorumFromConfig(cfg),
		Stakeholders: stakeholders,
	})
	if err != nil {
		logger.Error("kernel init failed", "error", err)
		return 1
	}

	if cfg.TokenSecret == "" {
		logger.Error("TOKEN_SECRET is required")
		return 1
	}
	tokens, err := auth.NewTokenService([]byte(cfg.TokenSecret), cfg.TokenIssuer, 0)
	if err != nil {
		logger.Error("token service init failed", "error", err)
		return 1
	}

	var keyring *signing.Keyring
	if master := os.Getenv("SIGNING_MASTER_SECRET"); master != "" {
		signer, err := signing.DeriveSigner([]byte(master), envOr("SIGNING_KEY_ID", "key-001"))
		if err != nil {
			logger.Error("signing key derivation failed", "error", err)
			return 1
		}
		keyring = signing.NewKeyring()
		keyring.Add(signer)
		logger.Info("audit export signing enabled", "key_id", signer.KeyID, "public_key", signer.PublicKeyHex())
	}

	ipLimiter := api.NewIPRateLimiter(cfg.RateLimitPerSecond, int(cfg.RateLimitBurst))
	defer ipLimiter.Close()

	addr := envOr("LISTEN_ADDR", defaultListenAddr)
	server := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(kernel, tokens, keyring).Handler(ipLimiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("kernel listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
			return 1
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			return 1
		}
	}
	return 0
}

// buildSinks assembles the configured audit sinks and a combined cleanup.
func buildSinks(cfg *config.Config) ([]audit.Sink, func(), error) {
	var sinks []audit.Sink
	var closers []func()
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.AuditJSONLPath != "" {
		sink, err := audit.NewJSONLSink(cfg.AuditJSONLPath)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("jsonl sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.AuditSQLitePath != "" {
		sink, err := audit.NewSQLiteSink(cfg.AuditSQLitePath)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("sqlite sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.AuditS3Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("aws config: %w", err)
		}
		sinks = append(sinks, audit.NewS3Sink(s3.NewFromConfig(awsCfg), cfg.AuditS3Bucket, cfg.AuditS3Prefix))
	}
	return sinks, cleanup, nil
}

// quorumFromConfig shapes the plain multi-sig quorum. An explicit approver
// list sets the total; otherwise the quorum accepts any authenticated
// approver identity.
func quorumFromConfig(cfg *config.Config) approval.Config {
	quorum := approval.Config{
		RequiredApprovals: cfg.RequiredApprovals,
		TotalApprovers:    cfg.RequiredApprovals + 1,
	}
	if len(cfg.Approvers) > 0 {
		quorum.Approvers = cfg.Approvers
		quorum.TotalApprovers = len(cfg.Approvers)
	}
	return quorum
}

// stakeholderRoster converts the configured stakeholder list into the fixed
// consensus roster. An empty list is allowed (consensus operations then fail
// at creation); a partial one is a deployment error.
func stakeholderRoster(cfg *config.Config) ([5]string, error) {
	var roster [5]string
	if len(cfg.Stakeholders) == 0 {
		return roster, nil
	}
	if len(cfg.Stakeholders) != len(roster) {
		return roster, fmt.Errorf("need exactly %d stakeholders, got %d", len(roster), len(cfg.Stakeholders))
	}
	copy(roster[:], cfg.Stakeholders)
	return roster, nil
}

func setupLogging(level string, w io.Writer) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
