package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"ediforecast/internal/app"
	"ediforecast/internal/config"
	"ediforecast/internal/notify"
	"ediforecast/internal/ratelimit"
	"ediforecast/internal/security"
	"ediforecast/internal/server"
	"ediforecast/internal/session"
	"ediforecast/internal/util"
	"ediforecast/pkg/storage"
	"ediforecast/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	users, err := store.NewUserDirectory(cfg.UsersFile)
	if err != nil {
		log.Fatalf("failed to open user directory: %v", err)
	}

	var mirror storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init minio store: %v", err)
		}
		mirror = minioStore
	}
	forecasts, err := store.NewForecastStore(cfg.OutputDir, cfg.BackupDir, mirror)
	if err != nil {
		log.Fatalf("failed to open forecast store: %v", err)
	}

	mailer := notify.NewMailjetClient(notify.MailjetConfig{
		URL:         cfg.MailjetURL,
		APIKey:      cfg.MailjetAPIKey,
		APISecret:   cfg.MailjetAPISecret,
		SenderEmail: cfg.MailjetSenderEmail,
		SenderName:  cfg.MailjetSenderName,
	})
	notifier := notify.NewAppriseClient(notify.AppriseConfig{
		URL:       cfg.AppriseURL,
		Token:     cfg.AppriseToken,
		NtfyHost:  cfg.AppriseNtfyHost,
		NtfyTopic: cfg.AppriseNtfyTopic,
		NtfyToken: cfg.AppriseNtfyToken,
	})

	appCore, err := app.New(app.Config{
		Users:          users,
		Forecasts:      forecasts,
		Mailer:         mailer,
		Notifier:       notifier,
		AllowedDomains: cfg.AllowedDomains,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	sessions, err := session.NewManager(cfg.SessionSecret, sessionTTL)
	if err != nil {
		log.Fatalf("failed to init session manager: %v", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.LoginCodeRateLimitPerMinute > 0 {
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword,
			"ediforecast:ratelimit:logincode",
			cfg.LoginCodeRateLimitPerMinute, time.Minute,
		)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:              appCore,
		Sessions:         sessions,
		LoginCodeLimiter: limiter,
		Alerter:          security.NewAuditAlerter(cfg.RedisAddr, cfg.RedisPassword, ""),
		Notifier:         notifier,
		TrustedProxies:   trustedProxies,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
