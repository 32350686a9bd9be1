package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"wallcharge/internal/log"
	"wallcharge/internal/server"
	"wallcharge/pkg/auth"
	"wallcharge/pkg/config"
	"wallcharge/pkg/history"
	"wallcharge/pkg/session"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}
	if err := cfg.ResolveSecret(); err != nil {
		return nil, err
	}
	if cli.Debug {
		log.SetLevel(log.LevelDebug)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(cfg.LogLevel)); err != nil {
		level = zapcore.InfoLevel
	}
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	return zapConfig.Build()
}

func newAuthClient(cfg *config.Config) *auth.Client {
	return &auth.Client{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		Audience:     cfg.OAuth.Audience,
		RedirectBase: cfg.PublicURL,
	}
}

// appStore holds application-level state such as the partner token,
// alongside (not inside) the per-user session directories.
func appStore(cfg *config.Config) *session.FileStore {
	return &session.FileStore{Path: filepath.Join(cfg.SessionsDir, "state.ini")}
}

type serveCmd struct{}

func (c *serveCmd) Run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	authClient := newAuthClient(cfg)
	sessions := &session.Manager{Root: cfg.SessionsDir}
	cache := &history.Cache{Tokens: authClient}

	srv := server.New(sessions, authClient, cache, logger)
	srv.PublicKeyFile = cfg.PublicKeyFile

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx, cfg.Listen)
}

type registerCmd struct{}

func (c *registerCmd) Run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Domain == "" {
		return fmt.Errorf("domain is required for partner registration")
	}

	ctx := context.Background()
	store := appStore(cfg)
	authClient := newAuthClient(cfg)

	partnerToken, err := authClient.PartnerToken(ctx, store)
	if err != nil {
		return fmt.Errorf("failed to obtain partner token: %w", err)
	}
	client, err := newFleetClient(partnerToken)
	if err != nil {
		return err
	}
	response, err := client.RegisterPartnerAccount(ctx, cfg.Domain)
	if err != nil {
		return fmt.Errorf("partner registration failed: %w", err)
	}
	if err := store.Set("General", "PartnerData", string(response)); err != nil {
		return err
	}
	fmt.Printf("Registered partner account for %s\n", cfg.Domain)
	return nil
}

type secretCmd struct {
	Name string `arg:"" help:"Credential store entry name."`
}

func (c *secretCmd) Run() error {
	fmt.Fprint(os.Stderr, "Client secret: ")
	secret, err := readSecret()
	if err != nil {
		return err
	}
	if err := config.StoreSecret(c.Name, secret); err != nil {
		return err
	}
	fmt.Printf("Stored client secret under %q\n", c.Name)
	return nil
}
