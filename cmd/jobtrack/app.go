package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/jobtrack/internal/config"
	"github.com/kalambet/jobtrack/internal/evidence"
	"github.com/kalambet/jobtrack/internal/mail"
	"github.com/kalambet/jobtrack/internal/pipeline"
	"github.com/kalambet/jobtrack/internal/remote"
	"github.com/kalambet/jobtrack/internal/storage"
	"github.com/kalambet/jobtrack/internal/transcribe"
)

var errGmailNotConfigured = errors.New("gmail is not configured; set gmail.credentials_file and gmail.token_file")

type transcriber interface {
	Ping(ctx context.Context) error
	TranscribeAndSave(ctx context.Context, audioPath string) (string, error)
}

type mailbox interface {
	Ping(ctx context.Context) error
	Fetch(ctx context.Context, id string) (*mail.Message, error)
	SearchCompany(ctx context.Context, company string) (*mail.Message, error)
}

// app is everything one command needs, opened from config.
type app struct {
	cfg     config.Config
	store   *storage.Store
	tracker *pipeline.Tracker
	notion  *remote.Notion // nil in local-only mode

	transcriber func() transcriber
	mailbox     func(ctx context.Context) (mailbox, error)
}

var loadConfig = func() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	setupLogging(cfg.Log.Level)
	return cfg, nil
}

var newApp = func(cfg config.Config) (*app, error) {
	return openApp(cfg, nil)
}

// openApp opens the store and builds the tracker. rem overrides the remote
// chosen from config.
func openApp(cfg config.Config, rem remote.Remote) (*app, error) {
	vocab, err := evidence.LoadVocabulary(cfg.Vocabulary.Path)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	a := &app{cfg: cfg, store: store}
	if rem == nil && cfg.Notion.Enabled() {
		a.notion = remote.NewNotion(cfg.Notion.Token, cfg.Notion.DatabaseID)
		rem = remote.WithRetry(a.notion, remote.RetryPolicy{
			MaxAttempts:     cfg.Sync.MaxAttempts,
			InitialInterval: cfg.Sync.InitialInterval,
			AttemptTimeout:  cfg.Sync.AttemptTimeout,
		}, slog.Default())
	}
	if rem == nil {
		slog.Debug("notion not configured, running local-only")
		a.tracker = pipeline.New(store, nil, evidence.NewExtractor(vocab))
	} else {
		a.tracker = pipeline.New(store, rem, evidence.NewExtractor(vocab))
	}

	a.transcriber = func() transcriber {
		return transcribe.New(transcribe.Config{
			BaseURL: cfg.Whisper.BaseURL,
			Model:   cfg.Whisper.Model,
			APIKey:  cfg.Whisper.APIKey,
		})
	}
	a.mailbox = func(ctx context.Context) (mailbox, error) {
		if !cfg.Gmail.Enabled() {
			return nil, errGmailNotConfigured
		}
		g, err := mail.NewGmailFromFiles(ctx, cfg.Gmail.CredentialsFile, cfg.Gmail.TokenFile, cfg.Gmail.User)
		if err != nil {
			return nil, err
		}
		return g, nil
	}
	return a, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

// withApp loads config, opens the app for the duration of fn and closes it.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func setupLogging(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}
