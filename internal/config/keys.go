package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	account string // keychain account for secrets
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "JOBTRACK_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "JOBTRACK_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "JOBTRACK_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "notion.database_id", typ: kString, env: "JOBTRACK_NOTION_DATABASE_ID",
		apply:   func(cfg *Config, v any) { cfg.Notion.DatabaseID = v.(string) },
		extract: func(cfg Config) any { return cfg.Notion.DatabaseID },
	},
	{
		key: "notion.token", typ: kString, env: "JOBTRACK_NOTION_TOKEN",
		secret: true, account: "notion_token",
		apply:   func(cfg *Config, v any) { cfg.Notion.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Notion.Token },
	},
	{
		key: "gmail.credentials_file", typ: kString, env: "JOBTRACK_GMAIL_CREDENTIALS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Gmail.CredentialsFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Gmail.CredentialsFile },
	},
	{
		key: "gmail.token_file", typ: kString, env: "JOBTRACK_GMAIL_TOKEN_FILE",
		apply:   func(cfg *Config, v any) { cfg.Gmail.TokenFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Gmail.TokenFile },
	},
	{
		key: "gmail.user", typ: kString, env: "JOBTRACK_GMAIL_USER",
		apply:   func(cfg *Config, v any) { cfg.Gmail.User = v.(string) },
		extract: func(cfg Config) any { return cfg.Gmail.User },
	},
	{
		key: "whisper.base_url", typ: kString, env: "JOBTRACK_WHISPER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Whisper.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Whisper.BaseURL },
	},
	{
		key: "whisper.model", typ: kString, env: "JOBTRACK_WHISPER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Whisper.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Whisper.Model },
	},
	{
		key: "whisper.api_key", typ: kString, env: "JOBTRACK_WHISPER_API_KEY",
		secret: true, account: "whisper_api_key",
		apply:   func(cfg *Config, v any) { cfg.Whisper.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Whisper.APIKey },
	},
	{
		key: "vocabulary.path", typ: kString, env: "JOBTRACK_VOCABULARY_PATH",
		apply:   func(cfg *Config, v any) { cfg.Vocabulary.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Vocabulary.Path },
	},
	{
		key: "sync.max_attempts", typ: kInt, env: "JOBTRACK_SYNC_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Sync.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Sync.MaxAttempts },
	},
	{
		key: "sync.initial_interval", typ: kDuration, env: "JOBTRACK_SYNC_INITIAL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Sync.InitialInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Sync.InitialInterval },
	},
	{
		key: "sync.attempt_timeout", typ: kDuration, env: "JOBTRACK_SYNC_ATTEMPT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Sync.AttemptTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Sync.AttemptTimeout },
	},
	{
		key: "sync.background_interval", typ: kDuration, env: "JOBTRACK_SYNC_BACKGROUND_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Sync.BackgroundInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Sync.BackgroundInterval },
	},
	{
		key: "followup.after_days", typ: kInt, env: "JOBTRACK_FOLLOWUP_AFTER_DAYS",
		apply:   func(cfg *Config, v any) { cfg.FollowUp.AfterDays = v.(int) },
		extract: func(cfg Config) any { return cfg.FollowUp.AfterDays },
	},
}

func findSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					return fmt.Errorf("reading %s: %w", s.key, err)
				}
				s.apply(cfg, d)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

// applySecrets fills secrets still empty after env overrides from the
// platform secret store.
func applySecrets(cfg *Config, kc Keychain) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg).(string) != "" {
			continue
		}
		if v, err := kc.Get(keychainService, s.account); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
