package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Log        LogConfig
	Notion     NotionConfig
	Gmail      GmailConfig
	Whisper    WhisperConfig
	Vocabulary VocabularyConfig
	Sync       SyncConfig
	FollowUp   FollowUpConfig
}

type ServerConfig struct {
	Port int `validate:"min=1,max=65535"`
}

type StorageConfig struct {
	DataDir string `validate:"required"`
}

type LogConfig struct {
	Level string `validate:"oneof=debug info warn error"`
}

// NotionConfig selects the workspace database. Both fields empty means
// local-only mode.
type NotionConfig struct {
	DatabaseID string `validate:"required_with=Token"`
	Token      string `validate:"required_with=DatabaseID"`
}

// Enabled reports whether a Notion workspace is configured.
func (n NotionConfig) Enabled() bool {
	return n.DatabaseID != "" && n.Token != ""
}

type GmailConfig struct {
	CredentialsFile string
	TokenFile       string
	User            string
}

// Enabled reports whether Gmail credentials are configured.
func (g GmailConfig) Enabled() bool {
	return g.CredentialsFile != "" && g.TokenFile != ""
}

type WhisperConfig struct {
	BaseURL string `validate:"omitempty,url"`
	Model   string
	APIKey  string
}

type VocabularyConfig struct {
	Path string
}

type SyncConfig struct {
	MaxAttempts     int           `validate:"min=1,max=20"`
	InitialInterval time.Duration
	AttemptTimeout  time.Duration
	// BackgroundInterval is how often `serve` pushes pending records.
	// Zero disables the background sync.
	BackgroundInterval time.Duration
}

type FollowUpConfig struct {
	AfterDays int `validate:"min=1"`
}

// After returns the follow-up threshold as a duration.
func (f FollowUpConfig) After() time.Duration {
	return time.Duration(f.AfterDays) * 24 * time.Hour
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4100},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Log:     LogConfig{Level: "info"},
		Whisper: WhisperConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "whisper-1",
		},
		Gmail: GmailConfig{User: "me"},
		Sync: SyncConfig{
			MaxAttempts:     4,
			InitialInterval: 500 * time.Millisecond,
			AttemptTimeout:  20 * time.Second,

			BackgroundInterval: 5 * time.Minute,
		},
		FollowUp: FollowUpConfig{AfterDays: 7},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.jobtrack.app) and
// secrets fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/jobtrack/config.json
// and secrets fall back to $XDG_DATA_HOME/jobtrack/secrets.json.
//
// Environment variables (JOBTRACK_*) override backend values on all platforms.
// A .env file in the working directory is read first; variables already set
// in the environment win over it.
func Load() (Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	return loadWith(newPlatformBackend(), NewKeychain())
}

// LoadDotEnv exports the variables in the given files. Missing files are
// skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	applySecrets(&cfg, kc)

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and that Notion settings come in pairs.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	if c.Notion.DatabaseID != "" && c.Notion.Token == "" {
		msgs = append(msgs, "set the Notion token via "+envFor("notion.token")+apiKeyHint("notion_token"))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func envFor(key string) string {
	s, _ := findSpec(key)
	return s.env
}
