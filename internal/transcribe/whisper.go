// Package transcribe turns call recordings into text through a
// Whisper-compatible transcription API.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrEmptyTranscript is returned when the service produced no text.
var ErrEmptyTranscript = errors.New("empty transcript")

// TranscriptSuffix is appended to an audio path to name its saved transcript.
const TranscriptSuffix = ".txt"

// Config holds the transcription endpoint settings.
type Config struct {
	BaseURL string // e.g. https://api.openai.com/v1 or a local whisper server
	Model   string
	APIKey  string

	HTTPClient *http.Client
}

// Whisper is a transcription client.
type Whisper struct {
	client *openai.Client
	model  string
	log    *slog.Logger
}

// New returns a client for cfg. An empty Model means whisper-1.
func New(cfg Config) *Whisper {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &Whisper{client: openai.NewClientWithConfig(oc), model: model, log: slog.Default()}
}

// Ping lists models to check the endpoint answers.
func (w *Whisper) Ping(ctx context.Context) error {
	if _, err := w.client.ListModels(ctx); err != nil {
		return fmt.Errorf("listing transcription models: %w", err)
	}
	return nil
}

// Transcribe returns the text spoken in the audio file at path.
func (w *Whisper) Transcribe(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("audio file: %w", err)
	}
	w.log.Info("transcribing", "file", filepath.Base(path), "model", w.model)
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: path,
	})
	if err != nil {
		return "", fmt.Errorf("transcribing %s: %w", filepath.Base(path), err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("transcribing %s: %w", filepath.Base(path), ErrEmptyTranscript)
	}
	return text, nil
}

// TranscriptPath is where the transcript of audioPath is saved.
func TranscriptPath(audioPath string) string {
	return audioPath + TranscriptSuffix
}

// TranscribeAndSave transcribes audioPath and writes the text next to it.
// An existing transcript is reused instead of calling the service again.
func (w *Whisper) TranscribeAndSave(ctx context.Context, audioPath string) (string, error) {
	out := TranscriptPath(audioPath)
	if data, err := os.ReadFile(out); err == nil && strings.TrimSpace(string(data)) != "" {
		w.log.Debug("reusing saved transcript", "file", out)
		return strings.TrimSpace(string(data)), nil
	}
	text, err := w.Transcribe(ctx, audioPath)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(out, []byte(text+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("saving transcript: %w", err)
	}
	return text, nil
}
