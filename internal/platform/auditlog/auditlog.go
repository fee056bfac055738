// Package auditlog records every language-model call made while answering a
// search, to the console and to daily JSON Lines files.
package auditlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Result is a database row as it was shown to the model.
type Result struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Rank        int    `json:"rank"`
}

// Record is one language-model call.
type Record struct {
	ID               string        `json:"id"`
	Timestamp        time.Time     `json:"timestamp"`
	Environment      string        `json:"environment"`
	Query            string        `json:"query"`
	SQLResultCount   int           `json:"sqlResultCount"`
	SQLResults       []Result      `json:"sqlResults"`
	SystemPrompt     string        `json:"systemPrompt"`
	UserPrompt       string        `json:"userPrompt"`
	ResponseText     string        `json:"gptResponseJson"`
	Error            string        `json:"error,omitempty"`
	DeploymentName   string        `json:"deploymentName"`
	APIVersion       string        `json:"apiVersion"`
	Temperature      float64       `json:"temperature"`
	ResponseTime     time.Duration `json:"-"`
	ResponseTimeMS   int64         `json:"responseTimeMs"`
	PromptTokens     int           `json:"promptTokens"`
	CompletionTokens int           `json:"completionTokens"`
	TotalTokens      int           `json:"totalTokens"`
	SuggestionCount  int           `json:"suggestionCount"`
}

// Recorder persists audit records.
type Recorder interface {
	Record(rec Record) error
}

// RecorderFunc is a function adapter for Recorder.
type RecorderFunc func(rec Record) error

func (f RecorderFunc) Record(rec Record) error {
	return f(rec)
}

// Options configures a Logger.
type Options struct {
	Console     bool
	File        bool
	Dir         string
	Environment string
}

// Logger writes records to a zerolog logger and, when enabled, appends them
// to gpt-log-YYYYMMDD.jsonl under Dir. Safe for concurrent use.
type Logger struct {
	opts    Options
	console zerolog.Logger
	now     func() time.Time

	mu sync.Mutex
}

// New creates a Logger. The log directory is created when file logging is on.
func New(console zerolog.Logger, opts Options) (*Logger, error) {
	if opts.File {
		if opts.Dir == "" {
			opts.Dir = "logs"
		}
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit log dir: %w", err)
		}
	}
	return &Logger{
		opts:    opts,
		console: console.With().Str("component", "ai-audit").Logger(),
		now:     time.Now,
	}, nil
}

// FileName returns the file a record stamped at t is appended to.
func (l *Logger) FileName(t time.Time) string {
	return filepath.Join(l.opts.Dir, "gpt-log-"+t.UTC().Format("20060102")+".jsonl")
}

// Record fills in the ID, timestamp, and environment when unset and writes rec.
func (l *Logger) Record(rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now().UTC()
	}
	if rec.Environment == "" {
		rec.Environment = l.opts.Environment
	}
	rec.ResponseTimeMS = rec.ResponseTime.Milliseconds()

	if l.opts.Console {
		ev := l.console.Info()
		if rec.Error != "" {
			ev = l.console.Warn().Str("error", rec.Error)
		}
		ev.Str("audit_id", rec.ID).
			Str("query", rec.Query).
			Int("sql_result_count", rec.SQLResultCount).
			Int("suggestions", rec.SuggestionCount).
			Str("deployment", rec.DeploymentName).
			Str("api_version", rec.APIVersion).
			Float64("temperature", rec.Temperature).
			Int64("response_ms", rec.ResponseTimeMS).
			Int("prompt_tokens", rec.PromptTokens).
			Int("completion_tokens", rec.CompletionTokens).
			Int("total_tokens", rec.TotalTokens).
			Msg("ai call")
	}

	if !l.opts.File {
		return nil
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.FileName(rec.Timestamp), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("write audit log: %w", err)
	}
	return f.Close()
}
