// Package notify delivers swap outcomes to the user: persistent
// notifications and short-lived flash messages.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const DefaultIcon = "./assets/images/icon-128.png"

type Variant string

const (
	VariantSuccess Variant = "success"
	VariantError   Variant = "error"
)

type Notification struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Icon    string    `json:"icon"`
	Time    time.Time `json:"time"`
}

type Flash struct {
	ID      string  `json:"id"`
	Text    string  `json:"text"`
	Variant Variant `json:"variant"`
}

type Dispatcher interface {
	Notify(ctx context.Context, n Notification) error
	Flash(ctx context.Context, f Flash) error
}

// Nop drops everything.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }
func (Nop) Flash(context.Context, Flash) error         { return nil }

// Logger writes notifications to a structured log.
type Logger struct {
	logger *slog.Logger
}

func NewLogger(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger}
}

func (l *Logger) Notify(ctx context.Context, n Notification) error {
	l.logger.InfoContext(ctx, "notification", "id", n.ID, "title", n.Title, "message", n.Message)
	return nil
}

func (l *Logger) Flash(ctx context.Context, f Flash) error {
	level := slog.LevelInfo
	if f.Variant == VariantError {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "flash", "id", f.ID, "text", f.Text, "variant", string(f.Variant))
	return nil
}

// JSONL appends one JSON record per delivery to a file.
type JSONL struct {
	mu   sync.Mutex
	path string
}

type jsonlRecord struct {
	Kind         string        `json:"kind"`
	Notification *Notification `json:"notification,omitempty"`
	Flash        *Flash        `json:"flash,omitempty"`
}

func NewJSONL(path string) (*JSONL, error) {
	if path == "" {
		return nil, errors.New("jsonl path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &JSONL{path: path}, nil
}

func (j *JSONL) Notify(_ context.Context, n Notification) error {
	return j.append(jsonlRecord{Kind: "notification", Notification: &n})
}

func (j *JSONL) Flash(_ context.Context, f Flash) error {
	return j.append(jsonlRecord{Kind: "flash", Flash: &f})
}

func (j *JSONL) append(rec jsonlRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(b, '\n'))
	return err
}

// Multi fans out to every dispatcher and joins their errors.
type Multi []Dispatcher

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, d := range m {
		if err := d.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Flash(ctx context.Context, f Flash) error {
	var errs []error
	for _, d := range m {
		if err := d.Flash(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
