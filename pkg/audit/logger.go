// Package audit writes an append-only JSON trail of every provisioning
// operation. Guest credentials never reach the trail.
package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	auditLogger     *Logger
	once            sync.Once
	sensitiveRegexp = regexp.MustCompile(`(password|secret|token|key|credential|auth)(["\s:=]+)([^"\s,}]+)`)
)

type contextKey string

// CorrelationIDKey carries a run-wide correlation ID through contexts so
// every stage of one run shares it.
const CorrelationIDKey contextKey = "correlation_id"

type Logger struct {
	logger zerolog.Logger
	file   *os.File
	mu     sync.Mutex
}

type Event struct {
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
	Operation     string                 `json:"operation"`
	Lab           string                 `json:"lab,omitempty"`
	Node          string                 `json:"node,omitempty"`
	User          string                 `json:"user"`
	Parameters    map[string]interface{} `json:"parameters,omitempty"`
	Result        string                 `json:"result"`
	Error         string                 `json:"error,omitempty"`
	DurationMS    int64                  `json:"duration_ms,omitempty"`
}

// Initialize sets up the audit logger once.
func Initialize(logPath string) error {
	var err error
	once.Do(func() {
		auditLogger, err = newLogger(logPath)
	})
	return err
}

// GetLogger returns the singleton audit logger, initializing it with the
// default path when needed.
func GetLogger() *Logger {
	if auditLogger == nil {
		defaultPath := "/var/log/hvc/audit.json"
		if home, err := os.UserHomeDir(); err == nil {
			defaultPath = filepath.Join(home, ".hvc", "audit.json")
		}
		Initialize(defaultPath)
	}
	return auditLogger
}

func newLogger(logPath string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &Logger{
		logger: zerolog.New(file).With().Timestamp().Logger(),
		file:   file,
	}, nil
}

// Operation starts an audit record; call Success or Failure on the
// returned context to finalize it.
func (a *Logger) Operation(ctx context.Context, operation, lab, node string, params map[string]interface{}) *OperationContext {
	correlationID := uuid.New().String()
	if ctxID, ok := ctx.Value(CorrelationIDKey).(string); ok && ctxID != "" {
		correlationID = ctxID
	}

	return &OperationContext{
		logger:        a,
		correlationID: correlationID,
		operation:     operation,
		lab:           lab,
		node:          node,
		parameters:    redactSensitive(params),
		startTime:     time.Now(),
	}
}

type OperationContext struct {
	logger        *Logger
	correlationID string
	operation     string
	lab           string
	node          string
	parameters    map[string]interface{}
	startTime     time.Time
}

func (oc *OperationContext) Success() {
	oc.complete("success", "")
}

func (oc *OperationContext) Failure(err error) {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	oc.complete("failure", errMsg)
}

func (oc *OperationContext) complete(result, errorMsg string) {
	event := Event{
		Timestamp:     oc.startTime,
		CorrelationID: oc.correlationID,
		Operation:     oc.operation,
		Lab:           oc.lab,
		Node:          oc.node,
		User:          getCurrentUser(),
		Parameters:    oc.parameters,
		Result:        result,
		Error:         errorMsg,
		DurationMS:    time.Since(oc.startTime).Milliseconds(),
	}
	oc.logger.LogRaw(event)
}

// LogRaw writes a fully formed audit event.
func (a *Logger) LogRaw(event Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.logger.Info().
		Str("correlation_id", event.CorrelationID).
		Str("operation", event.Operation).
		Str("lab", event.Lab).
		Str("node", event.Node).
		Str("user", event.User).
		Interface("parameters", event.Parameters).
		Str("result", event.Result).
		Str("error", event.Error).
		Int64("duration_ms", event.DurationMS).
		Msg("audit")
}

// Close closes the audit log file.
func (a *Logger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file != nil {
		return a.file.Close()
	}
	return nil
}

// redactSensitive strips credentials from parameter maps before they
// reach the trail.
func redactSensitive(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return nil
	}

	result := make(map[string]interface{})
	for key, value := range params {
		lowerKey := strings.ToLower(key)
		if strings.Contains(lowerKey, "password") ||
			strings.Contains(lowerKey, "secret") ||
			strings.Contains(lowerKey, "token") ||
			strings.Contains(lowerKey, "credential") {
			result[key] = "[REDACTED]"
			continue
		}

		switch v := value.(type) {
		case string:
			result[key] = redactString(v)
		case map[string]interface{}:
			result[key] = redactSensitive(v)
		default:
			result[key] = value
		}
	}
	return result
}

func redactString(s string) string {
	return sensitiveRegexp.ReplaceAllStringFunc(s, func(match string) string {
		parts := sensitiveRegexp.FindStringSubmatch(match)
		if len(parts) > 2 {
			return parts[1] + parts[2] + "[REDACTED]"
		}
		return match
	})
}

func getCurrentUser() string {
	if user := os.Getenv("HVC_USER"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	if user := os.Getenv("USERNAME"); user != "" { // Windows
		return user
	}
	return "unknown"
}
