package logger

import (
	"log/slog"
	"time"

	"github.com/sweetpotato0/toolchat/middleware"
	"github.com/sweetpotato0/toolchat/pkg/logging"
)

// TurnLogger logs each conversation turn and its outcome.
type TurnLogger struct {
	logger *slog.Logger
}

// NewTurnLogger creates a turn logging middleware. A nil logger falls back to
// the package-wide logger.
func NewTurnLogger(logger *slog.Logger) *TurnLogger {
	if logger == nil {
		logger = logging.WithComponent("turn")
	}
	return &TurnLogger{logger: logger}
}

// Name returns the middleware name
func (m *TurnLogger) Name() string {
	return "TurnLogger"
}

// Execute logs the request before the turn and the response after it
func (m *TurnLogger) Execute(ctx *middleware.Context, next middleware.Handler) error {
	attrs := []any{"input_len", len(ctx.Input), "history", len(ctx.Messages)}
	if id, ok := ctx.Metadata[middleware.MetadataConversationID].(string); ok {
		attrs = append(attrs, "conversation", id)
	}
	m.logger.Debug("turn started", attrs...)

	start := time.Now()
	err := next(ctx)
	attrs = append(attrs, "duration", time.Since(start))
	if name, ok := ctx.Metadata[middleware.MetadataTool].(string); ok {
		attrs = append(attrs, "tool", name, "tool_ok", ctx.Metadata[middleware.MetadataToolOK])
	}

	if err != nil {
		m.logger.Warn("turn failed", append(attrs, "error", err)...)
		return err
	}
	if ctx.Response != nil {
		attrs = append(attrs, "response_len", len(ctx.Response.Content))
	}
	m.logger.Info("turn completed", attrs...)
	return nil
}
