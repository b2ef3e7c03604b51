package notify

import (
	"context"
	"log/slog"
)

// LogGateway logs messages instead of sending them. It is used when no
// SMTP host is configured, so a developer can copy the confirmation link
// out of the server log.
type LogGateway struct {
	logger *slog.Logger
}

func NewLogGateway(logger *slog.Logger) *LogGateway {
	return &LogGateway{logger: logger}
}

func (g *LogGateway) Send(ctx context.Context, msg Message) error {
	g.logger.InfoContext(ctx, "mail not sent, no smtp relay configured",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("body", msg.HTMLBody),
	)
	return nil
}
