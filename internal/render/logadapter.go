package render

import (
	"context"
	"log/slog"

	"github.com/geochirp/globe-engine/internal/util"
)

const logTextWidth = 48

// LogAdapter writes a summary of every frame to a logger. It is the adapter
// used when no render surface is configured.
type LogAdapter struct {
	logger *slog.Logger
}

// NewLogAdapter creates a LogAdapter. nil uses slog.Default.
func NewLogAdapter(logger *slog.Logger) *LogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAdapter{logger: logger}
}

// Apply logs f.
func (a *LogAdapter) Apply(ctx context.Context, f Frame) error {
	attrs := []any{
		"seq", f.Seq,
		"created", len(f.Created()),
		"updated", len(f.Updated()),
		"visible", len(f.Visible),
		"picking", f.Picking,
	}
	if f.Query != "" {
		attrs = append(attrs, "query", f.Query)
	}
	if f.Zoom != nil {
		attrs = append(attrs, "zoomAltitude", f.Zoom.Altitude)
	}
	if f.Profile != nil {
		attrs = append(attrs,
			"profile", f.Profile.Author.UID,
			"profileLoading", f.Profile.Loading,
			"profileMessages", len(f.Profile.Messages),
		)
	}
	a.logger.InfoContext(ctx, "frame", attrs...)

	for _, c := range f.Commands {
		a.logger.DebugContext(ctx, "marker",
			"kind", c.Kind.String(),
			"id", c.ID,
			"text", util.Truncate(c.Payload.Text, logTextWidth),
			"label", c.Payload.LocationLabel,
			"selected", c.Selected,
			"read", c.Read,
			"nearby", c.Nearby,
		)
	}
	return nil
}
