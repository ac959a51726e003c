package prompt

import (
	"context"
	"log/slog"

	"github.com/katosuite/usagekit/pkg/entitlement"
)

// LogDispatcher writes upgrade prompts to the structured log. Useful in
// development and as a safe default when no delivery channel is configured.
type LogDispatcher struct {
	log *slog.Logger
}

var _ entitlement.PromptDispatcher = (*LogDispatcher)(nil)

// NewLogDispatcher creates a dispatcher that logs prompts at warn level.
func NewLogDispatcher(log *slog.Logger) *LogDispatcher {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) DispatchUpgradePrompt(ctx context.Context, p entitlement.UpgradePrompt) {
	attrs := []any{
		"feature", p.Feature,
		"urgency", p.Urgency,
		"source", p.Source,
		"suggested_plan", p.SuggestedPlan,
		"message", p.Message,
	}
	if p.CurrentUsage != nil {
		attrs = append(attrs, "current_usage", *p.CurrentUsage)
	}
	if p.Limit != nil {
		attrs = append(attrs, "limit", *p.Limit)
	}
	d.log.WarnContext(ctx, "upgrade prompt", attrs...)
}
