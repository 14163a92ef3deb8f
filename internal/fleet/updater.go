package fleet

import (
	"context"
	"log/slog"
)

// Updater applies driver button responses back to a fleet platform. The
// provider API clients live behind this seam; the bundled implementation
// records the response and leaves the platform call to deployment-specific
// integrations.
type Updater struct {
	logger *slog.Logger
}

func NewUpdater(logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{logger: logger}
}

// ApplyResponse records a driver response as a fleet status update. The
// button payload carries the semantic intent (accept_route, report_issue)
// the fleet platform integration dispatches on.
func (u *Updater) ApplyResponse(ctx context.Context, phone, buttonPayload string) error {
	u.logger.Info("applying driver response to fleet platform",
		"phone", phone,
		"action", buttonPayload,
	)
	return nil
}
