package approval

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/montageio/montage/pkg/models"
	"github.com/robfig/cron/v3"
)

// DefaultReminderThreshold marks a request as nearing expiry once less than
// this much of its window remains.
const DefaultReminderThreshold = time.Minute

// ReminderNotifier receives requests nearing expiry, with the time remaining.
type ReminderNotifier func(request *models.ApprovalRequest, remaining time.Duration)

// Reminder sweeps the gate on a cron schedule and surfaces approval requests
// about to expire, so a decision surface can nudge the human before the
// timeout fires.
type Reminder struct {
	logger    *slog.Logger
	gate      *Gate
	cron      *cron.Cron
	spec      string
	threshold time.Duration
	notify    ReminderNotifier
}

// NewReminder validates the cron spec and builds a stopped reminder. A nil
// notifier means nearing-expiry requests are only logged.
func NewReminder(logger *slog.Logger, gate *Gate, spec string, threshold time.Duration, notify ReminderNotifier) (*Reminder, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid reminder schedule %q: %w", spec, err)
	}

	if threshold <= 0 {
		threshold = DefaultReminderThreshold
	}

	return &Reminder{
		logger:    logger.With("module", "approval_reminder"),
		gate:      gate,
		cron:      cron.New(),
		spec:      spec,
		threshold: threshold,
		notify:    notify,
	}, nil
}

// Start begins the scheduled sweeps.
func (r *Reminder) Start() error {
	if _, err := r.cron.AddFunc(r.spec, r.Sweep); err != nil {
		return fmt.Errorf("failed to schedule reminder: %w", err)
	}

	r.cron.Start()
	r.logger.Info("Approval reminder started", "schedule", r.spec, "threshold", r.threshold)

	return nil
}

// Stop halts the schedule. Running sweeps finish before Stop returns.
func (r *Reminder) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// Sweep checks every pending request once and notifies for those whose expiry
// falls within the threshold.
func (r *Reminder) Sweep() {
	now := time.Now().UTC()

	for _, request := range r.gate.PendingRequests() {
		remaining := request.ExpiresAt.Sub(now)
		if remaining > r.threshold {
			continue
		}

		r.logger.Warn("Approval request nearing expiry",
			"request_id", request.ID,
			"workflow_id", request.WorkflowID,
			"remaining", remaining,
		)

		if r.notify != nil {
			r.notify(request, remaining)
		}
	}
}
