package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/felipepmaragno/ai-orchestrator/internal/health"
	"github.com/felipepmaragno/ai-orchestrator/internal/quota"
)

const sendTimeout = 5 * time.Second

// Dispatcher turns health transitions and quota alerts into notifications,
// sending each on its own goroutine.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
	async    bool
}

func NewDispatcher(notifier Notifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{notifier: notifier, logger: logger, async: true}
}

func (d *Dispatcher) dispatch(n Notification) {
	send := func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := d.notifier.Send(ctx, n); err != nil {
			d.logger.Error("failed to send notification", "type", n.Type, "error", err)
		}
	}
	if d.async {
		go send()
		return
	}
	send()
}

// HealthTransition is a health.Tracker transition hook.
func (d *Dispatcher) HealthTransition(tr health.Transition) {
	n := Notification{
		Type:       NotificationProviderUp,
		ProviderID: tr.ProviderID,
		Message:    fmt.Sprintf("provider %s recovered", tr.ProviderID),
	}
	if !tr.Healthy {
		n.Type = NotificationProviderDown
		n.Message = fmt.Sprintf("provider %s unhealthy after %d consecutive failures", tr.ProviderID, tr.ConsecutiveFailures)
		n.Data = map[string]any{"consecutive_failures": tr.ConsecutiveFailures}
	}
	d.dispatch(n)
}

// QuotaAlert is a quota.Gate alert handler.
func (d *Dispatcher) QuotaAlert(alert quota.Alert) {
	typ := NotificationQuotaWarning
	switch alert.Level {
	case quota.AlertLevelCritical:
		typ = NotificationQuotaCritical
	case quota.AlertLevelExceeded:
		typ = NotificationQuotaExceeded
	}

	d.dispatch(Notification{
		Type:      typ,
		AccountID: alert.AccountID,
		Message:   fmt.Sprintf("quota at %.1f%% of limit", alert.Percentage),
		Data: map[string]any{
			"limit":        alert.Limit,
			"used":         alert.Used,
			"period_start": alert.PeriodStart,
		},
	})
}
