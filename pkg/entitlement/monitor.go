package entitlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/bloomnest/entitlements/pkg/account"
	"github.com/bloomnest/entitlements/pkg/billing"
	"github.com/bloomnest/entitlements/pkg/logger"
)

const defaultPublishTimeout = 500 * time.Millisecond

// DriftSink receives drift reports for out-of-band correction.
type DriftSink interface {
	Publish(ctx context.Context, report *DriftReport) error
}

// Monitor turns drifted decisions into reports. It never affects the decision
// and never fails the request that observed the drift.
type Monitor struct {
	sink    DriftSink
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

type MonitorOption func(*Monitor)

func WithPublishTimeout(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithMonitorLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithMonitorMetrics(metrics *Metrics) MonitorOption {
	return func(m *Monitor) {
		m.metrics = metrics
	}
}

// NewMonitor builds a monitor. A nil sink only logs.
func NewMonitor(sink DriftSink, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		sink:    sink,
		timeout: defaultPublishTimeout,
		logger:  logger.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Reconcile builds a report when the decision detected drift, otherwise nil.
func (m *Monitor) Reconcile(acct *account.AccountRecord, snap *billing.Snapshot, d Decision, now time.Time) *DriftReport {
	if !d.DriftDetected || snap == nil {
		return nil
	}
	expected, err := ExpectedLocalStatus(snap.Status)
	if err != nil {
		return nil
	}
	return &DriftReport{
		UserID:         acct.UserID,
		LocalStatus:    acct.LocalStatus,
		BillingStatus:  snap.Status,
		ExpectedStatus: expected,
		DetectedAt:     now.UTC(),
	}
}

// Observe publishes the drift report for d, if any, within the publish timeout.
// Publish failures are logged and counted.
func (m *Monitor) Observe(ctx context.Context, acct *account.AccountRecord, snap *billing.Snapshot, d Decision) *DriftReport {
	report := m.Reconcile(acct, snap, d, d.ResolvedAt)
	if report == nil {
		return nil
	}

	m.logger.InfoContext(ctx, "subscription drift detected",
		logger.UserID(report.UserID),
		logger.Tier(report.LocalStatus),
		logger.BillingStatus(report.BillingStatus),
		slog.String("expected_status", string(report.ExpectedStatus)),
	)

	if m.sink == nil {
		m.metrics.drift("unpublished")
		return report
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	if err := m.sink.Publish(pctx, report); err != nil {
		m.metrics.drift("failed")
		m.logger.WarnContext(ctx, "failed to publish drift report",
			logger.UserID(report.UserID),
			logger.Error(err),
		)
		return report
	}
	m.metrics.drift("published")
	return report
}
