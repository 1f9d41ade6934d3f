package entitlement_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bloomnest/entitlements/pkg/account"
	"github.com/bloomnest/entitlements/pkg/billing"
	"github.com/bloomnest/entitlements/pkg/entitlement"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Publish(ctx context.Context, report *entitlement.DriftReport) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}

func driftedDecision() (*account.AccountRecord, *billing.Snapshot, entitlement.Decision) {
	acct := accountWith("u1", account.TierActive)
	snap := freshSnapshot("cus_1", billing.StatusCanceled)
	d := entitlement.Resolve(acct, snap, now, entitlement.ResolveOptions{})
	return acct, snap, d
}

func TestMonitor_Reconcile(t *testing.T) {
	t.Parallel()
	m := entitlement.NewMonitor(nil)

	acct, snap, d := driftedDecision()
	report := m.Reconcile(acct, snap, d, now)
	require.NotNil(t, report)
	assert.Equal(t, "u1", report.UserID)
	assert.Equal(t, account.TierActive, report.LocalStatus)
	assert.Equal(t, billing.StatusCanceled, report.BillingStatus)
	assert.Equal(t, account.TierFree, report.ExpectedStatus)
	assert.Equal(t, now, report.DetectedAt)

	inSync := accountWith("u2", account.TierFree)
	d = entitlement.Resolve(inSync, snap, now, entitlement.ResolveOptions{})
	assert.Nil(t, m.Reconcile(inSync, snap, d, now))
}

func TestMonitor_ObservePublishes(t *testing.T) {
	t.Parallel()

	sink := &mockSink{}
	sink.On("Publish", mock.Anything, mock.MatchedBy(func(r *entitlement.DriftReport) bool {
		return r.UserID == "u1" && r.ExpectedStatus == account.TierFree
	})).Return(nil).Once()

	reg := prometheus.NewRegistry()
	metrics, err := entitlement.NewMetrics(reg)
	require.NoError(t, err)

	m := entitlement.NewMonitor(sink, entitlement.WithMonitorMetrics(metrics))
	acct, snap, d := driftedDecision()
	report := m.Observe(context.Background(), acct, snap, d)

	require.NotNil(t, report)
	sink.AssertExpectations(t)

	expected := `
# HELP entitlements_drift_reports_total Drift reports by publish outcome
# TYPE entitlements_drift_reports_total counter
entitlements_drift_reports_total{outcome="published"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "entitlements_drift_reports_total"))
}

func TestMonitor_ObserveSurvivesSinkFailure(t *testing.T) {
	t.Parallel()

	sink := &mockSink{}
	sink.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()

	m := entitlement.NewMonitor(sink)
	acct, snap, d := driftedDecision()
	assert.NotPanics(t, func() {
		report := m.Observe(context.Background(), acct, snap, d)
		assert.NotNil(t, report)
	})
	sink.AssertExpectations(t)
}

func TestMonitor_ObserveIgnoresCallerCancel(t *testing.T) {
	t.Parallel()

	sink := &mockSink{}
	sink.On("Publish", mock.MatchedBy(func(ctx context.Context) bool {
		_, hasDeadline := ctx.Deadline()
		return ctx.Err() == nil && hasDeadline
	}), mock.Anything).Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := entitlement.NewMonitor(sink, entitlement.WithPublishTimeout(50*time.Millisecond))
	acct, snap, d := driftedDecision()
	m.Observe(ctx, acct, snap, d)
	sink.AssertExpectations(t)
}

func TestMonitor_NoDriftNoPublish(t *testing.T) {
	t.Parallel()

	sink := &mockSink{}
	m := entitlement.NewMonitor(sink)

	acct := accountWith("u", account.TierActive)
	snap := freshSnapshot("cus", billing.StatusActive)
	d := entitlement.Resolve(acct, snap, now, entitlement.ResolveOptions{})
	assert.Nil(t, m.Observe(context.Background(), acct, snap, d))
	sink.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestMemoryDriftQueue(t *testing.T) {
	t.Parallel()

	t.Run("dedupes pending users", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		q := entitlement.NewMemoryDriftQueue(4)

		require.NoError(t, q.Publish(ctx, &entitlement.DriftReport{UserID: "a"}))
		require.NoError(t, q.Publish(ctx, &entitlement.DriftReport{UserID: "a"}))
		require.NoError(t, q.Publish(ctx, &entitlement.DriftReport{UserID: "b"}))
		assert.Equal(t, 2, q.Len())

		r, err := q.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, "a", r.UserID)

		// Once drained, the user may be queued again.
		require.NoError(t, q.Publish(ctx, &entitlement.DriftReport{UserID: "a"}))
		assert.Equal(t, 2, q.Len())
	})

	t.Run("full queue rejects", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		q := entitlement.NewMemoryDriftQueue(1)

		require.NoError(t, q.Publish(ctx, &entitlement.DriftReport{UserID: "a"}))
		err := q.Publish(ctx, &entitlement.DriftReport{UserID: "b"})
		assert.ErrorIs(t, err, entitlement.ErrQueueFull)
	})

	t.Run("next honors context", func(t *testing.T) {
		t.Parallel()
		q := entitlement.NewMemoryDriftQueue(1)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := q.Next(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
