package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloomnest/entitlements/internal/httpapi"
	"github.com/bloomnest/entitlements/pkg/account"
	"github.com/bloomnest/entitlements/pkg/billing"
	"github.com/bloomnest/entitlements/pkg/entitlement"
	"github.com/bloomnest/entitlements/pkg/promo"
)

var now = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

type fixture struct {
	accounts *account.MemoryStore
	ledger   *promo.Ledger
	provider *billing.MemoryProvider
	client   *billing.Client
	usage    *entitlement.MemoryUsageStore
	handler  http.Handler
}

func newFixture(t *testing.T, opts ...httpapi.Option) *fixture {
	t.Helper()
	f := &fixture{
		accounts: account.NewMemoryStore(),
		provider: billing.NewMemoryProvider("whsec"),
		usage:    entitlement.NewMemoryUsageStore(),
	}
	promos := promo.NewMemoryStore()
	f.ledger = promo.NewLedger(promos, promos, f.accounts, promo.WithClock(clock))
	f.client = billing.NewClient(f.provider, billing.WithClientClock(clock), billing.WithTimeout(200*time.Millisecond))
	svc := entitlement.NewService(f.accounts, f.ledger,
		entitlement.WithBilling(f.client),
		entitlement.WithUsageStore(f.usage),
		entitlement.WithClock(clock),
	)
	f.handler = httpapi.NewRouter(svc, append([]httpapi.Option{httpapi.WithWebhooks(f.client)}, opts...)...)
	return f
}

func (f *fixture) create(t *testing.T, rec *account.AccountRecord) {
	t.Helper()
	require.NoError(t, f.accounts.Create(context.Background(), rec))
}

func (f *fixture) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set(httpapi.UserIDHeader, userID)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string              `json:"code"`
		Message string              `json:"message"`
		Details map[string][]string `json:"details"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	if data != nil && env.Data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func trialAccount(userID string, endDays int) *account.AccountRecord {
	rec := account.New(userID, now.AddDate(0, 0, -3))
	rec.LocalStatus = account.TierTrial
	end := now.AddDate(0, 0, endDays)
	rec.TrialEndsAt = &end
	return rec
}

func TestRouter_RequiresUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/subscription", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	env := decode(t, rec, nil)
	require.NotNil(t, env.Error)
	assert.Equal(t, "unauthorized", env.Error.Code)
}

func TestRouter_RequestID(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	t.Run("generated", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/healthz", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get(httpapi.RequestIDHeader))
	})

	t.Run("client value reused", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set(httpapi.RequestIDHeader, "req-123")
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		assert.Equal(t, "req-123", rec.Header().Get(httpapi.RequestIDHeader))
	})

	t.Run("invalid client value replaced", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set(httpapi.RequestIDHeader, "bad id!")
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		got := rec.Header().Get(httpapi.RequestIDHeader)
		assert.NotEqual(t, "bad id!", got)
		assert.NotEmpty(t, got)
	})

	t.Run("extractor", func(t *testing.T) {
		attr, ok := httpapi.RequestIDExtractor()(context.Background())
		assert.False(t, ok)
		assert.Empty(t, attr.Key)
	})
}

func TestRouter_ApplyPromo(t *testing.T) {
	t.Parallel()

	t.Run("trial account", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.create(t, trialAccount("u2", 10))
		_, err := f.ledger.CreateCode(context.Background(), "SARAH1", 1, "")
		require.NoError(t, err)

		rec := f.do(t, http.MethodPost, "/promo/apply", "u2", map[string]string{"code": "sarah1"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var res struct {
			Success       bool   `json:"success"`
			Code          string `json:"code"`
			FreeMonths    int    `json:"free_months"`
			TotalFreeDays int    `json:"total_free_days"`
		}
		decode(t, rec, &res)
		assert.True(t, res.Success)
		assert.Equal(t, "SARAH1", res.Code)
		assert.Equal(t, 1, res.FreeMonths)
		assert.Equal(t, 44, res.TotalFreeDays)
	})

	t.Run("malformed code is 422 with field details", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.create(t, account.New("u", now))

		rec := f.do(t, http.MethodPost, "/promo/apply", "u", map[string]string{"code": "x!"})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		env := decode(t, rec, nil)
		require.NotNil(t, env.Error)
		assert.Equal(t, "validation_error", env.Error.Code)
		assert.NotEmpty(t, env.Error.Details["code"])
	})

	t.Run("unknown code is 404", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.create(t, account.New("u", now))

		rec := f.do(t, http.MethodPost, "/promo/apply", "u", map[string]string{"code": "NOPE"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		req := httptest.NewRequest(http.MethodPost, "/promo/apply", bytes.NewBufferString("{"))
		req.Header.Set(httpapi.UserIDHeader, "u")
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRouter_ClaimPromo(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.create(t, account.New("inf1", now))
	f.create(t, account.New("inf2", now))
	_, err := f.ledger.CreateCode(context.Background(), "JANE", 2, account.TierInfluencerPremium)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/promo/claim", "inf1", map[string]string{"code": "JANE"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res struct {
		Code      string     `json:"code"`
		ClaimedAt *time.Time `json:"claimed_at"`
	}
	decode(t, rec, &res)
	assert.Equal(t, "JANE", res.Code)
	assert.NotNil(t, res.ClaimedAt)

	rec = f.do(t, http.MethodPost, "/promo/claim", "inf2", map[string]string{"code": "JANE"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRouter_Subscription(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.create(t, trialAccount("u", 1))

	rec := f.do(t, http.MethodGet, "/subscription", "u", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Badge           string `json:"badge"`
		Label           string `json:"label"`
		Tier            string `json:"tier"`
		DaysLeftInTrial int    `json:"days_left_in_trial"`
		Source          string `json:"source"`
	}
	decode(t, rec, &res)
	assert.Equal(t, string(entitlement.BadgeTrial), res.Badge)
	assert.Equal(t, "Trial: 1 day left", res.Label)
	assert.Equal(t, string(account.TierTrial), res.Tier)
	assert.Equal(t, 1, res.DaysLeftInTrial)
	assert.Equal(t, string(entitlement.SourceLocal), res.Source)

	rec = f.do(t, http.MethodGet, "/subscription", "ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_FeatureAccess(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.create(t, account.New("u", now))

	type access struct {
		Allowed bool  `json:"allowed"`
		Limit   int64 `json:"limit"`
		Vaulted bool  `json:"vaulted"`
		Excess  int64 `json:"excess"`
	}

	t.Run("explicit count under limit", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/features/shopping_items/access?count=9", "u", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var res access
		decode(t, rec, &res)
		assert.True(t, res.Allowed)
		assert.EqualValues(t, 10, res.Limit)
	})

	t.Run("stored usage over limit is vaulted", func(t *testing.T) {
		f.usage.Set("u", entitlement.FeatureShoppingItems, 15)
		rec := f.do(t, http.MethodGet, "/features/shopping_items/access", "u", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var res access
		decode(t, rec, &res)
		assert.False(t, res.Allowed)
		assert.True(t, res.Vaulted)
		assert.EqualValues(t, 5, res.Excess)
	})

	t.Run("gated feature", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/features/partner_sharing/access?count=0", "u", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var res access
		decode(t, rec, &res)
		assert.False(t, res.Allowed)
		assert.False(t, res.Vaulted)
	})

	t.Run("unknown feature is 404", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/features/teleport/access", "u", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("bad count is 400", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/features/shopping_items/access?count=lots", "u", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRouter_StartTrialAndCheckout(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.create(t, account.New("u", now))

	rec := f.do(t, http.MethodPost, "/trial/start", "u", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var acct struct {
		Status      string     `json:"status"`
		TrialEndsAt *time.Time `json:"trial_ends_at"`
	}
	decode(t, rec, &acct)
	assert.Equal(t, string(account.TierTrial), acct.Status)
	require.NotNil(t, acct.TrialEndsAt)
	assert.True(t, now.AddDate(0, 0, 14).Equal(*acct.TrialEndsAt))

	rec = f.do(t, http.MethodPost, "/trial/start", "u", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/checkout", "u", map[string]string{"plan": "annual"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var session struct {
		URL string `json:"url"`
	}
	decode(t, rec, &session)
	assert.NotEmpty(t, session.URL)

	rec = f.do(t, http.MethodPost, "/checkout", "u", map[string]string{"plan": "free"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRouter_BillingWebhook(t *testing.T) {
	t.Parallel()

	post := func(f *fixture, payload []byte, signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(payload))
		req.Header.Set(f.client.SignatureHeader(), signature)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("signed cancellation demotes", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		rec := account.New("u", now.AddDate(0, 0, -30))
		rec.LocalStatus = account.TierActive
		rec.Plan = account.PlanMonthly
		ref := "cus_1"
		rec.BillingCustomerRef = &ref
		f.create(t, rec)

		payload, err := json.Marshal(billing.WebhookEvent{
			ID:          "evt_1",
			Type:        billing.EventSubscriptionUpdated,
			CustomerRef: "cus_1",
			Snapshot:    &billing.Snapshot{CustomerRef: "cus_1", Status: billing.StatusCanceled, FetchedAt: now},
		})
		require.NoError(t, err)

		res := post(f, payload, f.provider.Sign(payload))
		require.Equal(t, http.StatusOK, res.Code, res.Body.String())

		stored, err := f.accounts.Get(context.Background(), "u")
		require.NoError(t, err)
		assert.Equal(t, account.TierFree, stored.LocalStatus)
	})

	t.Run("bad signature is 401", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		res := post(f, []byte(`{"CustomerRef":"cus_1"}`), "deadbeef")
		assert.Equal(t, http.StatusUnauthorized, res.Code)
	})

	t.Run("unknown customer is 404", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		payload, err := json.Marshal(billing.WebhookEvent{
			ID:          "evt_2",
			Type:        billing.EventSubscriptionUpdated,
			CustomerRef: "cus_ghost",
			Snapshot:    &billing.Snapshot{CustomerRef: "cus_ghost", Status: billing.StatusActive, FetchedAt: now},
		})
		require.NoError(t, err)
		res := post(f, payload, f.provider.Sign(payload))
		assert.Equal(t, http.StatusNotFound, res.Code)
	})
}

func TestRouter_Probes(t *testing.T) {
	t.Parallel()

	t.Run("ready", func(t *testing.T) {
		f := newFixture(t, httpapi.WithReadinessChecks(func(context.Context) error { return nil }))
		rec := f.do(t, http.MethodGet, "/readyz", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "READY", rec.Body.String())
	})

	t.Run("not ready", func(t *testing.T) {
		f := newFixture(t, httpapi.WithReadinessChecks(func(context.Context) error { return errors.New("db down") }))
		rec := f.do(t, http.MethodGet, "/readyz", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("metrics", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		_, err := entitlement.NewMetrics(reg)
		require.NoError(t, err)
		f := newFixture(t, httpapi.WithMetrics(reg))
		rec := f.do(t, http.MethodGet, "/metrics", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
