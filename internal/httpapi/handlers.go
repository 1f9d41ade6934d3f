package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bloomnest/entitlements/pkg/account"
	"github.com/bloomnest/entitlements/pkg/entitlement"
	"github.com/bloomnest/entitlements/pkg/logger"
)

type codeRequest struct {
	Code string `json:"code"`
}

type promoResponse struct {
	Success        bool   `json:"success"`
	Code           string `json:"code"`
	FreeMonths     int    `json:"free_months"`
	TotalFreeDays  int    `json:"total_free_days"`
	AlreadyApplied bool   `json:"already_applied"`
}

type claimResponse struct {
	Code       string       `json:"code"`
	FreeMonths int          `json:"free_months"`
	Tier       account.Tier `json:"tier,omitempty"`
	ClaimedAt  *time.Time   `json:"claimed_at,omitempty"`
}

type accountResponse struct {
	UserID      string       `json:"user_id"`
	Status      account.Tier `json:"status"`
	Plan        account.Plan `json:"plan"`
	TrialEndsAt *time.Time   `json:"trial_ends_at,omitempty"`
}

type checkoutRequest struct {
	Plan      account.Plan `json:"plan"`
	PromoCode string       `json:"promo_code,omitempty"`
}

type checkoutResponse struct {
	URL       string    `json:"url"`
	SessionID string    `json:"session_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

type subscriptionResponse struct {
	Badge                entitlement.Badge  `json:"badge"`
	Label                string             `json:"label"`
	Tier                 account.Tier       `json:"tier"`
	DaysLeftInTrial      int                `json:"days_left_in_trial"`
	TrialEndsAt          *time.Time         `json:"trial_ends_at,omitempty"`
	Source               entitlement.Source `json:"source"`
	DriftDetected        bool               `json:"drift_detected"`
	BillingUnavailable   bool               `json:"billing_unavailable"`
	BillingStatus        string             `json:"billing_status,omitempty"`
	Plan                 account.Plan       `json:"plan,omitempty"`
	PromoCode            string             `json:"promo_code,omitempty"`
	PaymentMethodSummary string             `json:"payment_method_summary,omitempty"`
}

type accessResponse struct {
	Feature entitlement.Feature `json:"feature"`
	Tier    account.Tier        `json:"tier"`
	Allowed bool                `json:"allowed"`
	// Limit is -1 for unlimited and 0 for gated.
	Limit   int64 `json:"limit"`
	Vaulted bool  `json:"vaulted"`
	Excess  int64 `json:"excess"`
}

func (a *api) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

func (a *api) applyPromo(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := a.decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	res, err := a.svc.ApplyPromoCode(r.Context(), userFrom(r), req.Code)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, promoResponse{
		Success:        res.Success,
		Code:           res.Code,
		FreeMonths:     res.FreeMonths,
		TotalFreeDays:  res.TotalFreeDays,
		AlreadyApplied: res.AlreadyApplied,
	})
}

func (a *api) claimPromo(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := a.decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	code, err := a.svc.ClaimInfluencerCode(r.Context(), req.Code, userFrom(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{
		Code:       code.Code,
		FreeMonths: code.FreeMonths,
		Tier:       code.Tier,
		ClaimedAt:  code.ClaimedAt,
	})
}

func (a *api) startTrial(w http.ResponseWriter, r *http.Request) {
	rec, err := a.svc.StartTrial(r.Context(), userFrom(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{
		UserID:      rec.UserID,
		Status:      rec.LocalStatus,
		Plan:        rec.Plan,
		TrialEndsAt: rec.TrialEndsAt,
	})
}

func (a *api) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := a.decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	session, err := a.svc.CreateCheckoutSession(r.Context(), userFrom(r), req.Plan, req.PromoCode)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkoutResponse{
		URL:       session.URL,
		SessionID: session.SessionID,
		ExpiresAt: session.ExpiresAt,
	})
}

func (a *api) subscription(w http.ResponseWriter, r *http.Request) {
	info, err := a.svc.GetSubscriptionInfo(r.Context(), userFrom(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	d := info.Decision
	writeJSON(w, http.StatusOK, subscriptionResponse{
		Badge:                info.Badge,
		Label:                info.Label,
		Tier:                 d.EffectiveTier,
		DaysLeftInTrial:      d.DaysLeftInTrial,
		TrialEndsAt:          d.TrialEndsAt,
		Source:               d.Source,
		DriftDetected:        d.DriftDetected,
		BillingUnavailable:   d.BillingUnavailable,
		BillingStatus:        string(d.BillingStatus),
		Plan:                 info.Plan,
		PromoCode:            info.PromoCode,
		PaymentMethodSummary: info.PaymentMethodSummary,
	})
}

func (a *api) featureAccess(w http.ResponseWriter, r *http.Request) {
	feature := entitlement.Feature(chi.URLParam(r, "feature"))

	var (
		access entitlement.Access
		err    error
	)
	if raw := r.URL.Query().Get("count"); raw != "" {
		count, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			a.fail(w, r, fmt.Errorf("%w: count must be an integer", errBadRequest))
			return
		}
		access, err = a.svc.CheckFeatureAccess(r.Context(), userFrom(r), feature, count)
	} else {
		access, err = a.svc.CheckFeatureUsage(r.Context(), userFrom(r), feature)
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accessResponse{
		Feature: access.Feature,
		Tier:    access.Tier,
		Allowed: access.Allowed,
		Limit:   access.Limit,
		Vaulted: access.Vaulted,
		Excess:  access.Excess,
	})
}

// billingWebhook verifies and applies a provider event. Unknown customers
// answer 404 so the provider retries once the checkout event has linked them.
func (a *api) billingWebhook(w http.ResponseWriter, r *http.Request) {
	if a.webhooks == nil {
		a.fail(w, r, entitlement.ErrBillingDisabled)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBodyBytes))
	if err != nil {
		a.fail(w, r, errors.Join(errBadRequest, err))
		return
	}

	event, err := a.webhooks.ParseWebhook(r.Context(), payload, r.Header.Get(a.webhooks.SignatureHeader()))
	if err != nil {
		a.logger.WarnContext(r.Context(), "rejected billing webhook", logger.Error(err))
		a.fail(w, r, err)
		return
	}

	if _, err := a.svc.HandleBillingEvent(r.Context(), event); err != nil {
		a.logger.WarnContext(r.Context(), "billing webhook not applied",
			logger.EventType(event.ProviderEvent),
			logger.CustomerRef(event.CustomerRef),
			logger.Error(err),
		)
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
