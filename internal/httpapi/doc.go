// Package httpapi exposes the entitlement engine over HTTP for the rest of
// the application.
//
// Routes:
//
//	POST /promo/apply                  apply a promo code to the caller
//	POST /promo/claim                  claim an influencer code
//	POST /trial/start                  start the caller's trial
//	POST /checkout                     open a hosted checkout session
//	GET  /subscription                 badge, label and decision
//	GET  /features/{feature}/access    gate verdict, ?count= overrides stored usage
//	POST /webhooks/billing             signed provider webhook
//	GET  /healthz, /readyz, /metrics
//
// The caller is identified by the X-User-ID header set by the upstream
// gateway. Error kinds map to status codes: validation 422, conflict 409,
// not found 404.
package httpapi
