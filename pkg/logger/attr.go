package logger

import (
	"log/slog"
	"strconv"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Errors groups multiple non-nil errors under the key "errors".
// If all errors are nil, it returns an empty Attr.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the user identifier under the key "user_id".
// Empty ids produce an empty Attr.
func UserID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("user_id", id)
}

// RequestID records the request identifier under the key "request_id".
func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("request_id", id)
}

// PromoCode records a canonical promo code under the key "promo_code".
func PromoCode(code string) slog.Attr {
	if code == "" {
		return slog.Attr{}
	}
	return slog.String("promo_code", code)
}

// CustomerRef records the billing provider customer id under the key "customer_ref".
func CustomerRef(ref string) slog.Attr {
	if ref == "" {
		return slog.Attr{}
	}
	return slog.String("customer_ref", ref)
}

// Tier records a subscription tier under the key "tier".
func Tier[T ~string](tier T) slog.Attr {
	return slog.String("tier", string(tier))
}

// BillingStatus records a provider subscription status under the key "billing_status".
func BillingStatus[T ~string](status T) slog.Attr {
	return slog.String("billing_status", string(status))
}

// Feature records a gated feature name under the key "feature".
func Feature[T ~string](feature T) slog.Attr {
	return slog.String("feature", string(feature))
}

// Provider records the billing provider name under the key "provider".
func Provider(name string) slog.Attr {
	return slog.String("provider", name)
}

// EventType records the event type under the key "event_type".
func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

// RetryCount records the retry count under the key "retry_count".
func RetryCount(count int) slog.Attr {
	return slog.Int("retry_count", count)
}

// Duration records a duration under the key "duration".
func Duration(d any) slog.Attr {
	return slog.Any("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}
