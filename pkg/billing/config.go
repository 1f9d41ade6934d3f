package billing

import "time"

// Provider names accepted by Config.Provider.
const (
	ProviderStripe = "stripe"
	ProviderPaddle = "paddle"
	ProviderMemory = "memory"
)

// Config controls provider selection and the guarded client.
type Config struct {
	Provider         string        `env:"BILLING_PROVIDER" envDefault:"stripe"`
	Timeout          time.Duration `env:"BILLING_TIMEOUT" envDefault:"3s"`
	CacheTTL         time.Duration `env:"BILLING_CACHE_TTL" envDefault:"5m"`
	CacheCapacity    int           `env:"BILLING_CACHE_CAPACITY" envDefault:"10000"`
	BreakerFailures  int           `env:"BILLING_BREAKER_FAILURES" envDefault:"5"`
	BreakerSuccesses int           `env:"BILLING_BREAKER_SUCCESSES" envDefault:"2"`
	BreakerRecovery  time.Duration `env:"BILLING_BREAKER_RECOVERY" envDefault:"30s"`
	SuccessURL       string        `env:"BILLING_SUCCESS_URL"`
	CancelURL        string        `env:"BILLING_CANCEL_URL"`
}

// StripeConfig holds Stripe credentials and the price ids for each paid plan.
type StripeConfig struct {
	SecretKey      string `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret  string `env:"STRIPE_WEBHOOK_SECRET,required"`
	MonthlyPriceID string `env:"STRIPE_MONTHLY_PRICE_ID,required"`
	AnnualPriceID  string `env:"STRIPE_ANNUAL_PRICE_ID,required"`
}

// PaddleConfig holds Paddle credentials and the price ids for each paid plan.
type PaddleConfig struct {
	APIKey         string `env:"PADDLE_API_KEY,required"`
	WebhookSecret  string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment    string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	MonthlyPriceID string `env:"PADDLE_MONTHLY_PRICE_ID,required"`
	AnnualPriceID  string `env:"PADDLE_ANNUAL_PRICE_ID,required"`
}
