package entitlement

import "time"

// Config holds the engine's tunables.
type Config struct {
	MaxSnapshotAge      time.Duration `env:"ENTITLEMENT_MAX_SNAPSHOT_AGE" envDefault:"15m"`
	DriftPublishTimeout time.Duration `env:"ENTITLEMENT_DRIFT_PUBLISH_TIMEOUT" envDefault:"500ms"`
	AccountRetries      int           `env:"ENTITLEMENT_ACCOUNT_RETRIES" envDefault:"3"`
	DriftQueueCapacity  int           `env:"ENTITLEMENT_DRIFT_QUEUE_CAPACITY" envDefault:"1024"`

	SweepInterval    time.Duration `env:"TRIAL_SWEEP_INTERVAL" envDefault:"1h"`
	SweepBatchSize   int           `env:"TRIAL_SWEEP_BATCH_SIZE" envDefault:"200"`
	SweepConcurrency int           `env:"TRIAL_SWEEP_CONCURRENCY" envDefault:"8"`
}
