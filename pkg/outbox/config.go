package outbox

import "time"

// Config holds the outbox dispatcher settings.
type Config struct {
	PollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"` // how often due entries are drained
	BatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"50"`    // entries per drain
	MaxAttempts  int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"10"`  // attempts before an entry is left failed
}
