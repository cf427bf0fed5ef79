package storage

import "time"

type Config struct {
	URL             string        `env:"DB_URL,required"`                      // URL selects the driver by scheme: postgres://, postgresql://, sqlite:// or file:.
	ConnectTimeout  time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"10s"`  // ConnectTimeout bounds each connection attempt.
	RetryAttempts   int           `env:"DB_RETRY_ATTEMPTS" envDefault:"3"`     // RetryAttempts is the number of connection attempts before giving up.
	RetryInterval   time.Duration `env:"DB_RETRY_INTERVAL" envDefault:"2s"`    // RetryInterval is the base pause between attempts; attempt n waits n*RetryInterval.
	MonitorInterval time.Duration `env:"DB_MONITOR_INTERVAL" envDefault:"30s"` // MonitorInterval is the period of the background connection check.
	Migrate         bool          `env:"DB_MIGRATE" envDefault:"true"`         // Migrate applies the embedded schema migrations on connect.
}
