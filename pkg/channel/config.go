package channel

import "time"

const (
	DriverSNS    = "sns"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

type Config struct {
	Driver         string        `env:"CHANNEL_DRIVER" envDefault:"sns"`          // Driver selects the transport: sns, redis or memory.
	Topic          string        `env:"CHANNEL_TOPIC"`                            // Topic is the SNS topic ARN or the redis channel name.
	ConnectTimeout time.Duration `env:"CHANNEL_CONNECT_TIMEOUT" envDefault:"10s"` // ConnectTimeout bounds the whole connect phase including retries.
	RetryAttempts  int           `env:"CHANNEL_RETRY_ATTEMPTS" envDefault:"3"`    // RetryAttempts is the number of connect attempts.
	RetryInterval  time.Duration `env:"CHANNEL_RETRY_INTERVAL" envDefault:"2s"`   // RetryInterval is the pause between connect attempts.

	ReconnectInterval time.Duration `env:"CHANNEL_RECONNECT_INTERVAL" envDefault:"30s"` // ReconnectInterval is the pause between background connects after a failed boot connect.

	AWSRegion      string `env:"AWS_REGION" envDefault:"us-east-1"`               // AWSRegion is the region of the SNS topic.
	AWSAccessKeyID string `env:"AWS_ACCESS_KEY_ID"`                               // AWSAccessKeyID enables static credentials when set with AWSSecretKey.
	AWSSecretKey   string `env:"AWS_SECRET_ACCESS_KEY"`                           // AWSSecretKey is the static secret key.
	SNSEndpoint    string `env:"SNS_ENDPOINT"`                                    // SNSEndpoint overrides the SNS endpoint (LocalStack and friends).
	VerifyTopic    bool   `env:"SNS_VERIFY_TOPIC" envDefault:"true"`              // VerifyTopic checks the topic exists and is reachable while connecting.
	RedisURL       string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"` // RedisURL is used by the redis driver, e.g. "redis://:password@localhost:6379/0".

	MemoryBufferSize int `env:"CHANNEL_MEMORY_BUFFER" envDefault:"64"` // MemoryBufferSize is the per-subscriber buffer of the memory driver.
}
