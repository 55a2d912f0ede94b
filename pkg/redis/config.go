package redis

import "time"

type Config struct {
	ConnectionURL  string        `env:"REDIS_URL"`                              // ConnectionURL in the form "redis://:password@localhost:6379/0". Empty disables Redis.
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`    // RetryAttempts is the number of connection attempts.
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`   // RetryInterval is the delay between attempts.
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"` // ConnectTimeout bounds the whole connection phase.

	LockPrefix    string        `env:"REDIS_LOCK_PREFIX" envDefault:"clinicbilling:lock:"` // LockPrefix namespaces lock keys.
	LockTTL       time.Duration `env:"REDIS_LOCK_TTL" envDefault:"30s"`                    // LockTTL releases locks of crashed holders.
	LockRetryWait time.Duration `env:"REDIS_LOCK_RETRY_WAIT" envDefault:"25ms"`            // LockRetryWait is the poll interval while a key is held.
}
