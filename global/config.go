package global

import (
	"os"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"

	"LiveHub/logger"
)

var (
	cfg     AppConfig
	cfgOnce sync.Once
)

// Config returns the process configuration, loading it from the environment
// on first use. Unset variables keep their defaults; malformed numeric values
// fail the decode and the defaults win wholesale.
func Config() AppConfig {
	cfgOnce.Do(func() {
		cfg = loadConfig()
	})
	return cfg
}

func loadConfig() AppConfig {
	out := defaultConfig()

	env := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true, // "0" -> int etc.
	})
	if err != nil {
		logger.Errorf("[config] decoder init failed: %v", err)
		return defaultConfig()
	}
	if err := dec.Decode(env); err != nil {
		logger.Errorf("[config] env decode failed, using defaults: %v", err)
		return defaultConfig()
	}
	return out
}

// GetJwtSecret returns the HMAC secret for token verification.
func GetJwtSecret() []byte {
	if s := Config().JwtSecret; s != "" {
		return []byte(s)
	}
	// Dev fallback only; production sets JWT_SECRET.
	return []byte("mN9b1f8zPq+W2xjX/45sKcVd0TfyoG+3Hp5Z8q9Rj1o=")
}

// KafkaBrokerList splits the broker env value; empty means auditing disabled.
func KafkaBrokerList() []string {
	b := Config().KafkaBrokers
	if b == "" {
		return nil
	}
	return strings.Split(b, ",")
}

// NatsServerList splits the NATS server env value.
func NatsServerList() []string {
	return strings.Split(Config().NatsServers, ",")
}
