package config

import "time"

// DefaultConfig returns a configuration suitable for local development:
// SQLite storage, console logging, telemetry off.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute, // SSE streams stay open a while
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       50,
			RateBurst:       100,
		},
		Log: LogConfig{
			Level:        "info",
			Format:       "console",
			OutputPaths:  []string{"stdout"},
			EnableCaller: true,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "agentrun:",
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Name:            "agentrun.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "agentrun",
			SampleRate:  1.0,
		},
		JWT: JWTConfig{
			Issuer: "agentrun",
		},
		Approval: ApprovalConfig{
			Deadline: 5 * time.Minute,
			LinkTTL:  time.Hour,
		},
		Run: RunConfig{
			SubscriberGrace:   3 * time.Second,
			HeadlessGrace:     300 * time.Millisecond,
			TitleTimeout:      15 * time.Second,
			MaxPendingPerUser: 3,
		},
	}
}
