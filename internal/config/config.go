package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type PostgresConfig struct {
	URL string
}

type MinioConfig struct {
	URL         string
	ACCESS_KEY  string
	SECRET_KEY  string
	HOT_BUCKET  string
	COLD_BUCKET string
	USE_SSL     bool
}

type NatsConfig struct {
	URL              string
	DELIVERY_STREAM  string
	DELIVERY_SUBJECT string
}

type FreeCacheConfig struct {
	SIZE_BYTES int
	TTL        int
}

// Timeouts groups every tunable interval of the Core. Units are seconds
// except COLD_AFTER, which is hours.
type Timeouts struct {
	HEARTBEAT_INTERVAL time.Duration
	ACK_TIMEOUT        time.Duration
	STARVE_AFTER       time.Duration
	SWEEP_INTERVAL     time.Duration
	PARK_AFTER         time.Duration
	COLD_AFTER         time.Duration
	SHUTDOWN_GRACE     time.Duration
}

type Config struct {
	SERVICE_NAME   string
	TRACE_URL      string
	CORE_HOST      string
	CORE_PORT      int
	HTTP_PORT      int
	PULSE_PORT     int
	CONTROL_SOCKET string
	Timeouts       Timeouts
}

func env(key string) string {
	return os.Getenv(key)
}

func convertStringToInt(s string, key string) (int, error) {
	sInt, err := strconv.Atoi(s)
	if err != nil {
		return -1, fmt.Errorf("error initializing config with key: %s, err: %v", key, err)
	}
	return sInt, nil
}

func intOrDefault(key string, def int) (int, error) {
	v := env(key)
	if v == "" {
		return def, nil
	}
	return convertStringToInt(v, key)
}

func secsOrDefault(key string, defSecs int) (time.Duration, error) {
	n, err := intOrDefault(key, defSecs)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func GetPostgresConfig() (*PostgresConfig, error) {
	url := env("POSTGRES_URL")
	if url == "" {
		return nil, fmt.Errorf("KEY: POSTGRES_URL is empty")
	}
	return &PostgresConfig{URL: url}, nil
}

func GetMinioConfig() (*MinioConfig, error) {
	url := env("MINIO_ENDPOINT")
	if url == "" {
		return nil, fmt.Errorf("KEY: MINIO_ENDPOINT is empty")
	}
	hb := env("MINIO_HOT_BUCKET")
	if hb == "" {
		return nil, fmt.Errorf("KEY: MINIO_HOT_BUCKET is empty")
	}
	cb := env("MINIO_COLD_BUCKET")
	if cb == "" {
		return nil, fmt.Errorf("KEY: MINIO_COLD_BUCKET is empty")
	}
	ssl := env("MINIO_USE_SSL")
	if ssl != "true" && ssl != "false" {
		return nil, fmt.Errorf("KEY: MINIO_USE_SSL is invalid")
	}
	ak := env("MINIO_ACCESS_KEY")
	if ak == "" {
		return nil, fmt.Errorf("KEY: MINIO_ACCESS_KEY is empty")
	}
	sk := env("MINIO_SECRET_KEY")
	if sk == "" {
		return nil, fmt.Errorf("KEY: MINIO_SECRET_KEY is empty")
	}
	return &MinioConfig{
		URL:         url,
		HOT_BUCKET:  hb,
		COLD_BUCKET: cb,
		USE_SSL:     ssl == "true",
		ACCESS_KEY:  ak,
		SECRET_KEY:  sk,
	}, nil
}

func GetNatsConfig() (*NatsConfig, error) {
	url := env("JETSTREAM_URL")
	if url == "" {
		return nil, fmt.Errorf("KEY: JETSTREAM_URL is empty")
	}
	stream := env("JETSTREAM_DELIVERY_STREAM")
	if stream == "" {
		stream = "SWARM_DELIVERY"
	}
	subject := env("JETSTREAM_DELIVERY_SUBJECT")
	if subject == "" {
		subject = "delivery.requested"
	}
	return &NatsConfig{
		URL:              url,
		DELIVERY_STREAM:  stream,
		DELIVERY_SUBJECT: subject,
	}, nil
}

func GetFreeCacheConfig() (*FreeCacheConfig, error) {
	ttl, err := intOrDefault("FREECACHE_TTL", 30)
	if err != nil {
		return nil, err
	}
	fs, err := intOrDefault("FREECACHE_SIZE", 16*1024*1024)
	if err != nil {
		return nil, err
	}
	return &FreeCacheConfig{
		TTL:        ttl,
		SIZE_BYTES: fs,
	}, nil
}

func GetTimeouts() (Timeouts, error) {
	var t Timeouts
	var err error
	if t.HEARTBEAT_INTERVAL, err = secsOrDefault("HEARTBEAT_INTERVAL_SECS", 1); err != nil {
		return t, err
	}
	if t.ACK_TIMEOUT, err = secsOrDefault("ACK_TIMEOUT_SECS", 10); err != nil {
		return t, err
	}
	if t.STARVE_AFTER, err = secsOrDefault("STARVE_AFTER_SECS", 300); err != nil {
		return t, err
	}
	if t.SWEEP_INTERVAL, err = secsOrDefault("SWEEP_INTERVAL_SECS", 60); err != nil {
		return t, err
	}
	if t.PARK_AFTER, err = secsOrDefault("PARK_AFTER_SECS", 600); err != nil {
		return t, err
	}
	coldHours, err := intOrDefault("COLD_AFTER_HOURS", 24)
	if err != nil {
		return t, err
	}
	t.COLD_AFTER = time.Duration(coldHours) * time.Hour
	if t.SHUTDOWN_GRACE, err = secsOrDefault("SHUTDOWN_GRACE_SECS", 30); err != nil {
		return t, err
	}
	return t, nil
}

func GetConfig() (*Config, error) {
	sn := env("SERVICE_NAME")
	if sn == "" {
		sn = "swarm-core"
	}
	host := env("CORE_HOST")
	if host == "" {
		host = "0.0.0.0"
	}
	port, err := intOrDefault("CORE_PORT", 50052)
	if err != nil {
		return nil, err
	}
	httpPort, err := intOrDefault("HTTP_PORT", 8080)
	if err != nil {
		return nil, err
	}
	pulsePort, err := intOrDefault("PULSE_PORT", 5001)
	if err != nil {
		return nil, err
	}
	sock := env("CONTROL_SOCKET")
	if sock == "" {
		sock = "/tmp/swarm_core_control.sock"
	}
	timeouts, err := GetTimeouts()
	if err != nil {
		return nil, err
	}
	return &Config{
		SERVICE_NAME:   sn,
		TRACE_URL:      env("TRACE_URL"),
		CORE_HOST:      host,
		CORE_PORT:      port,
		HTTP_PORT:      httpPort,
		PULSE_PORT:     pulsePort,
		CONTROL_SOCKET: sock,
		Timeouts:       timeouts,
	}, nil
}
