package config

import (
	"fmt"
	"strings"
	"time"

	"chunk-relay/queue"

	"github.com/spf13/viper"
)

type DB struct {
	Driver string
	Path   string
	Host   string
	Port   int
	User   string
	Pass   string
	Name   string
}

type HTTP struct {
	Host string
	Port int
}

type Processing struct {
	OutputDir        string
	TempDir          string
	Workers          int
	Shards           int
	ProgressInterval int
	WaitTimeout      time.Duration
	ErrorBackoff     time.Duration
}

type Reaper struct {
	Interval  time.Duration
	Timeout   time.Duration
	Retention time.Duration
}

type Config struct {
	HTTP       HTTP
	DB         DB
	Queue      queue.Config
	Processing Processing
	Reaper     Reaper
	Auth       struct {
		Secret string
		Issuer string
	}
}

// Load reads the backend section of a YAML config file. Every key can be
// overridden from the environment, e.g. CHUNKRELAY_BACKEND_QUEUE_KIND.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CHUNKRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("backend.http.host", "127.0.0.1")
	v.SetDefault("backend.http.port", 9400)
	v.SetDefault("backend.db.driver", "sqlite")
	v.SetDefault("backend.db.path", "chunk-relay.db")
	v.SetDefault("backend.db.host", "127.0.0.1")
	v.SetDefault("backend.db.port", 3306)
	v.SetDefault("backend.db.user", "root")
	v.SetDefault("backend.db.pass", "")
	v.SetDefault("backend.db.name", "chunk_relay")
	v.SetDefault("backend.queue.kind", "redis")
	v.SetDefault("backend.queue.message_ttl", queue.DefaultMessageTTL)
	v.SetDefault("backend.queue.lock_duration", queue.DefaultLockDuration)
	v.SetDefault("backend.queue.redis.addr", "127.0.0.1:6379")
	v.SetDefault("backend.queue.redis.db", 0)
	v.SetDefault("backend.queue.redis.group", "processing")
	v.SetDefault("backend.queue.sqs.region", "")
	v.SetDefault("backend.queue.sqs.endpoint", "")
	v.SetDefault("backend.processing.output_dir", "output")
	v.SetDefault("backend.processing.temp_dir", "")
	v.SetDefault("backend.processing.workers", 1)
	v.SetDefault("backend.processing.shards", 32)
	v.SetDefault("backend.processing.progress_interval", 50)
	v.SetDefault("backend.processing.wait_timeout", 30*time.Second)
	v.SetDefault("backend.processing.error_backoff", 5*time.Second)
	v.SetDefault("backend.reaper.interval", 10*time.Minute)
	v.SetDefault("backend.reaper.timeout", 2*time.Hour)
	v.SetDefault("backend.reaper.retention", 24*time.Hour)
	v.SetDefault("backend.auth.secret", "")
	v.SetDefault("backend.auth.issuer", "chunk-relay")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{
		HTTP: HTTP{Host: v.GetString("backend.http.host"), Port: v.GetInt("backend.http.port")},
		DB: DB{
			Driver: v.GetString("backend.db.driver"),
			Path:   v.GetString("backend.db.path"),
			Host:   v.GetString("backend.db.host"),
			Port:   v.GetInt("backend.db.port"),
			User:   v.GetString("backend.db.user"),
			Pass:   v.GetString("backend.db.pass"),
			Name:   v.GetString("backend.db.name"),
		},
		Queue: queue.Config{
			Kind:         v.GetString("backend.queue.kind"),
			MessageTTL:   v.GetDuration("backend.queue.message_ttl"),
			LockDuration: v.GetDuration("backend.queue.lock_duration"),
			Redis: queue.RedisConfig{
				Addr:     v.GetString("backend.queue.redis.addr"),
				Password: v.GetString("backend.queue.redis.password"),
				DB:       v.GetInt("backend.queue.redis.db"),
				Group:    v.GetString("backend.queue.redis.group"),
				Consumer: v.GetString("backend.queue.redis.consumer"),
			},
			SQS: queue.SQSConfig{
				Region:    v.GetString("backend.queue.sqs.region"),
				Endpoint:  v.GetString("backend.queue.sqs.endpoint"),
				QueueURLs: v.GetStringMapString("backend.queue.sqs.queue_urls"),
			},
		},
		Processing: Processing{
			OutputDir:        v.GetString("backend.processing.output_dir"),
			TempDir:          v.GetString("backend.processing.temp_dir"),
			Workers:          v.GetInt("backend.processing.workers"),
			Shards:           v.GetInt("backend.processing.shards"),
			ProgressInterval: v.GetInt("backend.processing.progress_interval"),
			WaitTimeout:      v.GetDuration("backend.processing.wait_timeout"),
			ErrorBackoff:     v.GetDuration("backend.processing.error_backoff"),
		},
		Reaper: Reaper{
			Interval:  v.GetDuration("backend.reaper.interval"),
			Timeout:   v.GetDuration("backend.reaper.timeout"),
			Retention: v.GetDuration("backend.reaper.retention"),
		},
	}
	cfg.Auth.Secret = v.GetString("backend.auth.secret")
	cfg.Auth.Issuer = v.GetString("backend.auth.issuer")
	if cfg.Processing.Workers <= 0 {
		cfg.Processing.Workers = 1
	}
	if cfg.Queue.Redis.Group == "" {
		cfg.Queue.Redis.Group = "processing"
	}
	return cfg, nil
}
