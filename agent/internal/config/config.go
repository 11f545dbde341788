package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"chunk-relay/queue"
	"chunk-relay/transfer"

	"github.com/spf13/viper"
)

type AppConfig struct {
	LogPath           string
	DBPath            string
	SourceID          string
	InputDir          string
	Extensions        []string
	ChunkSizeKB       int
	ChecksumAlgorithm string
	SettleDelay       time.Duration
	ResultWait        time.Duration
	ErrorBackoff      time.Duration
	ProgressEvery     int
	Queue             queue.Config
	Auth              struct {
		Secret string
		Issuer string
	}
}

var cfg AppConfig

// Init reads the agent section of the config file at path. A missing file
// leaves the defaults in place.
func Init(path string) AppConfig {
	host, _ := os.Hostname()
	if host == "" {
		host = "agent"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CHUNKRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// defaults
	v.SetDefault("agent.log_path", "")
	v.SetDefault("agent.db_path", filepath.Join(os.TempDir(), "chunk-relay", "agent.db"))
	v.SetDefault("agent.source_id", host)
	v.SetDefault("agent.input_dir", "input")
	v.SetDefault("agent.extensions", []string{".pdf", ".mp4", ".zip", ".docx"})
	v.SetDefault("agent.chunk_size_kb", transfer.DefaultChunkSize/1024)
	v.SetDefault("agent.checksum_algorithm", transfer.AlgSHA256)
	v.SetDefault("agent.settle_delay", 2*time.Second)
	v.SetDefault("agent.result_wait", 5*time.Second)
	v.SetDefault("agent.error_backoff", 5*time.Second)
	v.SetDefault("agent.progress_every", 50)
	v.SetDefault("agent.queue.kind", "redis")
	v.SetDefault("agent.queue.message_ttl", queue.DefaultMessageTTL)
	v.SetDefault("agent.queue.lock_duration", queue.DefaultLockDuration)
	v.SetDefault("agent.queue.redis.addr", "127.0.0.1:6379")
	v.SetDefault("agent.queue.redis.group", "agent-"+host)
	v.SetDefault("agent.auth.secret", "")
	v.SetDefault("agent.auth.issuer", "chunk-relay")
	_ = v.ReadInConfig()

	cfg = AppConfig{
		LogPath:           v.GetString("agent.log_path"),
		DBPath:            v.GetString("agent.db_path"),
		SourceID:          v.GetString("agent.source_id"),
		InputDir:          v.GetString("agent.input_dir"),
		Extensions:        v.GetStringSlice("agent.extensions"),
		ChunkSizeKB:       v.GetInt("agent.chunk_size_kb"),
		ChecksumAlgorithm: v.GetString("agent.checksum_algorithm"),
		SettleDelay:       v.GetDuration("agent.settle_delay"),
		ResultWait:        v.GetDuration("agent.result_wait"),
		ErrorBackoff:      v.GetDuration("agent.error_backoff"),
		ProgressEvery:     v.GetInt("agent.progress_every"),
		Queue: queue.Config{
			Kind:         v.GetString("agent.queue.kind"),
			MessageTTL:   v.GetDuration("agent.queue.message_ttl"),
			LockDuration: v.GetDuration("agent.queue.lock_duration"),
			Redis: queue.RedisConfig{
				Addr:     v.GetString("agent.queue.redis.addr"),
				Password: v.GetString("agent.queue.redis.password"),
				DB:       v.GetInt("agent.queue.redis.db"),
				Group:    v.GetString("agent.queue.redis.group"),
				Consumer: v.GetString("agent.queue.redis.consumer"),
			},
			SQS: queue.SQSConfig{
				Region:    v.GetString("agent.queue.sqs.region"),
				Endpoint:  v.GetString("agent.queue.sqs.endpoint"),
				QueueURLs: v.GetStringMapString("agent.queue.sqs.queue_urls"),
			},
		},
	}
	cfg.Auth.Secret = v.GetString("agent.auth.secret")
	cfg.Auth.Issuer = v.GetString("agent.auth.issuer")
	return cfg
}

func Get() AppConfig { return cfg }

// ChunkSize returns the configured chunk size in bytes.
func (c AppConfig) ChunkSize() int {
	if c.ChunkSizeKB <= 0 {
		return transfer.DefaultChunkSize
	}
	return c.ChunkSizeKB * 1024
}
