package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Registry  RegistryConfig
	Dispatch  DispatchConfig
	Pipeline  PipelineConfig
	LocalML   LocalMLConfig
	Replicate ReplicateConfig
	Suno      SunoConfig
	Groq      GroqConfig
	Audio     AudioConfig
	Storage   StorageConfig
	R2        R2Config
	Minio     MinioConfig
	Fanout    FanoutConfig
	Archive   ArchiveConfig
	Auth      AuthConfig
	JWT       JWTConfig
	Zitadel   ZitadelConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port          string
	Env           string
	LogLevel      string
	PublicBaseURL string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RegistryConfig struct {
	Driver          string // memory | redis
	Retention       time.Duration
	JanitorInterval time.Duration
}

type DispatchConfig struct {
	Driver            string // inprocess | asynq
	Concurrency       int
	MaxConcurrentJobs int
}

// PipelineConfig holds the ordered backend candidates and the per-attempt
// time box for each stage. Stage keys use the stage names with dashes
// replaced by underscores (prepare_source, separate_stems, ...).
type PipelineConfig struct {
	WorkDir  string
	Backends map[string][]string
	Timeouts map[string]time.Duration
}

type LocalMLConfig struct {
	BaseURL string
	Timeout int // seconds
}

type ReplicateConfig struct {
	APIToken      string
	BaseURL       string
	DemucsModel   string
	MusicgenModel string
	WhisperModel  string
	PollInterval  time.Duration
}

type SunoConfig struct {
	APIKey  string
	BaseURL string
}

type GroqConfig struct {
	APIKey             string
	BaseURL            string
	TranscriptionModel string
}

type AudioConfig struct {
	ServiceURL string
	Timeout    int // seconds
}

type StorageConfig struct {
	UploadDir  string
	PublicDir  string
	PublicPath string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
}

type FanoutConfig struct {
	RedisRelay   bool
	AMQPURL      string
	AMQPExchange string
	WriteTimeout time.Duration
}

type ArchiveConfig struct {
	Driver string // memory | postgres
	DSN    string
	Size   int
}

type AuthConfig struct {
	Mode string // none | gateway | jwt
}

type JWTConfig struct {
	Secret string
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type RateLimitConfig struct {
	SubmitPerHour int
}

// StageKeys lists the configuration keys of the pipeline stages in
// execution order.
var StageKeys = []string{
	"prepare_source",
	"separate_stems",
	"generate_backing",
	"remix",
	"transcribe_lyrics",
	"finalize",
}

func Load() (*Config, error) {
	// Local development convenience; missing file is fine
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("REPLICATE_API_TOKEN")
	readSecret("GROQ_API_KEY")
	readSecret("SUNO_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("MINIO_SECRET_KEY")
	readSecret("ARCHIVE_DSN")
	readSecret("AMQP_URL")
	readSecret("JWT_SECRET")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	bind := func(key, env string) { _ = v.BindEnv(key, env) }
	bind("server.port", "SERVER_PORT")
	bind("server.env", "SERVER_ENV")
	bind("server.log_level", "LOG_LEVEL")
	bind("server.public_base_url", "PUBLIC_BASE_URL")
	bind("redis.addr", "REDIS_ADDR")
	bind("redis.password", "REDIS_PASSWORD")
	bind("redis.db", "REDIS_DB")
	bind("registry.driver", "REGISTRY_DRIVER")
	bind("registry.retention", "REGISTRY_RETENTION")
	bind("registry.janitor_interval", "REGISTRY_JANITOR_INTERVAL")
	bind("dispatch.driver", "DISPATCH_DRIVER")
	bind("dispatch.concurrency", "DISPATCH_CONCURRENCY")
	bind("dispatch.max_concurrent_jobs", "MAX_CONCURRENT_JOBS")
	bind("pipeline.workdir", "PIPELINE_WORKDIR")
	bind("localml.base_url", "LOCAL_ML_BASE_URL")
	bind("localml.timeout", "LOCAL_ML_TIMEOUT")
	bind("replicate.api_token", "REPLICATE_API_TOKEN")
	bind("replicate.base_url", "REPLICATE_BASE_URL")
	bind("replicate.demucs_model", "REPLICATE_DEMUCS_MODEL")
	bind("replicate.musicgen_model", "REPLICATE_MUSICGEN_MODEL")
	bind("replicate.whisper_model", "REPLICATE_WHISPER_MODEL")
	bind("suno.api_key", "SUNO_API_KEY")
	bind("suno.base_url", "SUNO_BASE_URL")
	bind("groq.api_key", "GROQ_API_KEY")
	bind("groq.base_url", "GROQ_BASE_URL")
	bind("groq.transcription_model", "GROQ_TRANSCRIPTION_MODEL")
	bind("audio.service_url", "AUDIO_SERVICE_URL")
	bind("audio.timeout", "AUDIO_SERVICE_TIMEOUT")
	bind("storage.upload_dir", "UPLOAD_DIR")
	bind("storage.public_dir", "PUBLIC_DIR")
	bind("storage.public_path", "PUBLIC_PATH")
	bind("r2.account_id", "R2_ACCOUNT_ID")
	bind("r2.access_key_id", "R2_ACCESS_KEY_ID")
	bind("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	bind("r2.bucket_name", "R2_BUCKET_NAME")
	bind("r2.public_url", "R2_PUBLIC_URL")
	bind("minio.endpoint", "MINIO_ENDPOINT")
	bind("minio.access_key", "MINIO_ACCESS_KEY")
	bind("minio.secret_key", "MINIO_SECRET_KEY")
	bind("minio.bucket", "MINIO_BUCKET")
	bind("minio.use_ssl", "MINIO_USE_SSL")
	bind("minio.public_url", "MINIO_PUBLIC_URL")
	bind("fanout.redis_relay", "FANOUT_REDIS_RELAY")
	bind("fanout.amqp_url", "AMQP_URL")
	bind("fanout.amqp_exchange", "AMQP_EXCHANGE")
	bind("fanout.write_timeout", "FANOUT_WRITE_TIMEOUT")
	bind("archive.driver", "ARCHIVE_DRIVER")
	bind("archive.dsn", "ARCHIVE_DSN")
	bind("archive.size", "MAX_COMPLETED_JOBS")
	bind("auth.mode", "AUTH_MODE")
	bind("jwt.secret", "JWT_SECRET")
	bind("zitadel.domain", "ZITADEL_DOMAIN")
	bind("zitadel.client_id", "ZITADEL_CLIENT_ID")
	bind("zitadel.issuer", "ZITADEL_ISSUER")
	bind("ratelimit.submit_per_hour", "SUBMIT_PER_HOUR")
	for _, stage := range StageKeys {
		upper := strings.ToUpper(stage)
		bind("pipeline.backends."+stage, "PIPELINE_BACKENDS_"+upper)
		bind("pipeline.timeouts."+stage, "PIPELINE_TIMEOUT_"+upper)
	}

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.public_base_url", "http://localhost:8000")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("registry.driver", "memory")
	v.SetDefault("registry.retention", 5*time.Minute)
	v.SetDefault("registry.janitor_interval", time.Minute)
	v.SetDefault("dispatch.driver", "inprocess")
	v.SetDefault("dispatch.concurrency", 10)
	v.SetDefault("dispatch.max_concurrent_jobs", 0)
	v.SetDefault("pipeline.workdir", "./data/work")

	// Backend order per stage
	v.SetDefault("pipeline.backends.prepare_source", []string{"upload", "fetch"})
	v.SetDefault("pipeline.backends.separate_stems", []string{"localml", "replicate", "suno"})
	v.SetDefault("pipeline.backends.generate_backing", []string{"localml", "replicate", "suno"})
	v.SetDefault("pipeline.backends.remix", []string{"audio", "ffmpeg"})
	v.SetDefault("pipeline.backends.transcribe_lyrics", []string{"localml", "replicate", "groq"})
	v.SetDefault("pipeline.backends.finalize", []string{"r2", "minio", "local"})
	v.SetDefault("pipeline.timeouts.prepare_source", 20*time.Second)
	v.SetDefault("pipeline.timeouts.separate_stems", 10*time.Minute)
	v.SetDefault("pipeline.timeouts.generate_backing", 10*time.Minute)
	v.SetDefault("pipeline.timeouts.remix", 2*time.Minute)
	v.SetDefault("pipeline.timeouts.transcribe_lyrics", 5*time.Minute)
	v.SetDefault("pipeline.timeouts.finalize", time.Minute)

	// Backend defaults
	v.SetDefault("localml.timeout", 600)
	v.SetDefault("replicate.base_url", "https://api.replicate.com/v1")
	v.SetDefault("replicate.demucs_model", "cjwbw/demucs")
	v.SetDefault("replicate.musicgen_model", "meta/musicgen")
	v.SetDefault("replicate.whisper_model", "openai/whisper")
	v.SetDefault("suno.base_url", "https://api.sunoapi.org")
	v.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("groq.transcription_model", "whisper-large-v3")
	v.SetDefault("audio.timeout", 120)

	// Storage defaults
	v.SetDefault("storage.upload_dir", "./data/uploads")
	v.SetDefault("storage.public_dir", "./data/public")
	v.SetDefault("storage.public_path", "/media")

	// Fan-out and archive defaults
	v.SetDefault("fanout.redis_relay", false)
	v.SetDefault("fanout.amqp_exchange", "genreswap.jobs")
	v.SetDefault("fanout.write_timeout", 10*time.Second)
	v.SetDefault("archive.driver", "memory")
	v.SetDefault("archive.size", 100)
	v.SetDefault("auth.mode", "none")
	v.SetDefault("ratelimit.submit_per_hour", 0)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	pipeline := PipelineConfig{
		WorkDir:  v.GetString("pipeline.workdir"),
		Backends: make(map[string][]string, len(StageKeys)),
		Timeouts: make(map[string]time.Duration, len(StageKeys)),
	}
	for _, stage := range StageKeys {
		pipeline.Backends[stage] = splitList(v.GetStringSlice("pipeline.backends." + stage))
		pipeline.Timeouts[stage] = v.GetDuration("pipeline.timeouts." + stage)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:          v.GetString("server.port"),
			Env:           v.GetString("server.env"),
			LogLevel:      v.GetString("server.log_level"),
			PublicBaseURL: strings.TrimRight(v.GetString("server.public_base_url"), "/"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Registry: RegistryConfig{
			Driver:          v.GetString("registry.driver"),
			Retention:       v.GetDuration("registry.retention"),
			JanitorInterval: v.GetDuration("registry.janitor_interval"),
		},
		Dispatch: DispatchConfig{
			Driver:            v.GetString("dispatch.driver"),
			Concurrency:       v.GetInt("dispatch.concurrency"),
			MaxConcurrentJobs: v.GetInt("dispatch.max_concurrent_jobs"),
		},
		Pipeline: pipeline,
		LocalML: LocalMLConfig{
			BaseURL: strings.TrimRight(v.GetString("localml.base_url"), "/"),
			Timeout: v.GetInt("localml.timeout"),
		},
		Replicate: ReplicateConfig{
			APIToken:      v.GetString("replicate.api_token"),
			BaseURL:       v.GetString("replicate.base_url"),
			DemucsModel:   v.GetString("replicate.demucs_model"),
			MusicgenModel: v.GetString("replicate.musicgen_model"),
			WhisperModel:  v.GetString("replicate.whisper_model"),
			PollInterval:  2 * time.Second,
		},
		Suno: SunoConfig{
			APIKey:  v.GetString("suno.api_key"),
			BaseURL: v.GetString("suno.base_url"),
		},
		Groq: GroqConfig{
			APIKey:             v.GetString("groq.api_key"),
			BaseURL:            v.GetString("groq.base_url"),
			TranscriptionModel: v.GetString("groq.transcription_model"),
		},
		Audio: AudioConfig{
			ServiceURL: v.GetString("audio.service_url"),
			Timeout:    v.GetInt("audio.timeout"),
		},
		Storage: StorageConfig{
			UploadDir:  v.GetString("storage.upload_dir"),
			PublicDir:  v.GetString("storage.public_dir"),
			PublicPath: v.GetString("storage.public_path"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Minio: MinioConfig{
			Endpoint:  v.GetString("minio.endpoint"),
			AccessKey: v.GetString("minio.access_key"),
			SecretKey: v.GetString("minio.secret_key"),
			Bucket:    v.GetString("minio.bucket"),
			UseSSL:    v.GetBool("minio.use_ssl"),
			PublicURL: v.GetString("minio.public_url"),
		},
		Fanout: FanoutConfig{
			RedisRelay:   v.GetBool("fanout.redis_relay"),
			AMQPURL:      v.GetString("fanout.amqp_url"),
			AMQPExchange: v.GetString("fanout.amqp_exchange"),
			WriteTimeout: v.GetDuration("fanout.write_timeout"),
		},
		Archive: ArchiveConfig{
			Driver: v.GetString("archive.driver"),
			DSN:    v.GetString("archive.dsn"),
			Size:   v.GetInt("archive.size"),
		},
		Auth: AuthConfig{
			Mode: v.GetString("auth.mode"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		Zitadel: ZitadelConfig{
			Domain:   v.GetString("zitadel.domain"),
			ClientID: v.GetString("zitadel.client_id"),
			Issuer:   v.GetString("zitadel.issuer"),
		},
		RateLimit: RateLimitConfig{
			SubmitPerHour: v.GetInt("ratelimit.submit_per_hour"),
		},
	}

	return cfg, nil
}

// splitList accepts both yaml lists and comma separated env values. The
// token "none" yields an empty candidate list.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			part = strings.TrimSpace(part)
			if part != "" && part != "none" {
				out = append(out, part)
			}
		}
	}
	return out
}
