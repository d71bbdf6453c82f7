package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Store         StoreConfig
	Dataset       DatasetConfig
	Generation    GenerationConfig
	Pipeline      PipelineConfig
	Checkpoint    CheckpointConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type StoreConfig struct {
	Path            string
	ClientsFile     string
	AllocationsFile string
}

type DatasetSource string

const (
	DatasetSourceFS DatasetSource = "fs"
	DatasetSourceS3 DatasetSource = "s3"
)

type DatasetConfig struct {
	Source          DatasetSource
	Dir             string
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Prefix          string
}

type GenerationConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// SubjectGraderMode selects the subject_grader implementation: "llm" calls
// the text-generation capability, "fixed:yes" / "fixed:no" pin the verdict.
type PipelineConfig struct {
	SubjectGraderMode string
	RowLimit          int
}

type CheckpointBackend string

const (
	CheckpointMemory   CheckpointBackend = "memory"
	CheckpointPostgres CheckpointBackend = "postgres"
)

type CheckpointConfig struct {
	Backend         CheckpointBackend
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("FINQUERY_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid FINQUERY_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(lookup, "FINQUERY_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "FINQUERY_HTTP_ADDR", &cfg.HTTP.Address); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "FINQUERY_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "FINQUERY_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "FINQUERY_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "FINQUERY_STORE_PATH", &cfg.Store.Path); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "FINQUERY_STORE_CLIENTS_FILE", &cfg.Store.ClientsFile); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "FINQUERY_STORE_ALLOCATIONS_FILE", &cfg.Store.AllocationsFile); err != nil {
		return Config{}, err
	}
	if raw, ok := lookup("FINQUERY_DATASET_SOURCE"); ok {
		source := DatasetSource(strings.ToLower(strings.TrimSpace(raw)))
		if source != DatasetSourceFS && source != DatasetSourceS3 {
			return Config{}, fmt.Errorf("invalid FINQUERY_DATASET_SOURCE: %q", raw)
		}
		cfg.Dataset.Source = source
	}
	if err := applyString(lookup, "FINQUERY_DATASET_DIR", &cfg.Dataset.Dir); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "FINQUERY_DATASET_S3_ENDPOINT", &cfg.Dataset.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "FINQUERY_DATASET_S3_REGION", &cfg.Dataset.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "FINQUERY_DATASET_S3_BUCKET", &cfg.Dataset.Bucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "FINQUERY_DATASET_S3_ACCESS_KEY", &cfg.Dataset.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "FINQUERY_DATASET_S3_SECRET_KEY", &cfg.Dataset.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "FINQUERY_DATASET_S3_USE_SSL", &cfg.Dataset.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "FINQUERY_DATASET_S3_PREFIX", &cfg.Dataset.Prefix); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "FINQUERY_GENERATION_BASE_URL", &cfg.Generation.BaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "FINQUERY_GENERATION_API_KEY", &cfg.Generation.APIKey); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "FINQUERY_GENERATION_MODEL", &cfg.Generation.Model); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "FINQUERY_GENERATION_TEMPERATURE", &cfg.Generation.Temperature); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "FINQUERY_GENERATION_TIMEOUT", &cfg.Generation.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "FINQUERY_GENERATION_MAX_RETRIES", &cfg.Generation.MaxRetries); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "FINQUERY_PIPELINE_SUBJECT_GRADER", &cfg.Pipeline.SubjectGraderMode); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "FINQUERY_PIPELINE_ROW_LIMIT", &cfg.Pipeline.RowLimit); err != nil {
		return Config{}, err
	}
	if raw, ok := lookup("FINQUERY_CHECKPOINT_BACKEND"); ok {
		backend := CheckpointBackend(strings.ToLower(strings.TrimSpace(raw)))
		if backend != CheckpointMemory && backend != CheckpointPostgres {
			return Config{}, fmt.Errorf("invalid FINQUERY_CHECKPOINT_BACKEND: %q", raw)
		}
		cfg.Checkpoint.Backend = backend
	}
	if err := applyString(lookup, "FINQUERY_CHECKPOINT_DSN", &cfg.Checkpoint.DSN); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "FINQUERY_CHECKPOINT_MAX_OPEN_CONNS", &cfg.Checkpoint.MaxOpenConns); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "FINQUERY_CHECKPOINT_MAX_IDLE_CONNS", &cfg.Checkpoint.MaxIdleConns); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "FINQUERY_CHECKPOINT_CONN_MAX_IDLE_TIME", &cfg.Checkpoint.ConnMaxIdleTime); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "FINQUERY_CHECKPOINT_CONN_MAX_LIFETIME", &cfg.Checkpoint.ConnMaxLifetime); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "FINQUERY_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "FINQUERY_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Store.Path == "" {
		return Config{}, fmt.Errorf("store path is required")
	}
	if cfg.Checkpoint.Backend == CheckpointPostgres && cfg.Checkpoint.DSN == "" {
		return Config{}, fmt.Errorf("checkpoint dsn is required for the postgres backend")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "finquery-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Store: StoreConfig{
			Path:            "db/financial_advisor_data.db",
			ClientsFile:     "financial_advisor_clients.csv",
			AllocationsFile: "client_target_allocations.csv",
		},
		Dataset: DatasetConfig{
			Source:   DatasetSourceFS,
			Dir:      "data",
			Endpoint: "localhost:9000",
			Region:   "us-east-1",
			Bucket:   "finquery",
			UseSSL:   false,
		},
		Generation: GenerationConfig{
			BaseURL:     "https://api.openai.com",
			Model:       "gpt-4o-mini",
			Temperature: 0,
			Timeout:     15 * time.Second,
			MaxRetries:  1,
		},
		Pipeline: PipelineConfig{
			SubjectGraderMode: "fixed:yes",
			RowLimit:          0,
		},
		Checkpoint: CheckpointConfig{
			Backend:         CheckpointMemory,
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Pipeline.SubjectGraderMode = "llm"
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
