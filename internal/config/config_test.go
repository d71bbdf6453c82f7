package config

import (
	"log/slog"
	"testing"
	"time"
)

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("finquery-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Store.Path != "db/financial_advisor_data.db" {
		t.Fatalf("Store.Path = %q", cfg.Store.Path)
	}
	if cfg.Dataset.Source != DatasetSourceFS {
		t.Fatalf("Dataset.Source = %q", cfg.Dataset.Source)
	}
	if cfg.Generation.Temperature != 0 {
		t.Fatalf("Generation.Temperature = %v", cfg.Generation.Temperature)
	}
	if cfg.Pipeline.SubjectGraderMode != "fixed:yes" {
		t.Fatalf("Pipeline.SubjectGraderMode = %q", cfg.Pipeline.SubjectGraderMode)
	}
	if cfg.Checkpoint.Backend != CheckpointMemory {
		t.Fatalf("Checkpoint.Backend = %q", cfg.Checkpoint.Backend)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
}

func TestLoadProdProfileUsesLLMSubjectGrader(t *testing.T) {
	cfg, err := Load("finquery-api", mapLookup(map[string]string{
		"FINQUERY_PROFILE": "prod",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pipeline.SubjectGraderMode != "llm" {
		t.Fatalf("Pipeline.SubjectGraderMode = %q", cfg.Pipeline.SubjectGraderMode)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
}

func TestLoadAppliesOverrides(t *testing.T) {
	cfg, err := Load("finquery-api", mapLookup(map[string]string{
		"FINQUERY_HTTP_ADDR":               ":9999",
		"FINQUERY_HTTP_READ_TIMEOUT":       "2s",
		"FINQUERY_STORE_PATH":              "/tmp/advisor.db",
		"FINQUERY_DATASET_SOURCE":          "s3",
		"FINQUERY_DATASET_S3_BUCKET":       "datasets",
		"FINQUERY_GENERATION_MODEL":        "llama3-70b-8192",
		"FINQUERY_GENERATION_MAX_RETRIES":  "3",
		"FINQUERY_PIPELINE_SUBJECT_GRADER": "fixed:no",
		"FINQUERY_CHECKPOINT_BACKEND":      "postgres",
		"FINQUERY_CHECKPOINT_DSN":          "postgres://localhost/finquery",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %v", cfg.HTTP.ReadTimeout)
	}
	if cfg.Dataset.Source != DatasetSourceS3 {
		t.Fatalf("Dataset.Source = %q", cfg.Dataset.Source)
	}
	if cfg.Dataset.Bucket != "datasets" {
		t.Fatalf("Dataset.Bucket = %q", cfg.Dataset.Bucket)
	}
	if cfg.Generation.Model != "llama3-70b-8192" {
		t.Fatalf("Generation.Model = %q", cfg.Generation.Model)
	}
	if cfg.Generation.MaxRetries != 3 {
		t.Fatalf("Generation.MaxRetries = %d", cfg.Generation.MaxRetries)
	}
	if cfg.Checkpoint.Backend != CheckpointPostgres {
		t.Fatalf("Checkpoint.Backend = %q", cfg.Checkpoint.Backend)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"profile":      {"FINQUERY_PROFILE": "staging"},
		"duration":     {"FINQUERY_HTTP_READ_TIMEOUT": "soon"},
		"int":          {"FINQUERY_GENERATION_MAX_RETRIES": "many"},
		"float":        {"FINQUERY_GENERATION_TEMPERATURE": "warm"},
		"log level":    {"FINQUERY_LOG_LEVEL": "loud"},
		"source":       {"FINQUERY_DATASET_SOURCE": "ftp"},
		"backend":      {"FINQUERY_CHECKPOINT_BACKEND": "redis"},
		"pg needs dsn": {"FINQUERY_CHECKPOINT_BACKEND": "postgres"},
	}
	for name, env := range cases {
		if _, err := Load("finquery-api", mapLookup(env)); err == nil {
			t.Fatalf("Load() with invalid %s should fail", name)
		}
	}
}
