package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout_seconds: 30
auth:
  enabled: true
  api_key: secret
source:
  kind: board
  base_url: https://boards.example.com
  user_agent: sentinel-test
  timeout_seconds: 20
  fetch_media: false
scorer:
  lexicon_path: /etc/sentinel/lexicon.yaml
classifier:
  base_url: http://localhost:11434
  text_model: llama3
  vision_model: llava
  timeout_seconds: 45
  breaker_threshold: 5
scan:
  min_fetch_interval_ms: 500
  max_retries: 2
  retention_minutes: 120
  evidence_prefix: scans
db:
  dsn: postgres://sentinel@localhost/sentinel
  max_conns: 4
pubsub:
  project_id: proj
  topic_name: sentinel-alerts
evidence:
  kind: gcs
  gcs_bucket: sentinel-evidence
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Source.Kind != SourceBoard || cfg.Source.BaseURL != "https://boards.example.com" {
		t.Fatalf("expected board source overrides to apply: %+v", cfg.Source)
	}
	if cfg.Source.FetchMedia {
		t.Fatalf("expected fetch_media override to false")
	}
	if !cfg.Classifier.Enabled() || cfg.Classifier.BreakerThreshold != 5 {
		t.Fatalf("expected classifier overrides to apply: %+v", cfg.Classifier)
	}
	if cfg.DB.DSN == "" || cfg.DB.MaxConns != 4 {
		t.Fatalf("expected db overrides to apply: %+v", cfg.DB)
	}
	if cfg.Evidence.Kind != EvidenceGCS || cfg.Evidence.GCSBucket != "sentinel-evidence" {
		t.Fatalf("expected gcs evidence store: %+v", cfg.Evidence)
	}
	if got := cfg.MinFetchInterval(); got != 500*time.Millisecond {
		t.Fatalf("expected fetch interval 500ms, got %v", got)
	}
	if got := cfg.Retention(); got != 2*time.Hour {
		t.Fatalf("expected retention 2h, got %v", got)
	}
	if got := cfg.ClassifierTimeout(); got != 45*time.Second {
		t.Fatalf("expected classifier timeout 45s, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Source.Kind != SourceMemory {
		t.Fatalf("expected default memory source, got %q", cfg.Source.Kind)
	}
	if cfg.Evidence.Kind != EvidenceMemory {
		t.Fatalf("expected default memory evidence store, got %q", cfg.Evidence.Kind)
	}
	if cfg.Classifier.Enabled() {
		t.Fatalf("expected classifiers disabled by default")
	}
	if got := cfg.SweepInterval(); got != time.Minute {
		t.Fatalf("expected default sweep interval 1m, got %v", got)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Source: SourceConfig{Kind: SourceMemory, TimeoutSeconds: 15},
		Scan:   ScanConfig{RetentionMinutes: 60},
		Evidence: EvidenceConfig{
			Kind: EvidenceMemory,
		},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "unknown source kind",
			cfg: func() Config {
				c := base
				c.Source.Kind = "telegraph"
				return c
			}(),
			want: "source.kind",
		},
		{
			name: "board missing base url",
			cfg: func() Config {
				c := base
				c.Source.Kind = SourceBoard
				return c
			}(),
			want: "source.base_url",
		},
		{
			name: "classifier missing timeout",
			cfg: func() Config {
				c := base
				c.Classifier.BaseURL = "http://localhost:11434"
				return c
			}(),
			want: "classifier.timeout_seconds",
		},
		{
			name: "invalid retention",
			cfg: func() Config {
				c := base
				c.Scan.RetentionMinutes = 0
				return c
			}(),
			want: "scan.retention_minutes",
		},
		{
			name: "gcs missing bucket",
			cfg: func() Config {
				c := base
				c.Evidence.Kind = EvidenceGCS
				return c
			}(),
			want: "evidence.gcs_bucket",
		},
		{
			name: "local missing base dir",
			cfg: func() Config {
				c := base
				c.Evidence.Kind = EvidenceLocal
				return c
			}(),
			want: "evidence.base_dir",
		},
		{
			name: "pubsub half configured",
			cfg: func() Config {
				c := base
				c.PubSub.ProjectID = "proj"
				return c
			}(),
			want: "pubsub",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
