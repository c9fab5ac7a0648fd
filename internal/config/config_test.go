package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"compendium/internal/compendium"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "compendium.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ParsesBuilderAndExecutionSections(t *testing.T) {
	path := writeConfig(t, `
builder:
  working_directories:
    - /work
  data_sources:
    - pattern: "*.csv"
      action: include
    - pattern: "secrets/**"
      action: exclude
  ignored_data_objects:
    - "*.tmp"
  secret_env_vars:
    - API_KEY
execution:
  parallelism: 4
  job_timeout: 30s
`)

	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Builder.WorkingDirectories) != 1 || c.Builder.WorkingDirectories[0] != "/work" {
		t.Fatalf("unexpected working directories: %+v", c.Builder.WorkingDirectories)
	}
	if c.Execution.Parallelism != 4 {
		t.Fatalf("expected parallelism 4, got %d", c.Execution.Parallelism)
	}
	if c.Execution.JobTimeout != 30*time.Second {
		t.Fatalf("expected 30s timeout, got %s", c.Execution.JobTimeout)
	}
}

func TestLoad_DefaultsParallelismToOne(t *testing.T) {
	path := writeConfig(t, "builder:\n  working_directories: [/work]\n")
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Execution.Parallelism != 1 {
		t.Fatalf("expected default parallelism 1, got %d", c.Execution.Parallelism)
	}
}

func TestBuilderConfig_TranslatesDataSourceActions(t *testing.T) {
	path := writeConfig(t, `
builder:
  data_sources:
    - pattern: "*.csv"
      action: include
`)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	bc, err := c.BuilderConfig()
	if err != nil {
		t.Fatal(err)
	}
	if len(bc.DataSources) != 1 || bc.DataSources[0].Action != compendium.Include {
		t.Fatalf("expected translated include rule, got %+v", bc.DataSources)
	}
}

func TestBuilderConfig_RejectsUnknownAction(t *testing.T) {
	path := writeConfig(t, `
builder:
  data_sources:
    - pattern: "*.csv"
      action: quarantine
`)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.BuilderConfig(); err == nil {
		t.Fatal("expected unknown action to be rejected")
	}
}
