package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoad_DefaultsWhenMissing(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def, _ := DefaultConfig()
	if !reflect.DeepEqual(cfg, def) {
		t.Fatalf("expected defaults\n got: %+v\nwant: %+v", cfg, def)
	}
	if cfg.CatalogPath != filepath.Join(home, ".skillmatch", "skills") {
		t.Fatalf("unexpected catalog path: %s", cfg.CatalogPath)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, _ := DefaultConfig()
	cfg.Matching.GapThreshold = 0.5
	cfg.External.Timeout = Duration(3 * time.Second)
	cfg.External.Sources = map[string]SourceConfig{
		"smithery": {PerMinute: 5, Policy: "wait", MaxWait: Duration(2 * time.Second)},
	}
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "timeout: 3s") {
		t.Fatalf("durations should be written as strings:\n%s", b)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Fatalf("round trip mismatch\n got: %+v\nwant: %+v", got, cfg)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SKILLMATCH_MATCHING_GAP_THRESHOLD", "0.25")
	t.Setenv("SKILLMATCH_EXTERNAL_DEFAULT_SOURCES", "glama, github-topics")
	t.Setenv("SKILLMATCH_EXTERNAL_DEADLINE", "45s")
	t.Setenv("SKILLMATCH_CATALOG_PATH", "~/my-skills")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Matching.GapThreshold != 0.25 {
		t.Fatalf("gap threshold not overridden: %v", cfg.Matching.GapThreshold)
	}
	if !reflect.DeepEqual(cfg.External.DefaultSources, []string{"glama", "github-topics"}) {
		t.Fatalf("sources not overridden: %v", cfg.External.DefaultSources)
	}
	if cfg.External.Deadline.D() != 45*time.Second {
		t.Fatalf("deadline not overridden: %v", cfg.External.Deadline)
	}
	home, _ := os.UserHomeDir()
	if cfg.CatalogPath != filepath.Join(home, "my-skills") {
		t.Fatalf("catalog path not expanded: %s", cfg.CatalogPath)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")

	for _, body := range []string{
		"matching:\n  gap_threshold: 1.5\n",
		"cache:\n  backend: redis\n",
		"external:\n  timeout: soon\n",
		"matching: [",
	} {
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error for %q", body)
		}
	}
}
