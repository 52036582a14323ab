package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rupor-github/gencfg"

	"ketav/common"
)

func TestLoadConfiguration_NoFile(t *testing.T) {
	cfg, err := LoadConfiguration("")
	if err != nil {
		t.Fatalf("LoadConfiguration() with empty path error = %v", err)
	}

	if cfg == nil {
		t.Fatal("LoadConfiguration() returned nil config")
	}

	if cfg.Version != 1 {
		t.Errorf("Default config version = %d, want 1", cfg.Version)
	}
	if !cfg.Reader.SuppressStyles {
		t.Error("Expected styles to be suppressed by default")
	}
	if cfg.Reader.Handles.Mode != common.HandleModeMemory {
		t.Errorf("Default handle mode = %s, want memory", cfg.Reader.Handles.Mode)
	}
	if cfg.Reader.BoundaryClass == "" {
		t.Error("Expected default boundary class")
	}
}

func TestLoadConfiguration_WithFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `version: 1
reader:
  suppress_styles: false
  boundary_class: chapter-part
  handles:
    mode: file
    directory: ` + tmpDir + `
    inline_limit: 1024
  cover:
    width: 200
    height: 300
    jpeg_quality_level: 90
logging:
  console:
    level: normal
  file:
    level: debug
    destination: ` + filepath.Join(tmpDir, "test.log") + `
    mode: append
reporting:
  destination: ` + filepath.Join(tmpDir, "report.zip") + `
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := LoadConfiguration(configPath)
	if err != nil {
		t.Fatalf("LoadConfiguration() error = %v", err)
	}

	if cfg.Reader.SuppressStyles {
		t.Error("Expected SuppressStyles to be false")
	}
	if cfg.Reader.BoundaryClass != "chapter-part" {
		t.Errorf("BoundaryClass = %q, want chapter-part", cfg.Reader.BoundaryClass)
	}
	if cfg.Reader.Handles.Mode != common.HandleModeFile {
		t.Errorf("Handles.Mode = %s, want file", cfg.Reader.Handles.Mode)
	}
	if cfg.Reader.Handles.InlineLimit != 1024 {
		t.Errorf("InlineLimit = %d, want 1024", cfg.Reader.Handles.InlineLimit)
	}
	if cfg.Reader.Cover.Quality != 90 {
		t.Errorf("Cover.Quality = %d, want 90", cfg.Reader.Cover.Quality)
	}
	if cfg.Logging.FileLogger.Mode != "append" {
		t.Errorf("FileLogger.Mode = %q, want append", cfg.Logging.FileLogger.Mode)
	}
}

func TestLoadConfiguration_PartialFileKeepsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "partial.yaml")

	if err := os.WriteFile(configPath, []byte("version: 1\nreader:\n  handles:\n    mode: inline\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := LoadConfiguration(configPath)
	if err != nil {
		t.Fatalf("LoadConfiguration() error = %v", err)
	}
	if cfg.Reader.Handles.Mode != common.HandleModeInline {
		t.Errorf("Handles.Mode = %s, want inline", cfg.Reader.Handles.Mode)
	}
	if cfg.Reader.Cover.Width != 300 {
		t.Errorf("Cover.Width = %d, want default 300", cfg.Reader.Cover.Width)
	}
	if !cfg.Reader.SuppressStyles {
		t.Error("Expected default SuppressStyles to survive partial file")
	}
}

func TestLoadConfiguration_NonExistentFile(t *testing.T) {
	_, err := LoadConfiguration("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Expected error for nonexistent file")
	}
}

func TestLoadConfiguration_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid version", "version: 2\n"},
		{"unknown handle mode", "version: 1\nreader:\n  handles:\n    mode: blob\n"},
		{"unknown field", "version: 1\nreader:\n  prefer_blob_url: true\n"},
		{"quality out of range", "version: 1\nreader:\n  cover:\n    jpeg_quality_level: 10\n"},
		{"broken yaml", "version: 1\nreader:\n  suppress_styles: true\n  invalid indent\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.content), 0644); err != nil {
				t.Fatalf("Failed to write config file: %v", err)
			}
			if _, err := LoadConfiguration(configPath); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestLoadConfiguration_WithOptions(t *testing.T) {
	option := func(opts *gencfg.ProcessingOptions) {
		// Options are opaque, just test that we can pass them
	}

	cfg, err := LoadConfiguration("", option)
	if err != nil {
		t.Fatalf("LoadConfiguration() with options error = %v", err)
	}

	if cfg == nil {
		t.Fatal("LoadConfiguration() returned nil config")
	}
}

func TestPrepare(t *testing.T) {
	data, err := Prepare()
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	if len(data) == 0 {
		t.Error("Prepare() returned empty data")
	}

	cfg := &Config{}
	if _, err = unmarshalConfig(data, cfg, true); err != nil {
		t.Errorf("Prepared config is not valid: %v", err)
	}
}

func TestDump(t *testing.T) {
	cfg, err := LoadConfiguration("")
	if err != nil {
		t.Fatalf("LoadConfiguration() error = %v", err)
	}
	cfg.Reader.Handles.Mode = common.HandleModeInline

	data, err := Dump(cfg)
	if err != nil {
		t.Fatalf("Dump() error = %v", err)
	}
	if !strings.Contains(string(data), "mode: inline") {
		t.Errorf("Dump() does not contain textual handle mode:\n%s", data)
	}

	cfg2 := &Config{}
	if _, err = unmarshalConfig(data, cfg2, false); err != nil {
		t.Fatalf("Dumped config cannot be loaded: %v", err)
	}
	if cfg2.Reader.Handles.Mode != common.HandleModeInline {
		t.Errorf("Handle mode after dump/load = %s, want inline", cfg2.Reader.Handles.Mode)
	}
}
