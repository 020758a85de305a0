package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	pkgconfig "github.com/starford/filedesk/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	rc := cfg.ResourceConfigs()
	if len(rc) != 1 || rc[0].Driver != "local" || !rc[0].Writable {
		t.Errorf("resource configs = %+v", rc)
	}
}

func TestStorages_Validation(t *testing.T) {
	tests := []struct {
		name     string
		storages []StorageConfig
		wantErr  string
	}{
		{"none", nil, "at least one storage"},
		{"unknown driver", []StorageConfig{{UID: 1, Name: "x", Driver: "ftp"}}, "unknown driver"},
		{"missing name", []StorageConfig{{UID: 1, Driver: "memory"}}, "name"},
		{"zero uid", []StorageConfig{{Name: "x", Driver: "memory"}}, "uid"},
		{"duplicate uid", []StorageConfig{
			{UID: 3, Name: "a", Driver: "memory"},
			{UID: 3, Name: "b", Driver: "memory"},
		}, "duplicate uid 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Storages = tt.storages
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(strings.ToLower(err.Error()), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestUploadConfig_NegativeRejected(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.App.Upload.MaxBytes = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative max_bytes should fail")
	}
}

func TestLoad_StoragesFromYAML(t *testing.T) {
	t.Setenv("FILEDESK_TEST_BUCKET", "media")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
app:
  http:
    port: 9090
sqlite:
  path: ./test.db
storages:
  - uid: 1
    name: Scratch
    driver: memory
    writable: true
  - uid: 2
    name: Archive
    driver: s3
    options:
      bucket: ${FILEDESK_TEST_BUCKET}
      region: eu-west-1
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTP.Port != 9090 {
		t.Errorf("port = %d", cfg.App.HTTP.Port)
	}
	if len(cfg.Storages) != 2 {
		t.Fatalf("storages = %+v", cfg.Storages)
	}
	if cfg.Storages[0].Driver != "memory" || cfg.Storages[0].Options != nil {
		t.Errorf("storage 1 = %+v", cfg.Storages[0])
	}
	if cfg.Storages[1].Options["bucket"] != "media" {
		t.Errorf("bucket not expanded: %+v", cfg.Storages[1].Options)
	}
	if cfg.App.Upload.MaxBytes != 50<<20 {
		t.Errorf("default upload limit lost: %d", cfg.App.Upload.MaxBytes)
	}
}
