package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
redis:
  addr: localhost:6379
workspaces:
  - internal/main
models:
  - name: claude
    api_model: claude-sonnet-4
    dialect: anthropic
    think: anthropic
    native_tools: true
    context_tokens: 200000
    recent_tokens: 50000
persona:
  model: claude
  default_enabled: true
`

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadValid(t *testing.T) {
	path := write(t, t.TempDir(), "ndp.yaml", validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("redis addr = %q", cfg.Redis.Addr)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Fatalf("logging defaults = %+v", cfg.Logging)
	}
	m, ok := cfg.Catalog()["claude"]
	if !ok || !m.NativeTools || m.ContextTokens != 200000 {
		t.Fatalf("catalog entry = %+v", m)
	}
	persona := cfg.Persona.Persona()
	if persona.Model != "claude" || !persona.DefaultEnabled {
		t.Fatalf("persona = %+v", persona)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("NDP_TEST_REDIS", "redis.internal:6379")
	yaml := strings.Replace(validYAML, "localhost:6379", "${NDP_TEST_REDIS}", 1)
	path := write(t, t.TempDir(), "ndp.yaml", yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.Addr != "redis.internal:6379" {
		t.Fatalf("redis addr = %q, env not expanded", cfg.Redis.Addr)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "base.yaml", validYAML)
	path := write(t, dir, "ndp.yaml", `
$include: base.yaml
dev: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Dev {
		t.Fatal("dev override lost")
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Fatal("included base lost")
	}
}

func TestEnvExpansionKeepsIncludeDirective(t *testing.T) {
	// Only ${VAR} references expand; a bare $include must reach the
	// include resolver even when an "include" variable exists.
	t.Setenv("include", "hijacked.yaml")
	dir := t.TempDir()
	write(t, dir, "base.yaml", validYAML)
	path := write(t, dir, "ndp.yaml", `
$include: base.yaml
dev: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Dev || cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("dev=%v addr=%q, include directive mangled", cfg.Dev, cfg.Redis.Addr)
	}
}

func TestLoadIncludeCycleFails(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.yaml", "$include: b.yaml\n")
	path := write(t, dir, "b.yaml", "$include: a.yaml\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("err = %v, want include cycle", err)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := write(t, t.TempDir(), "ndp.json5", `{
  // comments are fine in json5
  redis: {addr: "localhost:6379"},
  workspaces: ["internal/main"],
  models: [{
    name: "claude",
    api_model: "claude-sonnet-4",
    dialect: "anthropic",
    think: "anthropic",
    native_tools: true,
    context_tokens: 200000,
    recent_tokens: 50000,
  }],
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Models) != 1 || cfg.Models[0].Name != "claude" {
		t.Fatalf("models = %+v", cfg.Models)
	}
}

func TestValidateRejections(t *testing.T) {
	if err := (&Config{}).Validate(); err == nil || !strings.Contains(err.Error(), "at least one model") {
		t.Fatalf("empty config err = %v, want model requirement", err)
	}

	cases := []struct {
		name    string
		mangle  string
		replace string
		want    string
	}{
		{"bad dialect", "dialect: anthropic", "dialect: cohere", "unknown dialect"},
		{"unknown persona model", "model: claude\n  default_enabled: true", "model: ghost\n  default_enabled: true", "unknown model"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			yaml := strings.Replace(validYAML, tc.mangle, tc.replace, 1)
			path := write(t, t.TempDir(), "ndp.yaml", yaml)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	path := write(t, t.TempDir(), "ndp.yaml", validYAML+"\nmystery_knob: 7\n")
	if _, err := Load(path); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestJSONSchema(t *testing.T) {
	raw, err := JSONSchema()
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	for _, want := range []string{"redis", "models", "persona"} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("schema missing %q", want)
		}
	}
}
