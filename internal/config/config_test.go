package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

type testOptions struct {
	Config string

	StringField   string        `toml:"test.string_field" env:"STRING_FIELD"`
	BoolField     bool          `toml:"test.bool_field" env:"BOOL_FIELD"`
	IntField      int           `toml:"test.int_field" env:"INT_FIELD"`
	FloatField    float64       `toml:"test.float_field" env:"FLOAT_FIELD"`
	DurationField time.Duration `toml:"test.duration_field" env:"DURATION_FIELD"`
	SliceField    []string      `toml:"test.slice_field" env:"SLICE_FIELD"`
	NestedString  string        `toml:"nested.deep.value" env:"NESTED_VALUE"`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const testTOML = `
[test]
string_field = "hello world"
bool_field = true
int_field = 42
float_field = 1.5
duration_field = "250ms"
slice_field = ["item1", "item2"]

[nested.deep]
value = "nested value"
`

func TestLoadConfigFromTOML(t *testing.T) {
	opts := &testOptions{Config: writeConfig(t, testTOML)}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	want := testOptions{
		Config:        opts.Config,
		StringField:   "hello world",
		BoolField:     true,
		IntField:      42,
		FloatField:    1.5,
		DurationField: 250 * time.Millisecond,
		SliceField:    []string{"item1", "item2"},
		NestedString:  "nested value",
	}
	if !reflect.DeepEqual(*opts, want) {
		t.Errorf("got %+v\nwant %+v", *opts, want)
	}
}

func TestLoadConfigFromEnvVars(t *testing.T) {
	t.Setenv("FXNODE_STRING_FIELD", "env string")
	t.Setenv("FXNODE_BOOL_FIELD", "true")
	t.Setenv("FXNODE_INT_FIELD", "0x10")
	t.Setenv("FXNODE_DURATION_FIELD", "2s")
	t.Setenv("FXNODE_SLICE_FIELD", "a, b ,c")

	opts := &testOptions{}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if opts.StringField != "env string" || !opts.BoolField || opts.IntField != 16 {
		t.Errorf("basic fields = %+v", opts)
	}
	if opts.DurationField != 2*time.Second {
		t.Errorf("DurationField = %v", opts.DurationField)
	}
	if !reflect.DeepEqual(opts.SliceField, []string{"a", "b", "c"}) {
		t.Errorf("SliceField = %q", opts.SliceField)
	}
}

func TestLoadConfigEnvOverridesToml(t *testing.T) {
	t.Setenv("FXNODE_STRING_FIELD", "from env")

	opts := &testOptions{Config: writeConfig(t, testTOML)}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatal(err)
	}
	if opts.StringField != "from env" {
		t.Errorf("StringField = %q, want env value", opts.StringField)
	}
	if opts.IntField != 42 {
		t.Errorf("IntField = %d, want TOML value", opts.IntField)
	}
}

func TestLoadConfigCLIWins(t *testing.T) {
	t.Setenv("FXNODE_INT_FIELD", "7")

	cmd := &cobra.Command{Use: "test"}
	opts := &testOptions{Config: writeConfig(t, testTOML)}
	cmd.Flags().IntVar(&opts.IntField, "int-field", 0, "")
	if err := cmd.Flags().Set("int-field", "99"); err != nil {
		t.Fatal(err)
	}

	if err := LoadConfig(opts, cmd); err != nil {
		t.Fatal(err)
	}
	if opts.IntField != 99 {
		t.Errorf("IntField = %d, want CLI value 99", opts.IntField)
	}
	if opts.StringField != "hello world" {
		t.Errorf("StringField = %q, want TOML value", opts.StringField)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	opts := &testOptions{Config: filepath.Join(t.TempDir(), "absent.toml"), StringField: "default"}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if opts.StringField != "default" {
		t.Errorf("StringField = %q", opts.StringField)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		toml string
		env  map[string]string
	}{
		{"invalid TOML", "[test\nbroken", nil},
		{"wrong TOML type", "[test]\nint_field = \"many\"\n", nil},
		{"bad env int", "", map[string]string{"FXNODE_INT_FIELD": "many"}},
		{"bad env duration", "", map[string]string{"FXNODE_DURATION_FIELD": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			opts := &testOptions{Config: writeConfig(t, tt.toml)}
			if err := LoadConfig(opts, nil); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestFieldNameToFlag(t *testing.T) {
	tests := map[string]string{
		"Port":              "port",
		"AudioBlockSize":    "audio-block-size",
		"LoggingLevel":      "logging-level",
		"LoggingAPI":        "logging-api",
		"FIFOErrors":        "fifo-errors",
		"FeaturesStatusLed": "features-status-led",
	}
	for in, want := range tests {
		if got := fieldNameToFlag(in); got != want {
			t.Errorf("fieldNameToFlag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetNestedValue(t *testing.T) {
	data := map[string]any{
		"a": map[string]any{"b": map[string]any{"c": "deep"}},
		"x": "flat",
	}
	tests := []struct {
		path string
		want any
	}{
		{"a.b.c", "deep"},
		{"x", "flat"},
		{"x.y", nil},
		{"a.missing.c", nil},
	}
	for _, tt := range tests {
		if got := getNestedValue(data, tt.path); got != tt.want {
			t.Errorf("getNestedValue(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestLoadLoggingConfig(t *testing.T) {
	path := writeConfig(t, `
[logging]
level = "debug"
format = "json"
dmai2s = "warn"
api = "error"
`)
	cfg := LoadLoggingConfig(path)
	if cfg.Level != "debug" || cfg.Format != "json" {
		t.Errorf("global = %q/%q", cfg.Level, cfg.Format)
	}
	want := map[string]string{"dmai2s": "warn", "api": "error"}
	if !reflect.DeepEqual(cfg.Modules, want) {
		t.Errorf("Modules = %v, want %v", cfg.Modules, want)
	}

	def := LoadLoggingConfig("")
	if def.Level != "info" || def.Format != "text" || len(def.Modules) != 0 {
		t.Errorf("default = %+v", def)
	}
}
