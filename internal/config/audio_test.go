package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAudio(t *testing.T) {
	path := writeConfig(t, `
[audio]
backend = "rpi-dma"
driver = "cs4272"
block_size = 32
channels = 2
sample_rate = 96000
priority = 70
input_base = 1
report_interval = "2s"

[audio.extra]
tone_hz = "440"
`)
	a, err := LoadAudio(path)
	if err != nil {
		t.Fatal(err)
	}
	want := Audio{
		Backend:        "rpi-dma",
		Driver:         "cs4272",
		BlockSize:      32,
		Channels:       2,
		SampleRate:     96000,
		Priority:       70,
		InputBase:      1,
		ReportInterval: 2 * time.Second,
		Extra:          map[string]string{"tone_hz": "440"},
	}
	if !a.Equal(want) {
		t.Errorf("got %+v\nwant %+v", a, want)
	}
}

func TestLoadAudioErrors(t *testing.T) {
	if _, err := LoadAudio(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("missing file should fail")
	}
	if _, err := LoadAudio(writeConfig(t, "[audio]\nreport_interval = \"often\"\n")); err == nil {
		t.Error("bad interval should fail")
	}
	if _, err := LoadAudio(writeConfig(t, "[audio]\nblock_size = \"big\"\n")); err == nil {
		t.Error("wrong type should fail")
	}
}

func TestAudioEqual(t *testing.T) {
	base := Audio{Backend: "sim", BlockSize: 64, Extra: map[string]string{"tone_hz": "440"}}
	tests := []struct {
		name  string
		other Audio
		want  bool
	}{
		{"same", Audio{Backend: "sim", BlockSize: 64, Extra: map[string]string{"tone_hz": "440"}}, true},
		{"block size", Audio{Backend: "sim", BlockSize: 32, Extra: map[string]string{"tone_hz": "440"}}, false},
		{"extra", Audio{Backend: "sim", BlockSize: 64, Extra: map[string]string{"tone_hz": "220"}}, false},
		{"interval", Audio{Backend: "sim", BlockSize: 64, ReportInterval: time.Second, Extra: map[string]string{"tone_hz": "440"}}, false},
	}
	for _, tt := range tests {
		if got := base.Equal(tt.other); got != tt.want {
			t.Errorf("%s: Equal = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestAudioMerge(t *testing.T) {
	defaults := Audio{Backend: "rpi-dma", Driver: "cs4272", BlockSize: 64, Channels: 2, Prefill: 2, Priority: 80, ReportInterval: time.Second}
	got := Audio{Backend: "sim", BlockSize: 16, InputBase: 1}.Merge(defaults)
	want := Audio{Backend: "sim", Driver: "cs4272", BlockSize: 16, Channels: 2, Prefill: 2, Priority: 80, InputBase: 1, ReportInterval: time.Second}
	if !got.Equal(want) {
		t.Errorf("Merge = %+v, want %+v", got, want)
	}
}
