package config

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"10s", 10 * time.Second, false},
		{"1m", 1 * time.Minute, false},
		{"1.5h", 90 * time.Minute, false},
		{"1d", 24 * time.Hour, false},
		{"1w", 168 * time.Hour, false},
		{"2d2h", 50 * time.Hour, false},
		{"100ms", 100 * time.Millisecond, false},
		{"invalid", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseDuration(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.expected {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
		wantErr  bool
	}{
		{"1024", 1024, false},
		{"512B", 512, false},
		{"1KB", 1024, false},
		{"1kb", 1024, false},
		{"2.5MB", 2621440, false},
		{"", 0, false},
		{"-1KB", 0, true},
		{"10x", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseByteSize(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseByteSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.expected {
			t.Errorf("ParseByteSize(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestYAMLUnmarshal(t *testing.T) {
	type TestConfig struct {
		Time Duration `yaml:"time"`
		Size ByteSize `yaml:"size"`
		Raw  ByteSize `yaml:"raw"`
	}

	yamlData := `
time: 2d
size: 4KB
raw: 2000
`
	var cfg TestConfig
	if err := yaml.Unmarshal([]byte(yamlData), &cfg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if time.Duration(cfg.Time) != 48*time.Hour {
		t.Errorf("Expected 48h, got %v", time.Duration(cfg.Time))
	}
	if cfg.Size != 4096 {
		t.Errorf("Expected 4096, got %v", cfg.Size)
	}
	if cfg.Raw != 2000 {
		t.Errorf("Expected 2000, got %v", cfg.Raw)
	}
}

func TestByteSizeMarshal(t *testing.T) {
	tests := map[ByteSize]string{
		1024:    "1KB",
		3 << 20: "3MB",
		1500:    "1500B",
	}
	for in, want := range tests {
		got, err := in.MarshalYAML()
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("MarshalYAML(%d) = %v, want %s", in, got, want)
		}
	}
}
