package shared

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeSelection(t *testing.T) {
	tc := []struct {
		name  string
		value string
		want  string
	}{
		{
			name:  "basic normalization",
			value: "Hip Hop",
			want:  "hip hop",
		},
		{
			name:  "extra whitespace",
			value: "  Hip   Hop  ",
			want:  "hip hop",
		},
		{
			name:  "mixed case",
			value: "ShOeGaZe",
			want:  "shoegaze",
		},
		{
			name:  "empty",
			value: "   ",
			want:  "",
		},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeSelection(tt.value)
			if got != tt.want {
				t.Errorf("NormalizeSelection() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoggers(t *testing.T) {
	t.Run("GenerateID is unique", func(t *testing.T) {
		a, b := GenerateID(), GenerateID()
		if a == "" || a == b {
			t.Errorf("expected two distinct ids, got %q and %q", a, b)
		}
	})

	t.Run("NewFileLogger creates parent directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "crate.log")
		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("failed to create file logger: %v", err)
		}
		logger.Info("hello")

		if _, err := os.Stat(path); err != nil {
			t.Errorf("log file should exist: %v", err)
		}
	})
}
