package utils

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithinDir(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"direct child", filepath.Join(dir, "a.png"), true},
		{"nested", filepath.Join(dir, "images", "a.png"), true},
		{"sibling", filepath.Join(filepath.Dir(dir), "other", "a.png"), false},
		{"parent escape", filepath.Join(dir, "..", "a.png"), false},
		{"absolute elsewhere", "/etc/passwd", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WithinDir(dir, tt.path))
		})
	}
}
