package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewPathValidator(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name      string
		dir       string
		wantError bool
	}{
		{
			name:      "valid directory",
			dir:       tempDir,
			wantError: false,
		},
		{
			name:      "empty directory",
			dir:       "",
			wantError: true,
		},
		{
			name:      "non-existent directory",
			dir:       "/non/existent/path",
			wantError: false, // created on first write
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validator, err := NewPathValidator(tt.dir)
			if tt.wantError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !filepath.IsAbs(validator.Directory()) {
				t.Errorf("Directory() = %q, want an absolute path", validator.Directory())
			}
		})
	}
}

func TestPathValidator_Resolve(t *testing.T) {
	tempDir := t.TempDir()
	validator, err := NewPathValidator(tempDir)
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}

	tests := []struct {
		name      string
		path      string
		want      string
		wantError bool
	}{
		{name: "relative file", path: "form.pdf", want: filepath.Join(tempDir, "form.pdf")},
		{name: "nested new file", path: "out/filled.pdf", want: filepath.Join(tempDir, "out", "filled.pdf")},
		{name: "absolute inside", path: filepath.Join(tempDir, "a.pdf"), want: filepath.Join(tempDir, "a.pdf")},
		{name: "directory itself", path: tempDir, want: tempDir},
		{name: "null byte stripped", path: "form\x00.pdf", want: filepath.Join(tempDir, "form.pdf")},
		{name: "parent traversal", path: "../escape.pdf", wantError: true},
		{name: "traversal through subdir", path: "out/../../escape.pdf", wantError: true},
		{name: "absolute outside", path: "/etc/passwd", wantError: true},
		{name: "sibling with shared prefix", path: tempDir + "-other/x.pdf", wantError: true},
		{name: "empty path", path: "", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := validator.Resolve(tt.path)
			if tt.wantError {
				if err == nil {
					t.Errorf("Resolve(%q) = %q, want error", tt.path, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q) unexpected error: %v", tt.path, err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestPathValidator_ResolveSymlinkEscape(t *testing.T) {
	tempDir := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(tempDir, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	validator, err := NewPathValidator(tempDir)
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}

	if _, err := validator.Resolve("link/form.pdf"); err == nil {
		t.Error("Expected a path through a symlink leaving the directory to be refused")
	}

	inner := filepath.Join(tempDir, "inner")
	if err := os.Mkdir(inner, 0o750); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.Symlink(inner, filepath.Join(tempDir, "alias")); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}
	if _, err := validator.Resolve("alias/form.pdf"); err != nil {
		t.Errorf("Symlink staying inside the directory refused: %v", err)
	}
}

func TestValidateFile(t *testing.T) {
	tempDir := t.TempDir()
	pdf := filepath.Join(tempDir, "form.pdf")
	if err := os.WriteFile(pdf, []byte("%PDF-1.7 test"), 0o600); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	empty := filepath.Join(tempDir, "empty.pdf")
	if err := os.WriteFile(empty, nil, 0o600); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		maxSize int64
		wantErr string
	}{
		{name: "valid", path: pdf, maxSize: 1024},
		{name: "no limit", path: pdf, maxSize: 0},
		{name: "missing", path: filepath.Join(tempDir, "missing.pdf"), maxSize: 1024, wantErr: "cannot access"},
		{name: "directory", path: tempDir, maxSize: 1024, wantErr: "is a directory"},
		{name: "empty", path: empty, maxSize: 1024, wantErr: "file is empty"},
		{name: "too large", path: pdf, maxSize: 4, wantErr: "file too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, err := ValidateFile(tt.path, tt.maxSize)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				if size != 13 {
					t.Errorf("size = %d, want 13", size)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateFile() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
