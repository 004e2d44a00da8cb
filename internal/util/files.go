package util

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	controlChars = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	invalidChars = regexp.MustCompile(`[\\/:*?"<>|]`)
	dashRuns     = regexp.MustCompile(`-+`)
)

// reservedNames cannot be used as file names on Windows.
var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

const maxFilenameLength = 180

// SanitizeFilename turns an attachment name taken from a message into a
// single safe path component. It never returns an empty string.
func SanitizeFilename(name string) string {
	safe := controlChars.ReplaceAllString(name, "")
	safe = invalidChars.ReplaceAllString(safe, "-")
	safe = dashRuns.ReplaceAllString(safe, "-")
	safe = strings.Trim(safe, " .-")

	if len(safe) > maxFilenameLength {
		ext := filepath.Ext(safe)
		if len(ext) > 16 {
			ext = ""
		}
		safe = strings.TrimRight(truncateUTF8(safe[:len(safe)-len(ext)], maxFilenameLength-len(ext)), " .-") + ext
	}

	stem := strings.TrimSuffix(safe, filepath.Ext(safe))
	if reservedNames[strings.ToUpper(stem)] {
		safe = "_" + safe
	}
	if safe == "" {
		safe = "attachment"
	}
	return safe
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// EnsureWritableDir creates dir when missing and checks that files can be
// written inside it.
func EnsureWritableDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("directory path cannot be empty")
	}
	clean := filepath.Clean(dir)

	info, err := os.Stat(clean)
	switch {
	case err == nil && !info.IsDir():
		return fmt.Errorf("path exists but is not a directory: %s", clean)
	case os.IsNotExist(err):
		if err := os.MkdirAll(clean, 0755); err != nil {
			return fmt.Errorf("cannot create directory: %w", err)
		}
	case err != nil:
		return fmt.Errorf("cannot access path: %w", err)
	}

	probe, err := os.CreateTemp(clean, ".mailpulse_write_check_*")
	if err != nil {
		return fmt.Errorf("no write permission for directory %s: %w", clean, err)
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}

// WithinDir reports whether path resolves inside dir.
func WithinDir(dir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
