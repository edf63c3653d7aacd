package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadTokenFile reads a direct login token from the first line of path.
// Surrounding whitespace is ignored.
func ReadTokenFile(path string) (string, error) {
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 -- path supplied by the user on the command line
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}

	line, _, _ := strings.Cut(string(data), "\n")
	token := strings.TrimSpace(line)
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", cleanPath)
	}
	return token, nil
}
