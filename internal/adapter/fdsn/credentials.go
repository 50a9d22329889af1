package fdsn

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ReadCredentials reads a two-line file: username, then password.
func ReadCredentials(path string) (user, password string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrCredentials, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() && len(lines) < 2 {
		lines = append(lines, strings.TrimSpace(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return "", "", fmt.Errorf("%w: read %s: %w", ErrCredentials, path, err)
	}
	if len(lines) < 2 || lines[0] == "" || lines[1] == "" {
		return "", "", fmt.Errorf("%w: %s must hold a username line and a password line", ErrCredentials, path)
	}
	return lines[0], lines[1], nil
}
