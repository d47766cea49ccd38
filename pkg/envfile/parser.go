// Package envfile parses shell-style variable files and KEY=VALUE assignments
// used to feed build definition templates.
package envfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Parse reads a shell-style variable file and returns its key-value pairs.
// It handles:
// - KEY=VALUE format, with an optional leading "export "
// - KEY="VALUE" and KEY='VALUE' (quotes are stripped)
// - Comments (lines starting with #)
// - Empty lines (skipped)
// - Values containing = signs (only first = is used as delimiter)
func Parse(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	vars, err := ParseReader(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vars, nil
}

// ParseReader parses variable lines from r.
func ParseReader(r io.Reader) (map[string]string, error) {
	vars := make(map[string]string)
	scanner := bufio.NewScanner(r)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, err := splitAssignment(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		vars[key] = value
	}

	return vars, scanner.Err()
}

// ParseAssignments parses command line style KEY=VALUE pairs. Later
// assignments override earlier ones.
func ParseAssignments(assignments []string) (map[string]string, error) {
	vars := make(map[string]string, len(assignments))
	for _, a := range assignments {
		key, value, err := splitAssignment(a)
		if err != nil {
			return nil, err
		}
		vars[key] = value
	}
	return vars, nil
}

func splitAssignment(s string) (string, string, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return "", "", fmt.Errorf("invalid assignment %q: expected KEY=VALUE", s)
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", fmt.Errorf("invalid assignment %q: empty key", s)
	}

	return key, unquote(strings.TrimSpace(value)), nil
}

func unquote(value string) string {
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			return value[1 : len(value)-1]
		}
	}
	return value
}
