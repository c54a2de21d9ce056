// Package utils holds small helpers shared by the HTTP layer and the CLI.
package utils

import (
	"strconv"
	"strings"
)

// AtoiDefault parses s as an int, returning def when s is empty or invalid.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ParsePage reads 1-based page and page size values. A missing or invalid
// page is 1; the size defaults to def and is bounded to [1, maxSize].
func ParsePage(page, size string, def, maxSize int) (int, int) {
	p := max(AtoiDefault(page, 1), 1)
	s := min(max(AtoiDefault(size, def), 1), maxSize)
	return p, s
}

// SplitList splits a comma separated list, dropping blanks and duplicates
// while keeping the first occurrence order.
func SplitList(s string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, dup := seen[part]; dup {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}
