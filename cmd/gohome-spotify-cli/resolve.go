package main

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var separators = regexp.MustCompile(`[\s\-_]+`)

// normalizeName folds case and runs of spaces, dashes and underscores so
// "Living Room" and "living-room" compare equal.
func normalizeName(name string) string {
	return separators.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
}

func resolveNamedID(kind, input string, options map[string]string) (string, error) {
	needle := normalizeName(input)
	var matches []string
	for label, id := range options {
		if normalizeName(label) == needle {
			matches = append(matches, id)
		}
	}
	if len(matches) == 1 {
		return matches[0], nil
	}

	available := make([]string, 0, len(options))
	for label := range options {
		available = append(available, label)
	}
	sort.Strings(available)
	if len(matches) > 1 {
		return "", fmt.Errorf("%s %q is ambiguous; use the device id", kind, input)
	}
	return "", fmt.Errorf("%s %q not found. Available: %s", kind, input, strings.Join(available, ", "))
}
