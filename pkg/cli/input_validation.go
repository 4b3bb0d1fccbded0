// Package cli validates user-supplied command line input.
package cli

import (
	"fmt"
	"regexp"
	"strings"
)

// Tags become SQLite keys and appear in file names derived from them, so the
// accepted alphabet is kept narrow.
var tagPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

const maxTagLength = 64

// ValidateTag checks a state tag supplied on the command line.
func ValidateTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("tag must not be empty")
	}
	if len(tag) > maxTagLength {
		return fmt.Errorf("tag exceeds %d characters", maxTagLength)
	}
	if !tagPattern.MatchString(tag) {
		return fmt.Errorf("tag %q may only contain letters, digits, '.', '_' and '-'", tag)
	}
	return nil
}

// ValidatePath rejects directory traversal in user-supplied file paths.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path must not be empty")
	}
	if strings.Contains(path, "../") || strings.Contains(path, `..\`) {
		return fmt.Errorf("path %q must not contain directory traversal", path)
	}
	return nil
}
