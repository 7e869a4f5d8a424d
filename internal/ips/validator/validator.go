package validator

import (
	"regexp"
	"strings"

	"github.com/OpenGG/install-profile-switch/internal/ips/domain"
)

var invalidCharsPattern = regexp.MustCompile(`[/:*?"<>|\x00]`)

// Sanitize trims whitespace and validates an installation identifier. The
// identifier ends up as the suffix of a directory name, so the function rejects:
//   - Empty names or whitespace-only names
//   - Characters reserved for path separation or pattern matching (/:*?"<>|)
//   - Null bytes
//
// Returns the trimmed identifier, or an error wrapping domain.ErrInvalidIdentifier.
func Sanitize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", domain.ErrIdentifierEmpty
	}
	if invalidCharsPattern.MatchString(trimmed) {
		return "", domain.ErrIdentifierInvalidChars
	}
	return trimmed, nil
}

// Equal compares two identifiers case-insensitively.
func Equal(a, b string) bool {
	return strings.EqualFold(a, b)
}
