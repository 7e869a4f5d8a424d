package descriptor

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/OpenGG/install-profile-switch/internal/ips/domain"
	"github.com/OpenGG/install-profile-switch/internal/ips/storage"
	"github.com/OpenGG/install-profile-switch/internal/ips/validator"
)

const profileSection = "profile:"

// idLinePattern matches `id: value`, `id: "value"` or `id: 'value'`, with an
// optional trailing comment. Quoted and bare values land in groups 1-3.
var idLinePattern = regexp.MustCompile(`(?m)^[ \t]*id[ \t]*:[ \t]*(?:"([^\r\n"#]+)"|'([^\r\n'#]+)'|([^\r\n"'#]+?))[ \t]*(?:#[^\r\n]*)?\r?$`)

// Reader extracts installation identifiers from descriptor files.
type Reader struct {
	storage *storage.Storage
}

// New creates a new descriptor Reader.
func New(storage *storage.Storage) *Reader {
	return &Reader{storage: storage}
}

// Extract returns the sanitized identifier declared by the descriptor at path.
//
// The `id:` key is looked up after the first `profile:` section; when that
// section is absent or has no id, the whole text is searched instead.
func (r *Reader) Extract(path string) (string, error) {
	data, err := r.storage.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("descriptor %s: %w", path, domain.ErrNotFound)
		}
		return "", fmt.Errorf("read descriptor %s: %w", path, err)
	}

	raw, ok := Parse(string(data))
	if !ok {
		return "", fmt.Errorf("profile id not found in %s: %w", path, domain.ErrMalformedDescriptor)
	}
	id, err := validator.Sanitize(raw)
	if err != nil {
		return "", fmt.Errorf("descriptor %s: %w", path, err)
	}
	return id, nil
}

// Parse finds the raw identifier value in descriptor text.
func Parse(text string) (string, bool) {
	if pos := strings.Index(text, profileSection); pos >= 0 {
		if value, ok := firstID(text[pos:]); ok {
			return value, true
		}
	}
	return firstID(text)
}

func firstID(text string) (string, bool) {
	m := idLinePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	for _, group := range m[1:] {
		if group != "" {
			return strings.TrimSpace(group), true
		}
	}
	return "", false
}
