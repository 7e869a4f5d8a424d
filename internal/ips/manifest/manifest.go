package manifest

import (
	"regexp"

	"github.com/OpenGG/install-profile-switch/internal/ips/storage"
)

var buildIDPattern = regexp.MustCompile(`"buildid"\s*"(\d+)"`)

// Reader extracts the build id from a Steam appmanifest_<appid>.acf file.
type Reader struct {
	storage *storage.Storage
	path    string
}

// New creates a Reader for the manifest at path. An empty path disables it.
func New(storage *storage.Storage, path string) *Reader {
	return &Reader{storage: storage, path: path}
}

// BuildID returns the build id, or "" when the manifest is absent or has none.
func (r *Reader) BuildID() string {
	if r == nil || r.path == "" {
		return ""
	}
	data, err := r.storage.ReadFile(r.path)
	if err != nil {
		return ""
	}
	if m := buildIDPattern.FindSubmatch(data); m != nil {
		return string(m[1])
	}
	return ""
}
