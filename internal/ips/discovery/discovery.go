package discovery

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/OpenGG/install-profile-switch/internal/ips/descriptor"
	"github.com/OpenGG/install-profile-switch/internal/ips/domain"
	"github.com/OpenGG/install-profile-switch/internal/ips/paths"
	"github.com/OpenGG/install-profile-switch/internal/ips/storage"
)

// Profile is one parked installation whose descriptor agrees with its folder name.
type Profile struct {
	ID         string
	Dir        string
	Descriptor string
	Folder     string
}

// Conflict groups folders whose identifiers differ only by case.
type Conflict struct {
	ID      string
	Folders []string
}

// Listing is the result of a discovery scan.
type Listing struct {
	// Profiles are ordered naturally and case-insensitively by ID.
	Profiles []Profile
	// Conflicts are excluded from Profiles.
	Conflicts []Conflict
}

// Get looks up a profile by identifier, ignoring case.
func (l Listing) Get(id string) (Profile, bool) {
	for _, p := range l.Profiles {
		if strings.EqualFold(p.ID, id) {
			return p, true
		}
	}
	return Profile{}, false
}

// Conflict reports whether id is ambiguous.
func (l Listing) Conflict(id string) (Conflict, bool) {
	for _, c := range l.Conflicts {
		if strings.EqualFold(c.ID, id) {
			return c, true
		}
	}
	return Conflict{}, false
}

// IDs returns the identifiers of all accepted profiles in listing order.
func (l Listing) IDs() []string {
	ids := make([]string, 0, len(l.Profiles))
	for _, p := range l.Profiles {
		ids = append(ids, p.ID)
	}
	return ids
}

// Entry is one item of a directory listing.
type Entry struct {
	Name  string
	IsDir bool
}

// Resolver reads the descriptor inside the named folder.
type Resolver func(folder string) (Profile, error)

// Select filters a directory listing down to valid inactive profiles.
//
// Only directories named "<baseName> - <suffix>" are considered. A candidate is
// accepted when resolve succeeds and "<baseName> - <id>" reconstructs the folder
// name case-insensitively. Resolve failures skip the candidate.
func Select(entries []Entry, baseName string, resolve Resolver) Listing {
	prefix := baseName + paths.InactiveSeparator
	fold := cases.Fold()

	groups := make(map[string][]Profile)
	var order []string
	for _, entry := range entries {
		if !entry.IsDir || !strings.HasPrefix(entry.Name, prefix) {
			continue
		}
		profile, err := resolve(entry.Name)
		if err != nil {
			continue
		}
		if !strings.EqualFold(entry.Name, prefix+profile.ID) {
			continue
		}
		profile.Folder = entry.Name
		key := fold.String(profile.ID)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], profile)
	}

	var listing Listing
	for _, key := range order {
		group := groups[key]
		if len(group) == 1 {
			listing.Profiles = append(listing.Profiles, group[0])
			continue
		}
		conflict := Conflict{ID: group[0].ID}
		for _, p := range group {
			conflict.Folders = append(conflict.Folders, p.Folder)
		}
		sort.Strings(conflict.Folders)
		listing.Conflicts = append(listing.Conflicts, conflict)
	}

	SortProfiles(listing.Profiles)
	col := newCollator()
	sort.SliceStable(listing.Conflicts, func(i, j int) bool {
		return naturalLess(col, listing.Conflicts[i].ID, listing.Conflicts[j].ID)
	})
	return listing
}

// SortProfiles orders profiles by ID using natural, case-insensitive ordering.
func SortProfiles(profiles []Profile) {
	col := newCollator()
	sort.SliceStable(profiles, func(i, j int) bool {
		return naturalLess(col, profiles[i].ID, profiles[j].ID)
	})
}

func newCollator() *collate.Collator {
	return collate.New(language.Und, collate.IgnoreCase, collate.Numeric)
}

func naturalLess(col *collate.Collator, a, b string) bool {
	if c := col.CompareString(a, b); c != 0 {
		return c < 0
	}
	return a < b
}

// Discovery scans the installations root for inactive profiles.
type Discovery struct {
	storage *storage.Storage
	paths   *paths.PathBuilder
	reader  *descriptor.Reader
	logger  *slog.Logger
}

// New creates a new Discovery.
func New(storage *storage.Storage, paths *paths.PathBuilder, reader *descriptor.Reader, logger *slog.Logger) *Discovery {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Discovery{storage: storage, paths: paths, reader: reader, logger: logger}
}

var errNoDescriptor = errors.New("no descriptor file")

// List enumerates the direct subdirectories of the installations root and
// returns the accepted inactive profiles. It fails only when the root is missing.
func (d *Discovery) List() (Listing, error) {
	root := d.paths.Root()
	if ok, err := d.storage.DirExists(root); err != nil {
		return Listing{}, fmt.Errorf("failed to inspect installations root: %w", err)
	} else if !ok {
		return Listing{}, fmt.Errorf("installations root %s: %w", root, domain.ErrNotFound)
	}

	infos, err := d.storage.ReadDir(root)
	if err != nil {
		return Listing{}, fmt.Errorf("failed to read installations root: %w", err)
	}
	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, Entry{Name: info.Name(), IsDir: info.IsDir()})
	}

	listing := Select(entries, d.paths.BaseName(), d.resolve)
	for _, c := range listing.Conflicts {
		d.logger.Warn("ambiguous inactive profile",
			"id", c.ID,
			"folders", c.Folders)
	}
	return listing, nil
}

func (d *Discovery) resolve(folder string) (Profile, error) {
	dir := filepath.Join(d.paths.Root(), folder)
	descriptorPath := d.paths.Descriptor(dir)
	if ok, err := d.storage.FileExists(descriptorPath); err != nil {
		return Profile{}, err
	} else if !ok {
		d.logger.Debug("skipping folder without descriptor", "folder", folder)
		return Profile{}, errNoDescriptor
	}
	id, err := d.reader.Extract(descriptorPath)
	if err != nil {
		d.logger.Debug("skipping folder with unreadable descriptor",
			"folder", folder,
			"error", err)
		return Profile{}, err
	}
	return Profile{ID: id, Dir: dir, Descriptor: descriptorPath}, nil
}

// StagingLeftover reports whether the staging slot of an interrupted switch exists.
func (d *Discovery) StagingLeftover() (bool, error) {
	return d.storage.Exists(d.paths.StagingDir())
}
