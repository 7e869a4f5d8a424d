package paths

import "path/filepath"

const (
	// InactiveSeparator joins the base name and the identifier of a parked installation.
	InactiveSeparator = " - "
	// StagingSuffix marks the directory that only exists while a switch is in flight.
	StagingSuffix = ".__SWITCHING__"
	// LockSuffix names the lock file guarding a switch.
	LockSuffix = ".switch.lock"
	// FallbackLogSuffix names the log written when the active installation is missing.
	FallbackLogSuffix = ".switch.log"
)

// PathBuilder provides methods to construct installation paths relative to the installations root.
type PathBuilder struct {
	root           string
	baseName       string
	descriptorName string
}

// New creates a new PathBuilder.
func New(root, baseName, descriptorName string) *PathBuilder {
	return &PathBuilder{root: root, baseName: baseName, descriptorName: descriptorName}
}

// Root returns the installations root.
func (p *PathBuilder) Root() string {
	return p.root
}

// BaseName returns the directory name of the active installation.
func (p *PathBuilder) BaseName() string {
	return p.baseName
}

// DescriptorName returns the descriptor file name inside each installation.
func (p *PathBuilder) DescriptorName() string {
	return p.descriptorName
}

// ActiveDir returns the directory the application runs from.
func (p *PathBuilder) ActiveDir() string {
	return filepath.Join(p.root, p.baseName)
}

// ActiveDescriptor returns the descriptor path of the active installation.
func (p *PathBuilder) ActiveDescriptor() string {
	return p.Descriptor(p.ActiveDir())
}

// InactivePrefix returns the folder name prefix shared by all parked installations.
func (p *PathBuilder) InactivePrefix() string {
	return p.baseName + InactiveSeparator
}

// InactiveFolder returns the folder name of a parked installation.
func (p *PathBuilder) InactiveFolder(id string) string {
	return p.InactivePrefix() + id
}

// InactiveDir returns the path of a parked installation.
func (p *PathBuilder) InactiveDir(id string) string {
	return filepath.Join(p.root, p.InactiveFolder(id))
}

// StagingDir returns the transient directory used mid-switch.
func (p *PathBuilder) StagingDir() string {
	return filepath.Join(p.root, p.baseName+StagingSuffix)
}

// DefaultLockPath returns the lock file used when none is configured.
func (p *PathBuilder) DefaultLockPath() string {
	return filepath.Join(p.root, "."+p.baseName+LockSuffix)
}

// FallbackLogPath returns the log file next to the lock, used while the
// active installation is missing.
func (p *PathBuilder) FallbackLogPath() string {
	return filepath.Join(p.root, "."+p.baseName+FallbackLogSuffix)
}

// IsSlot reports whether path names a direct child of the root.
func (p *PathBuilder) IsSlot(path string) bool {
	clean := filepath.Clean(path)
	return filepath.Dir(clean) == filepath.Clean(p.root) && filepath.Base(clean) != ".."
}

// Descriptor returns the descriptor path inside dir.
func (p *PathBuilder) Descriptor(dir string) string {
	return filepath.Join(dir, p.descriptorName)
}

// LogPath resolves the audit log location. Relative paths live inside the
// active installation, so the log travels with it.
func (p *PathBuilder) LogPath(configured string) string {
	if filepath.IsAbs(configured) {
		return configured
	}
	return filepath.Join(p.ActiveDir(), configured)
}
