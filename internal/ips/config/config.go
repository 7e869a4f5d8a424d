package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/OpenGG/install-profile-switch/internal/ips/paths"
)

// EnvPrefix is prepended to every environment override, e.g. IPS_INSTALL_ROOT.
const EnvPrefix = "IPS"

// Config keys, shared by config files, environment variables and bound flags.
const (
	KeyInstallRoot    = "install_root"
	KeyBaseName       = "base_name"
	KeyDescriptorName = "descriptor_name"
	KeySteamAppID     = "steam_app_id"
	KeyLogPath        = "log_path"
	KeyProcessName    = "process_name"
	KeyManifestPath   = "manifest_path"
	KeyLockPath       = "lock_path"
	KeyTimezone       = "timezone"
)

// ErrNoInstallRoot is returned when no installations root is configured.
var ErrNoInstallRoot = errors.New("install_root is not configured")

// Config holds the switcher configuration.
type Config struct {
	// InstallRoot is the directory holding the active installation and its
	// inactive siblings, typically Steam's steamapps/common.
	InstallRoot    string `mapstructure:"install_root"`
	BaseName       string `mapstructure:"base_name"`
	DescriptorName string `mapstructure:"descriptor_name"`
	SteamAppID     string `mapstructure:"steam_app_id"`
	// LogPath is relative to the active installation unless absolute.
	LogPath     string `mapstructure:"log_path"`
	ProcessName string `mapstructure:"process_name"`
	// ManifestPath defaults to <parent of InstallRoot>/appmanifest_<SteamAppID>.acf.
	ManifestPath string `mapstructure:"manifest_path"`
	// LockPath defaults to <InstallRoot>/.<BaseName>.switch.lock.
	LockPath string `mapstructure:"lock_path"`
	// Timezone is an IANA zone name for audit timestamps; empty means local.
	Timezone string `mapstructure:"timezone"`
}

// DefaultConfig returns a Config with the defaults for the Steam release of Among Us.
func DefaultConfig() *Config {
	return &Config{
		InstallRoot:    defaultInstallRoot(runtime.GOOS),
		BaseName:       "Among Us",
		DescriptorName: "id.yaml",
		SteamAppID:     "945360",
		LogPath:        filepath.Join("log", "switch.log"),
		ProcessName:    "Among Us.exe",
	}
}

func defaultInstallRoot(goos string) string {
	if goos == "windows" {
		return `C:\Program Files (x86)\Steam\steamapps\common`
	}
	return ""
}

// SetDefaults registers every key on v so environment overrides are seen by Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault(KeyInstallRoot, d.InstallRoot)
	v.SetDefault(KeyBaseName, d.BaseName)
	v.SetDefault(KeyDescriptorName, d.DescriptorName)
	v.SetDefault(KeySteamAppID, d.SteamAppID)
	v.SetDefault(KeyLogPath, d.LogPath)
	v.SetDefault(KeyProcessName, d.ProcessName)
	v.SetDefault(KeyManifestPath, d.ManifestPath)
	v.SetDefault(KeyLockPath, d.LockPath)
	v.SetDefault(KeyTimezone, d.Timezone)
}

// Load reads the configuration from file (optional), IPS_* environment
// variables and any flags already bound on v.
//
// An explicit file must exist. Without one, config.yaml is looked up in the
// user config directory and skipped when absent.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("config")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "ips"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	conf := &Config{}
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := conf.Normalize(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Normalize trims values, fills derived paths and validates the result.
func (c *Config) Normalize() error {
	c.InstallRoot = strings.TrimSpace(c.InstallRoot)
	c.BaseName = strings.TrimSpace(c.BaseName)
	c.DescriptorName = strings.TrimSpace(c.DescriptorName)
	c.SteamAppID = strings.TrimSpace(c.SteamAppID)

	if c.InstallRoot == "" {
		return ErrNoInstallRoot
	}
	root, err := filepath.Abs(c.InstallRoot)
	if err != nil {
		return fmt.Errorf("resolve install_root: %w", err)
	}
	c.InstallRoot = root

	if c.BaseName == "" {
		return errors.New("base_name cannot be empty")
	}
	if strings.ContainsAny(c.BaseName, `/\`) {
		return fmt.Errorf("base_name must be a folder name, got %q", c.BaseName)
	}
	if c.DescriptorName == "" {
		return errors.New("descriptor_name cannot be empty")
	}
	if c.LogPath == "" {
		c.LogPath = DefaultConfig().LogPath
	}
	if c.ManifestPath == "" && c.SteamAppID != "" {
		c.ManifestPath = filepath.Join(filepath.Dir(root), "appmanifest_"+c.SteamAppID+".acf")
	}
	if c.LockPath == "" {
		c.LockPath = c.Paths().DefaultLockPath()
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Paths returns the path builder for this configuration.
func (c *Config) Paths() *paths.PathBuilder {
	return paths.New(c.InstallRoot, c.BaseName, c.DescriptorName)
}

// Location returns the zone audit timestamps are written in.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
