package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "EXECKIT"

// FileSystem abstracts the file operations of the loader.
type FileSystem interface {
	Exists(path string) bool
	LoadEnv(path string) error
	UserConfigDir() (string, error)
}

// RealFileSystem implements FileSystem on the host.
type RealFileSystem struct{}

func (RealFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LoadEnv loads a .env file without overriding variables already set.
func (RealFileSystem) LoadEnv(path string) error {
	return godotenv.Load(path)
}

func (RealFileSystem) UserConfigDir() (string, error) {
	return os.UserConfigDir()
}

// Resolver finds config and env files.
type Resolver struct {
	FileSystem FileSystem
}

// ResolvedFiles holds the resolved config and env file paths. Empty means
// none was found.
type ResolvedFiles struct {
	ConfigFile string
	EnvFile    string
}

// ResolveFiles returns the explicit paths from opts, searching standard
// locations for the ones not given.
func (r *Resolver) ResolveFiles(name string, opts LoaderConfig) ResolvedFiles {
	resolved := ResolvedFiles{
		ConfigFile: opts.ConfigFile,
		EnvFile:    opts.EnvFile,
	}
	if resolved.ConfigFile == "" {
		resolved.ConfigFile = r.first(r.configSearchPaths(name))
	}
	if resolved.EnvFile == "" {
		resolved.EnvFile = r.first([]string{"./.env." + name, "./.env"})
	}
	return resolved
}

// configSearchPaths lists config locations in priority order.
func (r *Resolver) configSearchPaths(name string) []string {
	paths := []string{
		fmt.Sprintf("./%s.yml", name),
		fmt.Sprintf("./%s.yaml", name),
		fmt.Sprintf("./config/%s.yml", name),
		fmt.Sprintf("./cmd/%s/config.yml", name),
		"./config.yml",
	}
	if dir, err := r.FileSystem.UserConfigDir(); err == nil && dir != "" {
		paths = append(paths, filepath.Join(dir, name, "config.yml"))
	}
	return paths
}

func (r *Resolver) first(paths []string) string {
	for _, path := range paths {
		if r.FileSystem.Exists(path) {
			return path
		}
	}
	return ""
}

// LoaderConfig holds the loader dependencies and file overrides.
type LoaderConfig struct {
	FileSystem FileSystem
	ConfigFile string
	EnvFile    string
	Defaults   map[string]any
}

// LoaderOption configures LoadConfig.
type LoaderOption func(*LoaderConfig)

// WithFileSystem sets the filesystem used to find and read files.
func WithFileSystem(fs FileSystem) LoaderOption {
	return func(lc *LoaderConfig) { lc.FileSystem = fs }
}

// WithConfigFile sets an explicit config file. It must exist.
func WithConfigFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.ConfigFile = path }
}

// WithEnvFile sets an explicit .env file. It must exist.
func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

// WithDefault sets the value of key when no source provides one.
func WithDefault(key string, value any) LoaderOption {
	return func(lc *LoaderConfig) {
		if lc.Defaults == nil {
			lc.Defaults = make(map[string]any)
		}
		lc.Defaults[key] = value
	}
}

// LoadConfig loads configuration for name into cfg, which must be a pointer
// to a struct with mapstructure tags. Finding no config file is not an
// error; an explicit file that is missing or unreadable is.
func LoadConfig(name string, cfg any, opts ...LoaderOption) error {
	lc := LoaderConfig{}
	for _, opt := range opts {
		opt(&lc)
	}
	if lc.FileSystem == nil {
		lc.FileSystem = RealFileSystem{}
	}

	for _, explicit := range []string{lc.ConfigFile, lc.EnvFile} {
		if explicit != "" && !lc.FileSystem.Exists(explicit) {
			return fmt.Errorf("config: file %s not found", explicit)
		}
	}

	resolver := &Resolver{FileSystem: lc.FileSystem}
	return load(cfg, resolver.ResolveFiles(name, lc), lc)
}

func load(cfg any, files ResolvedFiles, lc LoaderConfig) error {
	v := viper.New()
	for key, value := range lc.Defaults {
		v.SetDefault(key, value)
	}

	if files.ConfigFile != "" {
		v.SetConfigFile(files.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("config: read %s: %w", files.ConfigFile, err)
		}
	}

	if files.EnvFile != "" {
		if err := lc.FileSystem.LoadEnv(files.EnvFile); err != nil {
			return fmt.Errorf("config: load %s: %w", files.EnvFile, err)
		}
	}
	bindEnv(v, os.Environ())

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("config: unmarshal: %w", err)
	}
	return nil
}

// bindEnv sets every EXECKIT_ variable under each nested key it may denote.
func bindEnv(v *viper.Viper, environ []string) {
	prefix := EnvPrefix + "_"
	for _, entry := range environ {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		for _, variant := range envKeyVariants(strings.TrimPrefix(key, prefix)) {
			v.Set(variant, value)
		}
	}
}

// envKeyVariants maps an environment key to the config keys it may denote,
// since underscores separate both nesting levels and words:
//
//	POOL_GRACE_PERIOD -> [pool_grace_period, pool.grace.period, pool.grace_period]
func envKeyVariants(envKey string) []string {
	lower := strings.ToLower(envKey)
	parts := strings.Split(lower, "_")
	if len(parts) == 1 {
		return []string{lower}
	}

	variants := []string{lower, strings.Join(parts, ".")}
	for i := 1; i < len(parts)-1; i++ {
		variants = append(variants, strings.Join(parts[:i], ".")+"."+strings.Join(parts[i:], "_"))
	}
	return dedupe(variants)
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}
