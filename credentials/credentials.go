// Package credentials resolves provider API keys from credentials.toml and
// the environment.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the credentials file looked up in each standard directory.
const FileName = "credentials.toml"

var (
	// ErrInsecurePermissions is returned when the file is not mode 0400.
	ErrInsecurePermissions = errors.New("credentials file has insecure permissions")

	// ErrNoAPIKey is returned by Require when no source has a key.
	ErrNoAPIKey = errors.New("no API key configured")
)

// Source tells where a key was found.
type Source string

const (
	SourceProvider Source = "provider_section"
	SourceLLM      Source = "llm_section"
	SourceEnv      Source = "environment"
	SourceNone     Source = "none"
)

// Credentials holds the api_key of every section in a credentials file.
// The [llm] section is the fallback for providers without their own.
type Credentials struct {
	Path string
	keys map[string]string
}

// StandardPaths returns the lookup locations, highest priority first.
func StandardPaths() []string {
	paths := []string{FileName}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "bookshelf", FileName),
			filepath.Join(home, ".bookshelf", FileName),
		)
	}
	return paths
}

// Load reads the first credentials file found in StandardPaths. A missing
// file is not an error; the returned Credentials then resolve from the
// environment only.
func Load() (*Credentials, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return &Credentials{keys: map[string]string{}}, nil
}

// LoadFile reads one credentials file. On Unix the file must be 0400.
func LoadFile(path string) (*Credentials, error) {
	if err := checkPermissions(path); err != nil {
		return nil, err
	}

	var sections map[string]map[string]interface{}
	if _, err := toml.DecodeFile(path, &sections); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	c := &Credentials{Path: path, keys: make(map[string]string, len(sections))}
	for name, section := range sections {
		if key, _ := section["api_key"].(string); key != "" {
			c.keys[normalize(name)] = key
		}
	}
	return c, nil
}

func checkPermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0400 {
		return fmt.Errorf("%w: %s has mode %04o (must be 0400)", ErrInsecurePermissions, path, mode)
	}
	return nil
}

// Lookup resolves the key for provider: its own section, then [llm], then
// the provider's environment variable.
func (c *Credentials) Lookup(provider string) (string, Source) {
	if c != nil {
		if key := c.keys[normalize(provider)]; key != "" {
			return key, SourceProvider
		}
		if key := c.keys["llm"]; key != "" {
			return key, SourceLLM
		}
	}
	if key := os.Getenv(EnvVar(provider)); key != "" {
		return key, SourceEnv
	}
	return "", SourceNone
}

// APIKey returns the key for provider, or "".
func (c *Credentials) APIKey(provider string) string {
	key, _ := c.Lookup(provider)
	return key
}

// Require is APIKey that fails when nothing is configured.
func (c *Credentials) Require(provider string) (string, error) {
	key, src := c.Lookup(provider)
	if src == SourceNone {
		return "", fmt.Errorf("%w for %s: add [%s] api_key to %s or set %s",
			ErrNoAPIKey, provider, provider, FileName, EnvVar(provider))
	}
	return key, nil
}

// EnvVar returns the environment variable consulted for provider.
func EnvVar(provider string) string {
	switch provider {
	case "openai-compat":
		return "OPENAI_API_KEY"
	default:
		return strings.ToUpper(strings.ReplaceAll(provider, "-", "_")) + "_API_KEY"
	}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
