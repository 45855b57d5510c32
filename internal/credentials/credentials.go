// Package credentials resolves tracking-server credentials from a YAML file,
// with environment overrides.
//
// File layout:
//
//	default:
//	  username: hcpuser
//	  password: secret
//	servers:
//	  db.example.org:
//	    username: other
//	    password: other-secret
package credentials

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ccfpipelines/icafixsubmit/pkg/params"
)

// Environment overrides, applied after the file.
const (
	EnvUsername = "ICAFIXSUBMIT_USERNAME"
	EnvPassword = "ICAFIXSUBMIT_PASSWORD"
)

// ErrNotFound indicates no username could be resolved for a server.
var ErrNotFound = errors.New("credentials not found")

type Credentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type file struct {
	Default Credentials            `yaml:"default"`
	Servers map[string]Credentials `yaml:"servers"`
}

// DefaultPath returns ~/.config/icafixsubmit/credentials.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".config", "icafixsubmit", "credentials.yaml")
}

// Resolver looks up credentials for a server.
type Resolver struct {
	path   string
	logger *zap.Logger
	getenv func(string) string
}

// NewResolver reads from path, or DefaultPath when path is empty.
func NewResolver(path string, logger *zap.Logger) *Resolver {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{path: path, logger: logger, getenv: os.Getenv}
}

// Lookup returns credentials for server, matched by host name. A server
// entry beats the default entry and environment variables beat both. A
// missing file is not an error as long as the environment supplies a
// username.
func (r *Resolver) Lookup(server string) (Credentials, error) {
	f, err := r.load()
	if err != nil {
		return Credentials{}, err
	}

	creds := f.Default
	host := params.ServerName(server)
	if c, ok := f.Servers[host]; ok {
		creds = c
	} else if c, ok := f.Servers[server]; ok {
		creds = c
	}

	if u := r.getenv(EnvUsername); u != "" {
		creds.Username = u
	}
	if p := r.getenv(EnvPassword); p != "" {
		creds.Password = p
	}

	if strings.TrimSpace(creds.Username) == "" {
		return Credentials{}, fmt.Errorf("%w for %s (set %s or add it to %s)", ErrNotFound, host, EnvUsername, r.path)
	}
	return creds, nil
}

func (r *Resolver) load() (file, error) {
	var f file
	if r.path == "" {
		return f, nil
	}
	info, err := os.Stat(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return f, nil
		}
		return f, fmt.Errorf("stat credentials file: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		r.logger.Warn("Credentials file is readable by group or others",
			zap.String("path", r.path),
			zap.String("mode", info.Mode().Perm().String()))
	}

	b, err := os.ReadFile(r.path)
	if err != nil {
		return f, fmt.Errorf("read credentials file: %w", err)
	}
	if err := yaml.Unmarshal(b, &f); err != nil {
		return f, fmt.Errorf("parse credentials file %s: %w", r.path, err)
	}
	return f, nil
}
