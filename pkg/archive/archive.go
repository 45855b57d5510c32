// Package archive resolves a subject's resources in the on-disk archive.
//
// Directory layout:
//
//	<root>/<project>/arc001/<subject>_<classifier>/RESOURCES/<resource>
//
// Root is expected to be the archive mount visible on the cluster.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ccfpipelines/icafixsubmit/pkg/subject"
)

const (
	// DefaultRoot is the archive mount on the CCF cluster.
	DefaultRoot = "/HCP/hcpdb/archive"

	// FunctionalPreprocPattern matches functional preprocessing resources.
	FunctionalPreprocPattern = "*fMRI*_preproc"

	arcDir       = "arc001"
	resourcesDir = "RESOURCES"
)

// Sentinel errors for archive lookups.
var (
	// ErrSessionNotFound indicates the session has no resources directory.
	ErrSessionNotFound = errors.New("session not found in archive")
)

// Error wraps archive lookup failures with context.
type Error struct {
	Op      string
	Session string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("archive %s: %s: %v", e.Op, e.Session, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Config struct {
	Root string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return fmt.Errorf("archive root is required")
	}
	return nil
}

// Archive reads resource listings from a filesystem archive.
type Archive struct {
	root string
}

func New(cfg Config) (*Archive, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Archive{root: filepath.Clean(cfg.Root)}, nil
}

func (a *Archive) Root() string {
	return a.root
}

// SessionResourcesDir returns the RESOURCES directory for a session.
func (a *Archive) SessionResourcesDir(info subject.Info) string {
	return filepath.Join(a.root, info.Project, arcDir, info.Session(), resourcesDir)
}

// AvailableFunctionalPreprocDirs returns absolute paths of the session's
// functional preprocessing directories, sorted.
func (a *Archive) AvailableFunctionalPreprocDirs(ctx context.Context, info subject.Info) ([]string, error) {
	return a.resourceDirs(ctx, "AvailableFunctionalPreprocDirs", info, FunctionalPreprocPattern)
}

func (a *Archive) resourceDirs(ctx context.Context, op string, info subject.Info, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := a.SessionResourcesDir(info)
	st, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &Error{Op: op, Session: info.Session(), Err: ErrSessionNotFound}
		}
		return nil, &Error{Op: op, Session: info.Session(), Err: err}
	}
	if !st.IsDir() {
		return nil, &Error{Op: op, Session: info.Session(), Err: ErrSessionNotFound}
	}

	fsys := os.DirFS(dir)
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return nil, &Error{Op: op, Session: info.Session(), Err: err}
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		entry, err := fs.Stat(fsys, m)
		if err != nil || !entry.IsDir() {
			continue
		}
		out = append(out, filepath.Join(dir, m))
	}
	sort.Strings(out)
	return out, nil
}
