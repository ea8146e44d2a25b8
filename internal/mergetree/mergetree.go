// Package mergetree copies one directory tree into another without removing
// anything already present at the destination.
package mergetree

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// OverwritePolicy decides what happens when a file already exists at the
// destination path.
type OverwritePolicy int

const (
	// LastWriterWins silently replaces existing files. Merging several trees
	// that share a path leaves the last tree's content there.
	LastWriterWins OverwritePolicy = iota
	// FailOnConflict records an existing destination file as a failure and
	// leaves it untouched.
	FailOnConflict
)

// ParsePolicy maps a config value to an OverwritePolicy. Empty means LastWriterWins.
func ParsePolicy(s string) (OverwritePolicy, error) {
	switch s {
	case "", "last-writer-wins":
		return LastWriterWins, nil
	case "fail-on-conflict":
		return FailOnConflict, nil
	}
	return LastWriterWins, fmt.Errorf("unknown overwrite policy %q", s)
}

// String returns the config spelling of the policy.
func (p OverwritePolicy) String() string {
	if p == FailOnConflict {
		return "fail-on-conflict"
	}
	return "last-writer-wins"
}

// ErrConflict is wrapped by failures produced under FailOnConflict.
var ErrConflict = errors.New("destination already exists")

// Options control Merge.
type Options struct {
	// Symlinks recreates symbolic links verbatim. When false, links are
	// followed and their targets copied.
	Symlinks bool
	Policy   OverwritePolicy
	// Skip, when set, is called with each source path; entries it
	// returns true for are left out of the merge.
	Skip func(srcPath string) bool
}

// Failure is one entry that could not be merged.
type Failure struct {
	Src string
	Dst string
	Err error
}

// MergeError collects every per-entry failure of a Merge.
type MergeError struct {
	Failures []Failure
}

func (e *MergeError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s -> %s: %v", f.Src, f.Dst, f.Err))
	}
	return fmt.Sprintf("merge failed for %d entries: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Paths returns the source paths of all failures.
func (e *MergeError) Paths() []string {
	paths := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		paths[i] = f.Src
	}
	return paths
}

// Merge copies everything under src into dst, creating directories as
// needed. Existing destination directories are augmented, never replaced.
// A failing entry does not stop the rest of the merge; all failures are
// returned together as a *MergeError.
func Merge(src, dst string, opts Options) error {
	m := &merger{opts: opts}
	m.mergeDir(src, dst)
	if len(m.failures) > 0 {
		return &MergeError{Failures: m.failures}
	}
	return nil
}

type merger struct {
	opts     Options
	failures []Failure
}

func (m *merger) fail(src, dst string, err error) {
	m.failures = append(m.failures, Failure{Src: src, Dst: dst, Err: err})
}

func (m *merger) mergeDir(src, dst string) {
	info, err := os.Stat(src)
	if err != nil {
		m.fail(src, dst, err)
		return
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		m.fail(src, dst, err)
		return
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		m.fail(src, dst, err)
		return
	}

	for _, de := range entries {
		s := filepath.Join(src, de.Name())
		d := filepath.Join(dst, de.Name())
		if m.opts.Skip != nil && m.opts.Skip(s) {
			continue
		}
		if err := m.mergeEntry(s, d); err != nil {
			m.fail(s, d, err)
		}
	}

	if err := copyDirStat(dst, info); err != nil {
		m.fail(src, dst, err)
	}
}

func (m *merger) mergeEntry(src, dst string) error {
	linfo, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if m.opts.Symlinks && linfo.Mode()&os.ModeSymlink != 0 {
		return m.copySymlink(src, dst)
	}

	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	switch {
	case info.IsDir():
		m.mergeDir(src, dst)
		return nil
	case info.Mode().IsRegular():
		return m.copyFile(src, dst, info)
	default:
		return fmt.Errorf("unsupported file type %s", info.Mode().Type())
	}
}

// claim prepares dst for a new file or link according to the policy.
func (m *merger) claim(dst string) error {
	existing, err := os.Lstat(dst)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if m.opts.Policy == FailOnConflict {
		return fmt.Errorf("%s: %w", dst, ErrConflict)
	}
	if existing.Mode()&os.ModeSymlink != 0 {
		// Never write through a link left by an earlier merge.
		return os.Remove(dst)
	}
	return nil
}

func (m *merger) copySymlink(src, dst string) error {
	target, err := os.Readlink(src)
	if err != nil {
		return err
	}
	if err := m.claim(dst); err != nil {
		return err
	}
	if _, err := os.Lstat(dst); err == nil {
		if err := os.Remove(dst); err != nil {
			return err
		}
	}
	return os.Symlink(target, dst)
}

func (m *merger) copyFile(src, dst string, info os.FileInfo) error {
	if err := m.claim(dst); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return copyStat(dst, info)
}

// copyStat copies permission bits and timestamps from info onto path.
func copyStat(path string, info os.FileInfo) error {
	if err := os.Chmod(path, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(path, accessTime(info), info.ModTime())
}
