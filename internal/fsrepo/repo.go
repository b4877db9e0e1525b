// Package fsrepo is a read-only adapter over an on-disk `.git`
// directory (spec.md §4.10): repository layout detection, loose and
// packed object reading, index (DIRC) parsing, and gitconfig INI
// parsing. It never writes to the directory it opens.
package fsrepo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotAGitRepo is returned when path is neither a bare repository
// nor a worktree containing a `.git` entry.
var ErrNotAGitRepo = errors.New("fsrepo: not a git repository")

// Layout describes where a repository's on-disk pieces live, after
// resolving bare/non-bare/worktree detection and `.git`-file
// indirection.
type Layout struct {
	// GitDir is the directory containing HEAD, objects/, refs/, config.
	GitDir string
	// WorkTree is the checkout root, or "" for a bare repository.
	WorkTree string
	// Bare reports whether this repository has no working tree.
	Bare bool
}

// Detect resolves path to a Layout. path may be:
//   - a bare repository (directly contains HEAD, objects/, refs/)
//   - a non-bare repository's worktree root (contains a `.git` directory)
//   - a linked worktree (contains a `.git` file with `gitdir: <path>`)
func Detect(path string) (Layout, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Layout{}, fmt.Errorf("fsrepo: stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return Layout{}, fmt.Errorf("%w: %s is not a directory", ErrNotAGitRepo, path)
	}

	dotGit := filepath.Join(path, ".git")
	dotGitInfo, err := os.Stat(dotGit)
	switch {
	case err == nil && dotGitInfo.IsDir():
		return Layout{GitDir: dotGit, WorkTree: path, Bare: false}, nil
	case err == nil && !dotGitInfo.IsDir():
		gitDir, resolveErr := resolveGitFile(path, dotGit)
		if resolveErr != nil {
			return Layout{}, resolveErr
		}
		return Layout{GitDir: gitDir, WorkTree: path, Bare: false}, nil
	case !errors.Is(err, os.ErrNotExist):
		return Layout{}, fmt.Errorf("fsrepo: stat %s: %w", dotGit, err)
	}

	if looksLikeGitDir(path) {
		return Layout{GitDir: path, Bare: true}, nil
	}
	return Layout{}, fmt.Errorf("%w: %s", ErrNotAGitRepo, path)
}

// looksLikeGitDir reports whether path directly contains the three
// entries every git directory has (HEAD, objects, refs) — the
// signature of a bare repository.
func looksLikeGitDir(path string) bool {
	for _, name := range []string{"HEAD", "objects", "refs"} {
		if _, err := os.Stat(filepath.Join(path, name)); err != nil {
			return false
		}
	}
	return true
}

// resolveGitFile reads a worktree's `.git` file, which contains a
// single line `gitdir: <path to the real git dir>`.
func resolveGitFile(worktreeRoot, dotGitFile string) (string, error) {
	data, err := os.ReadFile(dotGitFile)
	if err != nil {
		return "", fmt.Errorf("fsrepo: read %s: %w", dotGitFile, err)
	}
	line := strings.TrimSpace(string(data))
	const prefix = "gitdir:"
	if !strings.HasPrefix(line, prefix) {
		return "", fmt.Errorf("%w: %s has no gitdir: line", ErrNotAGitRepo, dotGitFile)
	}
	target := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	if !filepath.IsAbs(target) {
		target = filepath.Join(worktreeRoot, target)
	}
	return filepath.Clean(target), nil
}

// Repo is a read-only handle onto a `.git` directory, composing the
// object, index, and config readers over a single Layout.
type Repo struct {
	Layout Layout
	*ObjectReader
}

// Open detects path's layout and returns a Repo ready to read objects,
// the index, and config from it.
func Open(path string) (*Repo, error) {
	layout, err := Detect(path)
	if err != nil {
		return nil, err
	}
	return &Repo{
		Layout:       layout,
		ObjectReader: NewObjectReader(layout.GitDir),
	}, nil
}

// ReadIndex parses the repository's `.git/index` file.
func (r *Repo) ReadIndex() (*Index, error) {
	return ReadIndex(filepath.Join(r.Layout.GitDir, "index"))
}

// ReadConfig parses the repository's `.git/config` file.
func (r *Repo) ReadConfig() (*Config, error) {
	return ReadConfig(filepath.Join(r.Layout.GitDir, "config"))
}
