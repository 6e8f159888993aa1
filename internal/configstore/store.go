package configstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/proxyvisor/internal/directive"
)

var (
	// ErrConfigUnavailable means the proxy config file is missing or unreadable.
	ErrConfigUnavailable = errors.New("config unavailable")
	// ErrDirectiveNotFound means no line in the file matches the previous directive.
	ErrDirectiveNotFound = errors.New("directive not found")
)

// Store rewrites the forwarding directive inside a proxy config file and
// leaves every other byte of the file untouched.
type Store struct {
	path string
}

// New returns a store for the config file at path.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the config file path.
func (s *Store) Path() string {
	return s.path
}

// Read returns the full file contents.
func (s *Store) Read() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrConfigUnavailable, s.path, err)
	}
	return string(data), nil
}

// Current returns the directive recorded in the file. Lines with the given
// pattern win over other patterns, so bypass rules such as
// "forward 192.168.*.*/ ." are not mistaken for the upstream. Within each
// group an active directive wins over a deactivated one, then file order.
func (s *Store) Current(pattern string) (directive.Directive, bool, error) {
	text, err := s.Read()
	if err != nil {
		return directive.Directive{}, false, err
	}

	best, bestRank := directive.Directive{}, 0
	for _, line := range splitLines(text) {
		d, ok := directive.Parse(line.body)
		if !ok {
			continue
		}
		if rank := currentRank(d, pattern); rank > bestRank {
			best, bestRank = d, rank
		}
	}
	return best, bestRank > 0, nil
}

func currentRank(d directive.Directive, pattern string) int {
	rank := 1
	if !d.Disabled {
		rank++
	}
	if d.Pattern == pattern {
		rank += 2
	}
	return rank
}

// ApplyDirective replaces every line holding previous with next.
// It returns ErrDirectiveNotFound without writing when nothing matches.
func (s *Store) ApplyDirective(previous, next directive.Directive) error {
	text, err := s.Read()
	if err != nil {
		return err
	}

	lines := splitLines(text)
	matched := 0
	for i, line := range lines {
		d, ok := directive.Parse(line.body)
		if !ok || d != previous {
			continue
		}
		lines[i].body = indentOf(line.body) + next.String()
		matched++
	}
	if matched == 0 {
		return fmt.Errorf("%w: %q in %s", ErrDirectiveNotFound, previous.String(), s.path)
	}

	return s.write(joinLines(lines))
}

// Seed appends d when the file contains no directive line at all.
// It reports whether the file was changed.
func (s *Store) Seed(d directive.Directive) (bool, error) {
	text, err := s.Read()
	if err != nil {
		return false, err
	}
	for _, line := range splitLines(text) {
		if _, ok := directive.Parse(line.body); ok {
			return false, nil
		}
	}

	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	text += d.String() + "\n"
	if err := s.write(text); err != nil {
		return false, err
	}
	return true, nil
}

// write replaces the file atomically: temporary file, fsync, rename, then
// fsync of the parent directory. The existing file mode is kept.
func (s *Store) write(text string) error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfigUnavailable, s.path, err)
	}
	mode := info.Mode().Perm()

	temporaryPath := s.path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("creating temporary config file: %w", err)
	}
	if _, err := file.WriteString(text); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary config file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary config file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary config file: %w", err)
	}
	if err := os.Rename(temporaryPath, s.path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming config file into place: %w", err)
	}

	if dir, err := os.Open(filepath.Dir(s.path)); err == nil {
		dir.Sync()
		dir.Close()
	}
	return nil
}
