// Package storage provides sandboxed file operations for recordings.
// All paths are resolved inside a base directory to prevent traversal.
package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/disk"
)

// ErrPathEscapes is returned for paths that resolve outside the sandbox.
var ErrPathEscapes = errors.New("path escapes sandbox")

// Sandbox provides file operations within a base directory.
type Sandbox struct {
	baseDir string
}

// NewSandbox creates a Sandbox rooted at baseDir, creating it if needed.
func NewSandbox(baseDir string) (*Sandbox, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o750); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}
	return &Sandbox{baseDir: absPath}, nil
}

// BaseDir returns the absolute sandbox root.
func (s *Sandbox) BaseDir() string {
	return s.baseDir
}

// ResolvePath resolves a relative path within the sandbox.
func (s *Sandbox) ResolvePath(relativePath string) (string, error) {
	if filepath.IsAbs(relativePath) {
		return "", fmt.Errorf("%w: %s (absolute paths not allowed)", ErrPathEscapes, relativePath)
	}

	absPath, err := filepath.Abs(filepath.Join(s.baseDir, filepath.Clean(relativePath)))
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}
	if !strings.HasPrefix(absPath, s.baseDir+string(filepath.Separator)) && absPath != s.baseDir {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, relativePath)
	}
	return absPath, nil
}

// Contains reports whether an absolute path lies inside the sandbox.
func (s *Sandbox) Contains(absPath string) bool {
	rel, err := filepath.Rel(s.baseDir, absPath)
	if err != nil {
		return false
	}
	_, err = s.ResolvePath(rel)
	return err == nil
}

// Exists checks if a path exists within the sandbox.
func (s *Sandbox) Exists(relativePath string) (bool, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking path: %w", err)
	}
	return true, nil
}

// MkdirAll creates a directory within the sandbox and returns its
// absolute path.
func (s *Sandbox) MkdirAll(relativePath string) (string, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return "", fmt.Errorf("creating directory: %w", err)
	}
	return path, nil
}

// AtomicWrite writes data to a sibling temporary file, syncs it and
// renames it over the target.
func (s *Sandbox) AtomicWrite(relativePath string, data []byte) error {
	target, err := s.ResolvePath(relativePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	tmp := filepath.Join(filepath.Dir(target), fmt.Sprintf(".%s.%s.tmp", filepath.Base(target), randomHex(8)))
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	_, werr := f.Write(data)
	if werr == nil {
		werr = f.Sync()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing temporary file: %w", werr)
	}
	return ReplaceFile(tmp, target)
}

// RemoveAll removes a path and its contents. The root itself cannot be
// removed.
func (s *Sandbox) RemoveAll(relativePath string) error {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return err
	}
	if path == s.baseDir {
		return fmt.Errorf("cannot remove sandbox base directory")
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing path: %w", err)
	}
	return nil
}

// DirSize returns the summed size of the regular files below a directory.
func (s *Sandbox) DirSize(relativePath string) (int64, error) {
	root, err := s.ResolvePath(relativePath)
	if err != nil {
		return 0, err
	}
	var total int64
	err = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sizing %s: %w", relativePath, err)
	}
	return total, nil
}

// CheckWritable verifies that files can be created in the sandbox root.
func (s *Sandbox) CheckWritable() error {
	f, err := os.CreateTemp(s.baseDir, ".writable-*")
	if err != nil {
		return fmt.Errorf("storage %s not writable: %w", s.baseDir, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// FreeSpace returns the bytes available to the process on the sandbox
// volume.
func (s *Sandbox) FreeSpace(ctx context.Context) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, s.baseDir)
	if err != nil {
		return 0, fmt.Errorf("reading disk usage of %s: %w", s.baseDir, err)
	}
	return usage.Free, nil
}

// SubSandbox creates a Sandbox within a subdirectory of this sandbox.
func (s *Sandbox) SubSandbox(relativePath string) (*Sandbox, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return nil, err
	}
	return NewSandbox(path)
}

// ReplaceFile syncs src, renames it over dst and syncs the parent
// directory so the rename survives a crash. src is removed on failure.
func ReplaceFile(src, dst string) error {
	f, err := os.OpenFile(src, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	serr := f.Sync()
	f.Close()
	if serr != nil {
		os.Remove(src)
		return fmt.Errorf("syncing %s: %w", src, serr)
	}

	if err := os.Rename(src, dst); err != nil {
		os.Remove(src)
		return fmt.Errorf("renaming to %s: %w", dst, err)
	}

	if dir, err := os.Open(filepath.Dir(dst)); err == nil {
		dir.Sync()
		dir.Close()
	}
	return nil
}

func randomHex(n int) string {
	b := make([]byte, n/2+1)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", os.Getpid())
	}
	return hex.EncodeToString(b)[:n]
}
