package manager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// copyCandidates returns the slash-separated paths under root that the
// config carries between worktrees: untracked or ignored regular files that
// match a copy pattern and no exclude. Tracked files are never candidates,
// so a sync cannot clobber committed content.
func (m *Manager) copyCandidates(ctx context.Context, root string) ([]string, error) {
	if len(m.cfg.Copy) == 0 {
		return []string{}, nil
	}
	entries, err := m.git.UntrackedPaths(ctx, root)
	if err != nil {
		return nil, err
	}

	files := []string{}
	for _, entry := range entries {
		if dir, ok := strings.CutSuffix(entry, "/"); ok {
			if m.cfg.IsExcluded(dir) {
				continue
			}
			found, err := m.walkCandidates(root, dir)
			if err != nil {
				return nil, err
			}
			files = append(files, found...)
			continue
		}
		if m.cfg.ShouldCopy(entry) && isRegular(filepath.Join(root, filepath.FromSlash(entry))) {
			files = append(files, entry)
		}
	}
	sort.Strings(files)
	return files, nil
}

func (m *Manager) walkCandidates(root, dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(filepath.Join(root, filepath.FromSlash(dir)), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != dir && m.cfg.IsExcluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && m.cfg.ShouldCopy(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	return files, nil
}

func isRegular(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode().IsRegular()
}

// syncFile makes dst match src. It reports whether dst changed (or, with
// dryRun, would change) and leaves identical files untouched.
func syncFile(src, dst string, dryRun bool) (bool, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(src)
	if err != nil {
		return false, err
	}

	existing, err := os.ReadFile(dst)
	switch {
	case err == nil && bytes.Equal(existing, data):
		return false, nil
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return false, err
	}
	if dryRun {
		return true, nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return false, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return false, err
	}
	if err := tmp.Close(); err != nil {
		return false, err
	}
	if err := os.Chmod(tmp.Name(), info.Mode().Perm()); err != nil {
		return false, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return false, err
	}
	return true, nil
}

// syncFiles copies every rel path from srcRoot into dstRoot, returning the
// ones that changed.
func syncFiles(srcRoot, dstRoot string, files []string, dryRun bool) ([]string, error) {
	changed := []string{}
	for _, rel := range files {
		native := filepath.FromSlash(rel)
		ok, err := syncFile(filepath.Join(srcRoot, native), filepath.Join(dstRoot, native), dryRun)
		if err != nil {
			return changed, fmt.Errorf("failed to copy %s: %w", rel, err)
		}
		if ok {
			changed = append(changed, rel)
		}
	}
	return changed, nil
}
