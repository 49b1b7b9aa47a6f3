// Copyright 2026 The accelctl Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package backup snapshots the live install tree before an update mutates
// it and restores the recorded files when the update fails.
package backup

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cachebuild/accelctl/internal/log"
	"github.com/cachebuild/accelctl/pkg/errors"
)

// DirName is the backup subtree inside the install directory.
const DirName = "backup"

// Record lists the file names captured from one directory at snapshot
// time. The recorded set, not the backup tree on disk, is the only valid
// source for rollback.
type Record struct {
	Dir   string
	Names []string
}

// Manager snapshots and restores one install tree.
type Manager struct {
	root    string
	records []Record
	logger  *slog.Logger
}

// NewManager creates a manager for the given live install root.
func NewManager(root string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{root: root, logger: logger}
}

// backupRoot returns the backup subtree path.
func (m *Manager) backupRoot() string {
	return filepath.Join(m.root, DirName)
}

// HasBackup reports whether a snapshot was taken by this manager.
func (m *Manager) HasBackup() bool {
	return m.records != nil
}

// Records returns the captured (directory, names) pairs.
func (m *Manager) Records() []Record {
	return m.records
}

// Backup copies every file and symlink of the live tree into the backup
// subtree, recording per directory exactly which names were captured.
// A previous backup is discarded first.
func (m *Manager) Backup() error {
	if err := os.RemoveAll(m.backupRoot()); err != nil {
		return fmt.Errorf("clear previous backup: %w", err)
	}
	m.records = []Record{}
	return m.copyTree(m.root, m.backupRoot())
}

func (m *Manager) copyTree(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	// Entries are listed before the destination exists, so the backup
	// subtree never captures itself.
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if src == m.root && e.Name() == DirName {
			continue
		}
		names = append(names, e.Name())
	}
	m.records = append(m.records, Record{Dir: src, Names: names})

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}

	for _, name := range names {
		from := filepath.Join(src, name)
		to := filepath.Join(dst, name)

		fi, err := os.Lstat(from)
		if err != nil {
			return err
		}
		switch {
		case fi.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(from)
			if err != nil {
				return err
			}
			if err := os.Symlink(target, to); err != nil {
				return err
			}
		case fi.IsDir():
			if err := m.copyTree(from, to); err != nil {
				return err
			}
		default:
			if err := copyFilePreserving(from, to); err != nil {
				return err
			}
		}
	}
	return nil
}

// Rollback restores the live tree from the recorded snapshot. Files whose
// size, mode and mtime are unchanged are skipped so a running executable
// the OS may protect is never rewritten. Calling Rollback
// without a prior Backup is manager misuse and fails immediately without
// touching the filesystem.
func (m *Manager) Rollback() error {
	if m.records == nil {
		return &errors.RollbackError{Reason: "no backup recorded before rollback"}
	}

	backupRoot := m.backupRoot()
	for _, rec := range m.records {
		backupDir := strings.Replace(rec.Dir, m.root, backupRoot, 1)
		for _, name := range rec.Names {
			from := filepath.Join(backupDir, name)
			to := filepath.Join(rec.Dir, name)
			if err := m.restoreOne(from, to); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) restoreOne(from, to string) error {
	fromStat, err := os.Stat(from)
	if err != nil {
		// Files that appeared between snapshot and copy (live log
		// files) have a record but no backup copy; nothing to restore.
		m.logger.Warn("cannot access backed-up file", "path", from, log.Error(err))
		return nil
	}

	toStat, err := os.Stat(to)
	toExists := err == nil

	if toExists &&
		fromStat.Size() == toStat.Size() &&
		fromStat.Mode() == toStat.Mode() &&
		fromStat.ModTime().Equal(toStat.ModTime()) {
		return nil
	}

	switch {
	case !fromStat.IsDir() && (!toExists || !toStat.IsDir()):
		return copyFilePreserving(from, to)
	case fromStat.IsDir() && toExists && toStat.IsDir():
		return nil
	case fromStat.IsDir() && !toExists:
		return os.Mkdir(to, 0o700)
	default:
		return &errors.RollbackError{From: from, To: to, Reason: "path type mismatch"}
	}
}

// copyFilePreserving copies a regular file keeping mode and mtime, so a
// later comparison of the two sides sees them as identical.
func copyFilePreserving(from, to string) error {
	fi, err := os.Stat(from)
	if err != nil {
		return err
	}

	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(to, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Chmod(to, fi.Mode()); err != nil {
		return err
	}
	return os.Chtimes(to, fi.ModTime(), fi.ModTime())
}
