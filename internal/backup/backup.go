// Package backup creates and manages point-in-time snapshots of the
// questweaver database. Snapshots are taken with VACUUM INTO, which is
// safe against a live WAL-mode database, and verified with SQLite's
// integrity check before they are trusted.
package backup

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Snapshot describes one backup file on disk.
type Snapshot struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// Create writes a consistent snapshot of the database at sourcePath into
// destDir and returns its path. The snapshot is verified before being
// reported; a snapshot that fails verification is removed.
func Create(sourcePath, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	destPath := filepath.Join(destDir, fmt.Sprintf("questweaver-%s.db", time.Now().UTC().Format("20060102-150405")))

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", sourcePath))
	if err != nil {
		return "", fmt.Errorf("open source database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		return "", fmt.Errorf("ping source database: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", destPath)); err != nil {
		return "", fmt.Errorf("snapshot database: %w", err)
	}

	if err := Verify(destPath); err != nil {
		_ = os.Remove(destPath)
		return "", fmt.Errorf("snapshot failed verification: %w", err)
	}
	return destPath, nil
}

// Verify runs SQLite's integrity check against a snapshot.
func Verify(path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check reported: %s", result)
	}
	return nil
}

// Restore copies a verified snapshot over targetPath. The target database
// must not be in use.
func Restore(snapshotPath, targetPath string) error {
	if err := Verify(snapshotPath); err != nil {
		return fmt.Errorf("refusing to restore: %w", err)
	}

	src, err := os.Open(snapshotPath)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(targetPath)
	if err != nil {
		return fmt.Errorf("create target: %w", err)
	}
	defer func() { _ = dst.Close() }()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy snapshot: %w", err)
	}
	if err := dst.Sync(); err != nil {
		return fmt.Errorf("sync target: %w", err)
	}
	return Verify(targetPath)
}

// List returns the snapshots in destDir, newest first.
func List(destDir string) ([]Snapshot, error) {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	var snapshots []Snapshot
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snapshots = append(snapshots, Snapshot{
			Path:      filepath.Join(destDir, entry.Name()),
			Timestamp: info.ModTime(),
			Size:      info.Size(),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.After(snapshots[j].Timestamp)
	})
	return snapshots, nil
}

// Prune deletes all but the newest keep snapshots and returns how many
// were removed. A keep below 1 is treated as 1 so a prune can never
// delete the last snapshot.
func Prune(destDir string, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}
	snapshots, err := List(destDir)
	if err != nil {
		return 0, err
	}
	if len(snapshots) <= keep {
		return 0, nil
	}

	removed := 0
	var lastErr error
	for _, snapshot := range snapshots[keep:] {
		if err := os.Remove(snapshot.Path); err != nil {
			lastErr = err
			continue
		}
		removed++
	}
	if lastErr != nil {
		return removed, fmt.Errorf("prune snapshots: %w", lastErr)
	}
	return removed, nil
}
