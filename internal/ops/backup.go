package ops

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const backupPrefix = "nobo-backup-"

// BackupManager copies the agent's SQLite database file to timestamped
// snapshots and prunes old ones. The copy is a plain file copy; SQLite
// in WAL mode keeps the main file consistent enough for a cold restore.
type BackupManager struct {
	sourcePath string
	destDir    string
	retention  time.Duration
	log        *Logger
}

// NewBackupManager creates a backup manager for the given database file
func NewBackupManager(sourcePath, destDir string, retention time.Duration, log *Logger) *BackupManager {
	return &BackupManager{
		sourcePath: sourcePath,
		destDir:    destDir,
		retention:  retention,
		log:        log.WithComponent("backup"),
	}
}

// Run takes one snapshot and prunes expired ones. Safe to call from a
// periodic task; failures are returned, not fatal.
func (b *BackupManager) Run(ctx context.Context) error {
	if err := b.Backup(ctx); err != nil {
		return err
	}
	return b.CleanOldBackups()
}

// Backup copies the database to a timestamped file in the backup dir
func (b *BackupManager) Backup(ctx context.Context) error {
	start := time.Now()

	if err := os.MkdirAll(b.destDir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	destPath := filepath.Join(b.destDir, backupPrefix+timestamp+".db")

	size, err := copyFile(b.sourcePath, destPath)
	if err != nil {
		b.log.LogBackupOperation("backup", destPath, size, err)
		return fmt.Errorf("failed to copy database: %w", err)
	}

	b.log.LogBackupOperation("backup", destPath, size, nil)
	b.log.Info("database backup completed",
		"destination", destPath,
		"size_mb", float64(size)/1024/1024,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Restore copies a snapshot back over a database path. The agent must
// not be running against that path.
func (b *BackupManager) Restore(ctx context.Context, backupPath, destPath string) error {
	if _, err := os.Stat(backupPath); os.IsNotExist(err) {
		return fmt.Errorf("backup file not found: %s", backupPath)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	size, err := copyFile(backupPath, destPath)
	if err != nil {
		b.log.LogBackupOperation("restore", destPath, size, err)
		return fmt.Errorf("failed to restore database: %w", err)
	}

	b.log.LogBackupOperation("restore", destPath, size, nil)
	return nil
}

// CleanOldBackups removes snapshots older than the retention window
func (b *BackupManager) CleanOldBackups() error {
	entries, err := os.ReadDir(b.destDir)
	if err != nil {
		return fmt.Errorf("failed to read backup directory: %w", err)
	}

	cutoff := time.Now().Add(-b.retention)
	deleted := 0

	for _, entry := range entries {
		if entry.IsDir() || !isBackupFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(b.destDir, entry.Name())
			if err := os.Remove(path); err != nil {
				b.log.Warn("failed to delete old backup", "file", path, "error", err)
				continue
			}
			deleted++
		}
	}

	if deleted > 0 {
		b.log.Info("old backups pruned", "deleted", deleted)
	}
	return nil
}

func isBackupFile(name string) bool {
	return strings.HasPrefix(name, backupPrefix) && filepath.Ext(name) == ".db"
}

func copyFile(src, dst string) (int64, error) {
	sourceFile, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("failed to create destination file: %w", err)
	}
	defer destFile.Close()

	size, err := io.Copy(destFile, sourceFile)
	if err != nil {
		return size, fmt.Errorf("failed to copy file: %w", err)
	}

	if err := destFile.Sync(); err != nil {
		return size, fmt.Errorf("failed to sync file: %w", err)
	}
	return size, nil
}
