package storage

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// Backup streams a consistent snapshot of every row to w.
// The output is Badger's portable backup format and can be fed to Restore.
func (b *BadgerEngine) Backup(w io.Writer) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrStorageClosed
	}

	buf := bufio.NewWriterSize(w, 4*1024*1024)
	// since=0 means full backup
	if _, err := b.db.Backup(buf, 0); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush backup: %w", err)
	}
	return nil
}

// BackupToFile writes a full backup to path and syncs it to disk.
func (b *BadgerEngine) BackupToFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer f.Close()

	if err := b.Backup(f); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync backup: %w", err)
	}
	return nil
}

// Restore loads rows written by Backup. Rows already present with the same
// key are overwritten; other rows are left alone.
func (b *BadgerEngine) Restore(r io.Reader) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrStorageClosed
	}
	if err := b.db.Load(bufio.NewReaderSize(r, 4*1024*1024), 256); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	b.forgetIndexes()
	return nil
}
