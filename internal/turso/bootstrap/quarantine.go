package bootstrap

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"

	"github.com/mschirtzinger/tally/internal/turso/db"
)

// QuarantineReport describes what Quarantine did to the files on disk.
type QuarantineReport struct {
	// LegacyPath is where the previous database now lives. Empty when the
	// rename failed and the file was deleted instead.
	LegacyPath string
	// Renamed is false when the database had to be deleted outright.
	Renamed bool
	// Removed lists side files and directories that were deleted.
	Removed []string
}

// Quarantine moves the database at dbPath out of the way so the next replica
// build starts from a clean slate.
//
// In order:
//  1. a previous .legacy file is deleted, so at most one backup exists
//  2. the database is renamed to .legacy, or deleted if the rename fails
//  3. the WAL and SHM side files are deleted together
//  4. the sync engine's metadata directory and info file are deleted
//
// Cleanup is best effort: every failure is logged, and only a database file
// that could be neither renamed nor deleted is returned as an error.
func Quarantine(dbPath string, logger *log.Logger) (*QuarantineReport, error) {
	report := &QuarantineReport{}
	legacy := db.LegacyPath(dbPath)

	if err := os.Remove(legacy); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Printf("Warning: failed to delete stale legacy backup %s: %v", legacy, err)
	} else if err == nil {
		logger.Printf("Deleted stale legacy backup %s", legacy)
	}

	if _, err := os.Stat(dbPath); err == nil {
		if err := os.Rename(dbPath, legacy); err != nil {
			logger.Printf("Warning: failed to rename %s to %s: %v; deleting instead", dbPath, legacy, err)
			if err := os.Remove(dbPath); err != nil {
				return report, fmt.Errorf("failed to quarantine database %s: %w", dbPath, err)
			}
			report.Removed = append(report.Removed, dbPath)
		} else {
			report.LegacyPath = legacy
			report.Renamed = true
			logger.Printf("Quarantined %s as %s", dbPath, legacy)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		logger.Printf("Warning: failed to stat %s: %v", dbPath, err)
	}

	for _, side := range []string{db.WALPath(dbPath), db.SHMPath(dbPath)} {
		if removeLogged(side, os.Remove, logger) {
			report.Removed = append(report.Removed, side)
		}
	}

	for _, meta := range []string{db.SyncMetadataDir(dbPath), db.ReplicaInfoPath(dbPath)} {
		if removeLogged(meta, os.RemoveAll, logger) {
			report.Removed = append(report.Removed, meta)
		}
	}

	return report, nil
}

// removeLogged deletes path if it exists and reports whether it did.
func removeLogged(path string, remove func(string) error, logger *log.Logger) bool {
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		return false
	}
	if err := remove(path); err != nil {
		logger.Printf("Warning: failed to delete %s: %v", path, err)
		return false
	}
	return true
}
