package atomic

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Quarantine moves a corrupt document out of the live tree so a single
// bad record cannot poison scans of its directory.
func Quarantine(picDir, filePath string) error {
	quarantineDir := filepath.Join(picDir, "quarantine")
	if err := os.MkdirAll(quarantineDir, 0755); err != nil {
		return fmt.Errorf("create quarantine dir: %w", err)
	}

	baseName := filepath.Base(filePath)
	timestamp := time.Now().Format("20060102T150405")
	quarantineName := fmt.Sprintf("%s.%s.corrupt", baseName, timestamp)
	quarantinePath := filepath.Join(quarantineDir, quarantineName)

	if err := os.Rename(filePath, quarantinePath); err != nil {
		return fmt.Errorf("move to quarantine: %w", err)
	}

	log.Printf("quarantined corrupted file: %s -> %s", filePath, quarantinePath)
	return nil
}

// RestoreFromBackup replaces filePath with its .bak copy, if the backup
// itself still parses.
func RestoreFromBackup(filePath string, validate func([]byte) error) error {
	bakPath := filePath + ".bak"
	if _, err := os.Stat(bakPath); os.IsNotExist(err) {
		return fmt.Errorf("no backup file: %s", bakPath)
	}

	content, err := os.ReadFile(bakPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}

	if validate != nil {
		if err := validate(content); err != nil {
			return fmt.Errorf("backup is also corrupted: %w", err)
		}
	}

	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}

	log.Printf("restored from backup: %s -> %s", bakPath, filePath)
	return nil
}

// RecoverCorruptedJSON quarantines a corrupt JSON document and attempts
// a backup restore. Callers decide what to do when no backup survives.
func RecoverCorruptedJSON(picDir, filePath string) error {
	if err := Quarantine(picDir, filePath); err != nil {
		return fmt.Errorf("quarantine failed: %w", err)
	}
	if err := RestoreFromBackup(filePath, validateJSON); err != nil {
		return fmt.Errorf("backup restore failed: %w", err)
	}
	return nil
}
