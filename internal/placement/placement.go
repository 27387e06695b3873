// Package placement swaps a compressed directory in place of its source.
package placement

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

var (
	// ErrBackupExists is returned when the backup name is already taken.
	ErrBackupExists = errors.New("backup directory already exists")

	// ErrSwapIncomplete is returned when the source was moved to the backup
	// name but the output could not take its place.
	ErrSwapIncomplete = errors.New("swap incomplete")
)

// Swapper performs the two renames of a swap.
type Swapper struct {
	logger *logrus.Logger
	rename func(oldpath, newpath string) error
}

// NewSwapper returns a Swapper using os.Rename.
func NewSwapper(logger *logrus.Logger) *Swapper {
	if logger == nil {
		logger = logrus.New()
	}
	return &Swapper{logger: logger, rename: os.Rename}
}

// Swap renames source to backup, then output to source. The two renames are
// not atomic: if the second one fails, source no longer exists under its name
// and the returned error wraps ErrSwapIncomplete naming both directories.
func (s *Swapper) Swap(source, output, backup string) error {
	log := s.logger.WithFields(logrus.Fields{
		"operation": "swap",
		"source":    source,
		"output":    output,
		"backup":    backup,
	})

	if err := requireDir(source); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := requireDir(output); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	if _, err := os.Lstat(backup); err == nil {
		return fmt.Errorf("%w: %s", ErrBackupExists, backup)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat backup: %w", err)
	}

	if err := s.rename(source, backup); err != nil {
		return fmt.Errorf("backup %s to %s: %w", source, backup, err)
	}
	log.Info("Original directory backed up")

	if err := s.rename(output, source); err != nil {
		log.Errorf("Compressed directory could not be moved into place: %v", err)
		return fmt.Errorf("%w: originals are in %s, compressed files remain in %s: %v",
			ErrSwapIncomplete, backup, output, err)
	}
	log.Info("Compressed directory moved into place")

	return nil
}

func requireDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}
