package fileutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// OwnershipReport summarizes a ChownTree pass.
type OwnershipReport struct {
	Visited int
	Changed int
	Failed  int
}

// ChownTree walks root and sets every entry (symlinks included, not
// followed) to uid:gid. Entries already owned by uid:gid are skipped.
// Individual failures do not stop the walk; they are joined into the
// returned error.
func ChownTree(root string, uid, gid int) (OwnershipReport, error) {
	var report OwnershipReport
	var errs []error

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			report.Failed++
			errs = append(errs, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		report.Visited++

		info, err := d.Info()
		if err != nil {
			report.Failed++
			errs = append(errs, err)
			return nil
		}
		if ownedBy(info, uid, gid) {
			return nil
		}

		if err := os.Lchown(path, uid, gid); err != nil {
			report.Failed++
			if len(errs) < 10 {
				errs = append(errs, err)
			}
			return nil
		}
		report.Changed++
		return nil
	})
	if walkErr != nil {
		errs = append(errs, walkErr)
	}

	if len(errs) > 0 {
		return report, fmt.Errorf("%d of %d entries not normalized: %w", report.Failed, report.Visited, errors.Join(errs...))
	}
	return report, nil
}
