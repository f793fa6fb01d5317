package storage

import (
	"io/fs"
	"os"
	"path/filepath"
)

// sqliteSidecars are the files SQLite keeps next to the database in WAL mode.
var sqliteSidecars = []string{"-wal", "-shm", "-journal"}

// Footprint is the on-disk size of a knowledge store, split by component.
type Footprint struct {
	Database int64 `json:"database_bytes"`
	Keyword  int64 `json:"keyword_bytes"`
	Vector   int64 `json:"vector_bytes"`
}

// Total returns the summed size.
func (f Footprint) Total() int64 {
	return f.Database + f.Keyword + f.Vector
}

// MeasureFootprint sizes the SQLite database (with its WAL sidecars), the
// bleve index directory and the vector snapshot directory. Missing paths count as zero.
func MeasureFootprint(dbPath, blevePath, vectorPath string) (Footprint, error) {
	var fp Footprint
	var err error
	if dbPath != "" {
		paths := []string{dbPath}
		for _, suffix := range sqliteSidecars {
			paths = append(paths, dbPath+suffix)
		}
		if fp.Database, err = sizeOf(paths...); err != nil {
			return Footprint{}, err
		}
	}
	if fp.Keyword, err = sizeOf(blevePath); err != nil {
		return Footprint{}, err
	}
	if fp.Vector, err = sizeOf(vectorPath); err != nil {
		return Footprint{}, err
	}
	return fp, nil
}

// sizeOf sums regular files under each path. Empty and missing paths are skipped.
func sizeOf(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
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
		if err != nil && !os.IsNotExist(err) {
			return 0, err
		}
	}
	return total, nil
}
