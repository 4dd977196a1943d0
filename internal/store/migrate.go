package store

import (
	"fmt"
	"io/fs"
	"sort"
)

// applyMigrations executes the SQL files under the backend's subdirectory in
// lexicographical order.
func applyMigrations(filesystem fs.FS, backend string, exec func(stmt string) error) error {
	entries, err := fs.ReadDir(filesystem, backend)
	if err != nil {
		return fmt.Errorf("read %s migrations: %w", backend, err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		sqlBytes, err := fs.ReadFile(filesystem, backend+"/"+entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if len(sqlBytes) == 0 {
			continue
		}
		if err := exec(string(sqlBytes)); err != nil {
			return fmt.Errorf("execute migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}
