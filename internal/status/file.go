package status

import (
	"encoding/json"
	"fmt"

	"github.com/google/renameio/v2"
)

// FilePublisher writes each snapshot as JSON to Path, replacing the previous
// one atomically so readers never observe a partial document.
type FilePublisher struct {
	Path string
}

// Publish implements Publisher.
func (f FilePublisher) Publish(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	data = append(data, '\n')
	if err := renameio.WriteFile(f.Path, data, 0o644); err != nil {
		return fmt.Errorf("write status file %s: %w", f.Path, err)
	}
	return nil
}
