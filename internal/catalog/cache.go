package catalog

import (
	"fmt"
	"os"
)

// SaveCacheFile writes the snapshot's node types to a local cache file so a
// later run can edit and validate pipelines without a live engine.
func SaveCacheFile(path string, snap *Snapshot) error {
	raw, err := EncodeNodeTypes(snap.Types())
	if err != nil {
		return fmt.Errorf("encode catalog cache: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write catalog cache: %w", err)
	}
	return nil
}

// LoadCacheFile reads a cache file written by SaveCacheFile.
func LoadCacheFile(path string) ([]*NodeTypeSchema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog cache: %w", err)
	}
	types, err := DecodeNodeTypes(raw)
	if err != nil {
		return nil, fmt.Errorf("catalog cache %s: %w", path, err)
	}
	return types, nil
}
