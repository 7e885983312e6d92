// Package record persists the lifecycle record that binds a deployment
// session to its endpoint name, so a later cleanup or test session can find
// the endpoint without re-listing the platform.
package record

import (
	"encoding/json"
	"fmt"
	"os"

	"smctl/lib/endpoint"
)

// DefaultPath matches the file name earlier tooling wrote, so existing
// records stay readable.
const DefaultPath = "endpoint_info.json"

// Save writes the record as indented JSON. The record is write-once: there
// is no update path, and concurrent writers are out of contract.
func Save(path string, r endpoint.Record) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to encode record: %v", endpoint.ErrPersistence, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: failed to write record to %s: %v", endpoint.ErrPersistence, path, err)
	}
	return nil
}

// Load reads a previously saved record. A missing file or a record without
// an endpoint name maps to ErrNotFound; records with other fields missing
// are tolerated.
func Load(path string) (endpoint.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return endpoint.Record{}, fmt.Errorf("%w: record file %s", endpoint.ErrNotFound, path)
		}
		return endpoint.Record{}, fmt.Errorf("%w: failed to read record from %s: %v", endpoint.ErrPersistence, path, err)
	}
	var r endpoint.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return endpoint.Record{}, fmt.Errorf("%w: failed to parse record %s: %v", endpoint.ErrPersistence, path, err)
	}
	if r.EndpointName == "" {
		return endpoint.Record{}, fmt.Errorf("%w: no endpoint name in record %s", endpoint.ErrNotFound, path)
	}
	return r, nil
}
