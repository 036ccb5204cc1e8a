package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// CacheTTL bounds how long discovered metadata is trusted.
const CacheTTL = 7 * 24 * time.Hour

// MetadataFetcher is the slice of the Service Layer client discovery needs.
type MetadataFetcher interface {
	// ServiceDocument lists the entity set names exposed by the service.
	ServiceDocument(ctx context.Context) ([]string, error)
	// SampleEntity fetches one record of the entity set for type inference.
	SampleEntity(ctx context.Context, entity string) (map[string]any, error)
}

// cacheDocument is the on-disk representation of discovered schemas.
type cacheDocument struct {
	DiscoveredAt time.Time                       `json:"discovered_at"`
	Entities     map[string]map[string]FieldType `json:"entities"`
}

//nolint:gochecknoglobals // Date literal detection for type inference
var reDateValue = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// inferFieldType maps a sampled JSON value onto an EDM type.
func inferFieldType(value any) FieldType {
	switch v := value.(type) {
	case bool:
		return TypeBoolean
	case float64:
		// JSON numbers are float64; integral values are assumed Int32.
		if v == float64(int64(v)) {
			return TypeInt32
		}
		return TypeDouble
	case string:
		if reDateValue.MatchString(v) {
			return TypeDateTime
		}
		if v == "tYES" || v == "tNO" {
			return TypeBoolean
		}
		return TypeString
	default:
		return TypeString
	}
}

// Discover enumerates the service document and samples each new entity set
// to infer field types. Core schemas are never overwritten; discovery only
// adds entities the registry does not know yet.
func (r *Registry) Discover(ctx context.Context, fetcher MetadataFetcher) error {
	names, err := fetcher.ServiceDocument(ctx)
	if err != nil {
		return fmt.Errorf("service document fetch failed: %w", err)
	}

	added := 0
	for _, name := range names {
		r.mu.RLock()
		_, known := r.schemas[name]
		r.mu.RUnlock()
		if known {
			continue
		}

		sample, err := fetcher.SampleEntity(ctx, name)
		if err != nil {
			r.logger.Debug("sampling %s failed: %v", name, err)
			continue
		}
		if len(sample) == 0 {
			continue
		}

		fields := make(map[string]FieldType, len(sample))
		for field, value := range sample {
			if field == "odata.etag" {
				continue
			}
			fields[field] = inferFieldType(value)
		}

		r.mu.Lock()
		r.schemas[name] = &EntitySchema{
			Name:       name,
			Fields:     fields,
			Discovered: true,
		}
		r.mu.Unlock()
		added++
	}

	r.logger.Info("discovery added %d entity sets (%d total)", added, len(names))
	return nil
}

// SaveCache persists discovered schemas to path.
func (r *Registry) SaveCache(path string) error {
	r.mu.RLock()
	doc := cacheDocument{
		DiscoveredAt: time.Now().UTC(),
		Entities:     make(map[string]map[string]FieldType),
	}
	for name, schema := range r.schemas {
		if schema.Discovered {
			doc.Entities[name] = schema.Fields
		}
	}
	r.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry cache: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write registry cache: %w", err)
	}
	return nil
}

// LoadCache restores discovered schemas from path. A stale cache (older than
// CacheTTL) is ignored and the caller should re-discover.
func (r *Registry) LoadCache(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read registry cache: %w", err)
	}

	var doc cacheDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("failed to parse registry cache: %w", err)
	}

	if time.Since(doc.DiscoveredAt) > CacheTTL {
		r.logger.Info("registry cache from %s is stale, ignoring", doc.DiscoveredAt.Format(time.RFC3339))
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, fields := range doc.Entities {
		if _, known := r.schemas[name]; known {
			continue
		}
		r.schemas[name] = &EntitySchema{
			Name:       name,
			Fields:     fields,
			Discovered: true,
		}
	}
	return true, nil
}
