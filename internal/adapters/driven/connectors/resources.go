package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

// ResourceFunc reads one named provider resource.
type ResourceFunc func(ctx context.Context, cred *driven.Credential, params url.Values) (json.RawMessage, error)

// Resources is a connector's table of read passthroughs.
type Resources map[string]ResourceFunc

// Names returns the resource names, sorted.
func (r Resources) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List runs the named resource.
func (r Resources) List(ctx context.Context, cred *driven.Credential, name string, params url.Values) (json.RawMessage, error) {
	fn, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedResource, name)
	}
	return fn(ctx, cred, params)
}

// Reshape marshals a reshaped provider response.
func Reshape(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode resource: %w", err)
	}
	return raw, nil
}

// DecodeBody parses a create request body, mapping bad JSON to ErrInvalidInput.
func DecodeBody(body json.RawMessage, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// Limit reads a positive "limit" parameter, capped at maxLimit.
func Limit(params url.Values, def, maxLimit int) int {
	n, err := strconv.Atoi(params.Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, maxLimit)
}

// Since returns the start of a trailing window of days ending at now.
func Since(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, -days)
}

// Days returns the number of days between two instants.
func Days(from, to time.Time) float64 {
	return to.Sub(from).Hours() / 24
}
