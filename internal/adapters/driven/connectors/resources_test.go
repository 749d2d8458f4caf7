package connectors

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

func TestResources(t *testing.T) {
	var gotLimit string
	res := Resources{
		"projects": func(_ context.Context, _ *driven.Credential, params url.Values) (json.RawMessage, error) {
			gotLimit = params.Get("limit")
			return Reshape([]string{"p1"})
		},
		"boards": func(context.Context, *driven.Credential, url.Values) (json.RawMessage, error) {
			return nil, nil
		},
	}

	assert.Equal(t, []string{"boards", "projects"}, res.Names())

	raw, err := res.List(context.Background(), &driven.Credential{}, "projects", url.Values{"limit": {"5"}})
	require.NoError(t, err)
	assert.JSONEq(t, `["p1"]`, string(raw))
	assert.Equal(t, "5", gotLimit)

	_, err = res.List(context.Background(), &driven.Credential{}, "invoices", nil)
	assert.ErrorIs(t, err, domain.ErrUnsupportedResource)
}

func TestDecodeBody(t *testing.T) {
	var out struct {
		Name string `json:"name"`
	}
	require.NoError(t, DecodeBody(json.RawMessage(`{"name":"x"}`), &out))
	assert.Equal(t, "x", out.Name)

	assert.ErrorIs(t, DecodeBody(json.RawMessage(`{`), &out), domain.ErrInvalidInput)
}

func TestLimit(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", 20},
		{"abc", 20},
		{"-1", 20},
		{"0", 20},
		{"7", 7},
		{"500", 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Limit(url.Values{"limit": {tt.raw}}, 20, 100), "limit=%q", tt.raw)
	}
}

func TestSinceAndDays(t *testing.T) {
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	from := Since(now, 30)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), from)
	assert.InDelta(t, 30.0, Days(from, now), 0.001)
}
