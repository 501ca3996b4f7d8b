package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider satisfies DataProvider with canned responses; only ID
// matters for registry tests.
type stubProvider struct {
	id string
}

func (s *stubProvider) ID() string { return s.id }

func (s *stubProvider) List(context.Context, string, ListOptions, Credentials) (*ListResult, error) {
	return &ListResult{}, nil
}

func (s *stubProvider) Read(context.Context, string, string, ListOptions, Credentials) (*Resource, error) {
	return &Resource{}, nil
}

func (s *stubProvider) Create(context.Context, string, string, *Upload, Credentials) (*Resource, error) {
	return &Resource{}, nil
}

func (s *stubProvider) Update(context.Context, string, string, UpdateBody, *Upload, Credentials) (*Resource, error) {
	return &Resource{}, nil
}

func (s *stubProvider) Delete(context.Context, string, string, Credentials) error {
	return nil
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(&stubProvider{id: "beta"}, &stubProvider{id: "alpha"})

	t.Run("get known", func(t *testing.T) {
		p, err := reg.Get("alpha")
		require.NoError(t, err)
		assert.Equal(t, "alpha", p.ID())
	})

	t.Run("get unknown is a client error", func(t *testing.T) {
		_, err := reg.Get("gamma")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrBadRequest)
	})

	t.Run("ids are sorted", func(t *testing.T) {
		assert.Equal(t, []string{"alpha", "beta"}, reg.IDs())
	})
}

func TestErrorUnwrapsToSentinel(t *testing.T) {
	err := WrapError(ErrNotFound, "resolving /docs/missing.txt", errors.New("404"))

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrBadRequest)
	assert.Contains(t, err.Error(), "resolving /docs/missing.txt")
	assert.Contains(t, err.Error(), "404")
}

func TestErrorfMessage(t *testing.T) {
	err := Errorf(ErrBadRequest, "unknown field %q", "color")

	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Equal(t, `unknown field "color"`, err.Error())
}

func TestUpdateBodyEmpty(t *testing.T) {
	assert.True(t, UpdateBody{}.Empty())
	assert.False(t, UpdateBody{Name: "new.txt"}.Empty())
	assert.False(t, UpdateBody{LastModifiedTime: "2021-01-01T00:00:00Z"}.Empty())
}

func TestDrainCap(t *testing.T) {
	assert.Equal(t, 50, ListOptions{}.DrainCap(50))
	assert.Equal(t, 50, ListOptions{Limit: -3}.DrainCap(50))
	assert.Equal(t, 10, ListOptions{Limit: 10}.DrainCap(50))
	// The configured cap is the ceiling; requests cannot raise it.
	assert.Equal(t, 50, ListOptions{Limit: 200}.DrainCap(50))
}

func TestTimestamp(t *testing.T) {
	assert.Empty(t, Timestamp(time.Time{}))

	when := time.Date(2021, time.June, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "2021-06-01T12:00:00Z", Timestamp(when))
}
