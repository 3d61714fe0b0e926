// Package storetest holds the behaviour every CollectionStore backend has to
// share. Backend tests call Run against a fresh, empty store.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrimpsizemoose/examportal/internal/store"
)

func Run(t *testing.T, s store.CollectionStore) {
	ctx := context.Background()

	t.Run("missing collection", func(t *testing.T) {
		_, err := s.Load(ctx, "users")
		assert.ErrorIs(t, err, store.ErrNotFound)

		rev, err := s.Revision(ctx, "users")
		require.NoError(t, err)
		assert.Equal(t, int64(0), rev)
	})

	t.Run("first save creates revision 1", func(t *testing.T) {
		rev, err := s.Save(ctx, "users", []byte(`{"items":[{"id":"s1"}]}`), 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rev)

		got, err := s.Load(ctx, "users")
		require.NoError(t, err)
		assert.JSONEq(t, `{"items":[{"id":"s1"}]}`, string(got.Payload))
		assert.Equal(t, int64(1), got.Revision)
	})

	t.Run("second create conflicts", func(t *testing.T) {
		_, err := s.Save(ctx, "users", []byte(`{"items":[]}`), 0)
		assert.ErrorIs(t, err, store.ErrConflict)

		got, err := s.Load(ctx, "users")
		require.NoError(t, err)
		assert.JSONEq(t, `{"items":[{"id":"s1"}]}`, string(got.Payload))
	})

	t.Run("save replaces at the current revision", func(t *testing.T) {
		rev, err := s.Save(ctx, "users", []byte(`{"items":[]}`), 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), rev)

		got, err := s.Load(ctx, "users")
		require.NoError(t, err)
		assert.JSONEq(t, `{"items":[]}`, string(got.Payload))

		current, err := s.Revision(ctx, "users")
		require.NoError(t, err)
		assert.Equal(t, int64(2), current)
	})

	t.Run("stale revision conflicts", func(t *testing.T) {
		_, err := s.Save(ctx, "users", []byte(`{"items":[{"id":"lost"}]}`), 1)
		assert.ErrorIs(t, err, store.ErrConflict)

		got, err := s.Load(ctx, "users")
		require.NoError(t, err)
		assert.JSONEq(t, `{"items":[]}`, string(got.Payload))
		assert.Equal(t, int64(2), got.Revision)
	})

	t.Run("collections are independent", func(t *testing.T) {
		_, err := s.Save(ctx, "exams", []byte(`{"items":[{"id":"e1"}]}`), 0)
		require.NoError(t, err)

		users, err := s.Load(ctx, "users")
		require.NoError(t, err)
		assert.JSONEq(t, `{"items":[]}`, string(users.Payload))
	})
}
