package remote

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryBackend_CRUD tests basic behavior.
func TestMemoryBackend_CRUD(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	row, err := m.Insert(ctx, "tickets", map[string]interface{}{"id": "t-1", "status": "OPEN"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"t-1","status":"OPEN"}`, string(row))

	_, err = m.Insert(ctx, "tickets", map[string]interface{}{"id": "t-1"})
	_, conflict := AsConflict(err)
	assert.True(t, conflict)

	_, err = m.Update(ctx, "tickets", "t-1", map[string]interface{}{"status": "CLOSED"})
	require.NoError(t, err)

	_, err = m.Upsert(ctx, "tickets", map[string]interface{}{"id": "t-2", "status": "OPEN"})
	require.NoError(t, err)

	rows, err := m.Select(ctx, "tickets", Where("status", "OPEN"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Contains(t, string(rows[0]), "t-2")

	require.NoError(t, m.Delete(ctx, "tickets", "t-2"))
	_, ok := m.Row("tickets", "t-2")
	assert.False(t, ok)

	assert.Equal(t, 2, m.Calls("insert", "tickets"))
}

// TestMemoryBackend_GeneratesIDs tests inserts without ids.
func TestMemoryBackend_GeneratesIDs(t *testing.T) {
	row, err := NewMemoryBackend().Insert(context.Background(), "assessments", map[string]interface{}{"ticket_id": "t-1"})
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(row, &got))
	assert.NotEmpty(t, got["id"])
}

// TestMemoryBackend_Failures tests failure injection.
func TestMemoryBackend_Failures(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()
	boom := errors.New("remote insert failed")

	m.FailOn("insert", "assessments", boom)
	_, err := m.Insert(ctx, "assessments", map[string]interface{}{"id": "a"})
	assert.ErrorIs(t, err, boom)

	m.FailOn("insert", "assessments", nil)
	_, err = m.Insert(ctx, "assessments", map[string]interface{}{"id": "a"})
	assert.NoError(t, err)

	m.ConflictOn("assessments", "a", json.RawMessage(`{"id":"a","v":2}`))
	_, err = m.Update(ctx, "assessments", "a", map[string]interface{}{"v": 3})
	re, ok := AsConflict(err)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"a","v":2}`, string(re.ServerPayload))

	m.FailAll(boom)
	_, err = m.Select(ctx, "assessments", Query{})
	assert.ErrorIs(t, err, boom)
}

// TestMemoryBackend_SelectOrder tests ordering and limits.
func TestMemoryBackend_SelectOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()
	for _, id := range []string{"b", "c", "a"} {
		require.NoError(t, m.Seed("tickets", map[string]interface{}{"id": id, "updated_at": "2026-03-0" + map[string]string{"a": "1", "b": "2", "c": "3"}[id]}))
	}

	rows, err := m.Select(ctx, "tickets", Query{}.Order("updated_at", true).First(2))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Contains(t, string(rows[0]), `"c"`)
	assert.Contains(t, string(rows[1]), `"b"`)
	assert.Zero(t, m.Calls("insert", "tickets"))
}
