package dbobj

import (
	"context"
	"database/sql/driver"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// teamsAndUsers answers team lookups with one team and user lookups with one
// user pointing at it.
func teamsAndUsers(query string, _ []any) ([]string, [][]driver.Value, error) {
	if strings.HasPrefix(query, selectTeam) {
		return []string{"id", "code", "title"}, [][]driver.Value{{int64(2), "core", "Core"}}, nil
	}
	return userColNames, [][]driver.Value{{int64(1), "ada", nil, nil, int64(2), "core"}}, nil
}

func TestRelation_NullOrPlainColumnQueriesNothing(t *testing.T) {
	f := &fakeDB{}
	u := newUser(newTestDB(t, f))
	ctx := context.Background()

	for _, name := range []string{"team_id", "name", "missing"} {
		m, ok, err := u.Relation(ctx, name)
		require.NoError(t, err, name)
		assert.False(t, ok, name)
		assert.Nil(t, m, name)
	}
	assert.Empty(t, f.statements())
}

func TestRelation_ByUniqueID(t *testing.T) {
	f := &fakeDB{query: teamsAndUsers}
	u := newUser(newTestDB(t, f))
	u.Set("team_id", int64(2))

	m, ok, err := u.Relation(context.Background(), "team_id")
	require.NoError(t, err)
	require.True(t, ok)

	s := f.last(t)
	assert.Equal(t, selectTeam+" WHERE id = ? LIMIT 1", s.query)
	assert.Equal(t, []any{int64(2)}, s.args)

	tm, isTeam := m.(*team)
	require.True(t, isTeam, "factory builds the registered type, got %T", m)
	code, _ := tm.Get("code")
	assert.Equal(t, "core", code)
	assert.Equal(t, StateLoaded, tm.State())
}

func TestRelation_ByRelationColumn(t *testing.T) {
	f := &fakeDB{query: teamsAndUsers}
	u := newUser(newTestDB(t, f))
	u.Set("team_code", "core")

	tm, ok, err := RelationAs[*team](context.Background(), u, "team_code")
	require.NoError(t, err)
	require.True(t, ok)

	s := f.last(t)
	assert.Equal(t, selectTeam+" WHERE code = ? LIMIT 1", s.query)
	assert.Equal(t, []any{"core"}, s.args)
	title, _ := tm.Get("title")
	assert.Equal(t, "Core", title)
}

func TestRelation_TargetMissing(t *testing.T) {
	f := &fakeDB{query: func(string, []any) ([]string, [][]driver.Value, error) {
		return []string{"id", "code", "title"}, nil, nil
	}}
	u := newUser(newTestDB(t, f))
	u.Set("team_id", int64(99))

	m, ok, err := u.Relation(context.Background(), "team_id")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, m)
	assert.Len(t, f.statements(), 1)
}

func TestRelation_EveryCallQueries(t *testing.T) {
	f := &fakeDB{query: teamsAndUsers}
	u := newUser(newTestDB(t, f))
	u.Set("team_id", int64(2))
	ctx := context.Background()

	_, _, err := u.Relation(ctx, "team_id")
	require.NoError(t, err)
	_, _, err = u.Relation(ctx, "team_id")
	require.NoError(t, err)
	assert.Len(t, f.statements(), 2)
}

func TestRelationAs_WrongType(t *testing.T) {
	f := &fakeDB{query: teamsAndUsers}
	u := newUser(newTestDB(t, f))
	u.Set("team_id", int64(2))

	_, ok, err := RelationAs[*user](context.Background(), u, "team_id")
	assert.Error(t, err)
	assert.False(t, ok)
}
