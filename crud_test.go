package dbobj

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userRows(rows ...[]driver.Value) queryHandler {
	return func(string, []any) ([]string, [][]driver.Value, error) {
		return userColNames, rows, nil
	}
}

func TestLoadFromUniqueID(t *testing.T) {
	f := &fakeDB{query: userRows([]driver.Value{int64(1), "ada", "s3", nil, int64(2), "core"})}
	db := newTestDB(t, f)
	u := newUser(db)

	ok, err := u.LoadFromUniqueID(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)

	s := f.last(t)
	assert.Equal(t, selectUser+" WHERE id = ? LIMIT 1", s.query)
	assert.Equal(t, []any{int64(1)}, s.args)

	assert.Equal(t, StateLoaded, u.State())
	assert.Empty(t, u.Changed(), "a loaded row is clean")
	name, _ := u.Get("name")
	assert.Equal(t, "ada", name)
	c, _ := u.Column("secret")
	assert.Equal(t, "s3", c.Value(true), "ExcludeGet columns are still loaded")
}

func TestLoadFromColumn_NotFoundLeavesRowAlone(t *testing.T) {
	f := &fakeDB{query: userRows()}
	db := newTestDB(t, f)
	u := newUser(db)
	u.Set("name", "draft")

	ok, err := u.LoadFromColumn(context.Background(), "name", "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, selectUser+" WHERE name = ? LIMIT 1", f.last(t).query)

	v, _ := u.Get("name")
	assert.Equal(t, "draft", v)
	assert.Equal(t, StateNew, u.State())
}

func TestLoadFromColumn_UnknownColumnIssuesNothing(t *testing.T) {
	f := &fakeDB{}
	u := newUser(newTestDB(t, f))
	ok, err := u.LoadFromColumn(context.Background(), "email", "x")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.statements())
}

func TestLoadFromUniqueID_NoUniqueColumn(t *testing.T) {
	f := &fakeDB{}
	e := newLogEntry(newTestDB(t, f))
	_, err := e.LoadFromUniqueID(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoUniqueColumn)
	assert.Empty(t, f.statements())
}

func TestInsert_OmitsNullsAndWritesBackIdentity(t *testing.T) {
	f := &fakeDB{exec: func(string, []any) (driver.Result, error) {
		return testResult{lastID: 41, rows: 1}, nil
	}}
	u := newUser(newTestDB(t, f))
	u.Set("name", "ada")
	u.Set("prefs", map[string]any{"lang": "en"})
	u.Set("team_id", 2)

	ok, err := u.Insert(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	s := f.last(t)
	assert.Equal(t, "INSERT INTO users(name, prefs, team_id) VALUES(?, ?, ?)", s.query)
	require.Len(t, s.args, 3)
	assert.Equal(t, "ada", s.args[0])
	assert.Equal(t, SerializeValue(map[string]any{"lang": "en"}), s.args[1], "stored form is bound")
	assert.Equal(t, int64(2), s.args[2])

	id, _ := u.Get("id")
	assert.Equal(t, int64(41), id)
	assert.Empty(t, u.Changed())
	assert.Equal(t, StateLoaded, u.State())
}

func TestInsert_IdentityOverridesSuppliedValue(t *testing.T) {
	f := &fakeDB{exec: func(string, []any) (driver.Result, error) {
		return testResult{lastID: 9, rows: 1}, nil
	}}
	u := newUser(newTestDB(t, f))
	u.Set("id", int64(5))
	u.Set("name", "ada")

	_, err := u.Insert(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO users(id, name) VALUES(?, ?)", f.last(t).query)
	id, _ := u.Get("id")
	assert.Equal(t, int64(9), id)
}

func TestInsert_IdentityUnavailableKeepsValue(t *testing.T) {
	f := &fakeDB{exec: func(string, []any) (driver.Result, error) {
		return testResult{rows: 1, liErr: errors.New("no LastInsertId")}, nil
	}}
	u := newUser(newTestDB(t, f))
	u.Set("name", "ada")

	ok, err := u.Insert(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	id, _ := u.Get("id")
	assert.Nil(t, id)
}

func TestInsert_WithoutUniqueColumn(t *testing.T) {
	f := &fakeDB{exec: func(string, []any) (driver.Result, error) {
		return testResult{rows: 1}, nil
	}}
	e := newLogEntry(newTestDB(t, f))
	e.Set("message", "hello")

	ok, err := e.Insert(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "INSERT INTO log_entries(message) VALUES(?)", f.last(t).query)
}

func TestInsert_Failure(t *testing.T) {
	boom := errors.New("constraint violated")
	f := &fakeDB{exec: func(string, []any) (driver.Result, error) { return nil, boom }}
	u := newUser(newTestDB(t, f))
	u.Set("name", "ada")

	ok, err := u.Insert(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.False(t, ok)
	assert.Equal(t, []string{"name"}, u.Changed(), "failed insert keeps pending changes")
}

func loadedUser(t *testing.T, f *fakeDB) *user {
	t.Helper()
	f.query = userRows([]driver.Value{int64(3), "ada", "s3", nil, nil, nil})
	u := newUser(newTestDB(t, f))
	ok, err := u.LoadFromUniqueID(context.Background(), 3)
	require.NoError(t, err)
	require.True(t, ok)
	return u
}

func TestUpdate_WritesEveryUpdatableColumn(t *testing.T) {
	f := &fakeDB{exec: func(string, []any) (driver.Result, error) { return testResult{rows: 1}, nil }}
	u := loadedUser(t, f)
	u.Set("name", "grace")

	ok, err := u.Update(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	s := f.last(t)
	assert.Equal(t,
		"UPDATE users SET name = ?, secret = ?, prefs = ?, team_id = ?, team_code = ? WHERE id = ?",
		s.query)
	assert.Equal(t, []any{"grace", "s3", nil, nil, nil, int64(3)}, s.args)
	assert.Equal(t, StateUpdated, u.State())
	assert.Empty(t, u.Changed())
}

func TestUpdate_ZeroRowsReportsFalse(t *testing.T) {
	f := &fakeDB{exec: func(string, []any) (driver.Result, error) { return testResult{rows: 0}, nil }}
	u := loadedUser(t, f)
	ok, err := u.Update(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdate_RowsAffectedUnsupported(t *testing.T) {
	f := &fakeDB{exec: func(string, []any) (driver.Result, error) {
		return testResult{raErr: errors.New("unsupported")}, nil
	}}
	u := loadedUser(t, f)
	ok, err := u.Update(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpdate_ConfigurationErrors(t *testing.T) {
	f := &fakeDB{}
	db := newTestDB(t, f)
	ctx := context.Background()

	e := newLogEntry(db)
	_, err := e.Update(ctx)
	assert.ErrorIs(t, err, ErrNoUniqueColumn)
	_, err = e.UpdateColumn(ctx, "message")
	assert.ErrorIs(t, err, ErrNoUniqueColumn)
	_, err = e.UpdateChanged(ctx)
	assert.ErrorIs(t, err, ErrNoUniqueColumn)
	_, err = e.Delete(ctx)
	assert.ErrorIs(t, err, ErrNoUniqueColumn)

	ro := db.NewTable("readonly")
	require.NoError(t, ro.Define("id", UniqueID|ExcludeUpdate))
	require.NoError(t, ro.Define("created", ExcludeUpdate))
	_, err = ro.Update(ctx)
	assert.ErrorIs(t, err, ErrNothingToUpdate)

	assert.Empty(t, f.statements())
}

func TestUpdateColumn(t *testing.T) {
	f := &fakeDB{exec: func(string, []any) (driver.Result, error) { return testResult{rows: 1}, nil }}
	u := loadedUser(t, f)
	ctx := context.Background()
	u.Set("team_code", "core")

	ok, err := u.UpdateColumn(ctx, "team_code")
	require.NoError(t, err)
	assert.True(t, ok)
	s := f.last(t)
	assert.Equal(t, "UPDATE users SET team_code = ? WHERE id = ?", s.query)
	assert.Equal(t, []any{"core", int64(3)}, s.args)

	n := len(f.statements())
	ok, err = u.UpdateColumn(ctx, "id")
	require.NoError(t, err)
	assert.False(t, ok, "ExcludeUpdate column")
	ok, err = u.UpdateColumn(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok, "unknown column")
	assert.Len(t, f.statements(), n)
}

func TestUpdateChanged(t *testing.T) {
	f := &fakeDB{exec: func(string, []any) (driver.Result, error) { return testResult{rows: 1}, nil }}
	u := loadedUser(t, f)
	ctx := context.Background()
	n := len(f.statements())

	ok, err := u.UpdateChanged(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, f.statements(), n, "clean row issues nothing")

	u.Set("name", "grace")
	u.Set("prefs", []string{"a"})
	ok, err = u.UpdateChanged(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	s := f.last(t)
	assert.Equal(t, "UPDATE users SET name = ?, prefs = ? WHERE id = ?", s.query)
	assert.Equal(t, []any{"grace", SerializeValue([]string{"a"}), int64(3)}, s.args)
	assert.Empty(t, u.Changed())
}

func TestDelete_ResetsRow(t *testing.T) {
	f := &fakeDB{exec: func(string, []any) (driver.Result, error) { return testResult{rows: 1}, nil }}
	u := loadedUser(t, f)

	ok, err := u.Delete(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	s := f.last(t)
	assert.Equal(t, "DELETE FROM users WHERE id = ?", s.query)
	assert.Equal(t, []any{int64(3)}, s.args)

	assert.Equal(t, StateDeleted, u.State())
	for name, v := range u.RowMap() {
		assert.Nil(t, v, name)
	}
}

func TestDelete_ResetsEvenWhenNothingMatched(t *testing.T) {
	f := &fakeDB{exec: func(string, []any) (driver.Result, error) { return testResult{rows: 0}, nil }}
	u := loadedUser(t, f)

	ok, err := u.Delete(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	id, _ := u.Get("id")
	assert.Nil(t, id)
}

func TestDelete_ResetsEvenOnError(t *testing.T) {
	boom := errors.New("locked")
	f := &fakeDB{exec: func(string, []any) (driver.Result, error) { return nil, boom }}
	u := loadedUser(t, f)

	ok, err := u.Delete(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.False(t, ok)
	name, _ := u.Get("name")
	assert.Nil(t, name)
	assert.Equal(t, StateDeleted, u.State())
}

func TestDelete_RowCanBeReinserted(t *testing.T) {
	f := &fakeDB{exec: func(string, []any) (driver.Result, error) {
		return testResult{lastID: 8, rows: 1}, nil
	}}
	u := loadedUser(t, f)
	ctx := context.Background()

	_, err := u.Delete(ctx)
	require.NoError(t, err)
	require.Equal(t, StateDeleted, u.State())

	u.Set("name", "ada")
	ok, err := u.Insert(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "INSERT INTO users(name) VALUES(?)", f.last(t).query)
	assert.Equal(t, []any{"ada"}, f.last(t).args)
	id, _ := u.Get("id")
	assert.Equal(t, int64(8), id)
	assert.Equal(t, StateLoaded, u.State())
}
