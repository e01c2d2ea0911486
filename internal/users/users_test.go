package users_test

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scormetry/scormetry/internal/db"
	"github.com/scormetry/scormetry/internal/users"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:users_%d?mode=memory&cache=shared", time.Now().UnixNano())
	dbh, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbh.Close() })
	return dbh
}

func TestUpsert(t *testing.T) {
	ctx := context.Background()
	dbh := openDB(t)

	ins, upd, err := users.Upsert(ctx, dbh, []users.User{
		{ID: "u1", Username: "ada", Role: "teacher", Password: "pw-ada"},
		{Username: "bob", Password: "pw-bob"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, ins)
	assert.Equal(t, 0, upd)

	ins, upd, err = users.Upsert(ctx, dbh, []users.User{{ID: "u1", Username: "ada", Role: "Judge"}})
	require.NoError(t, err)
	assert.Equal(t, 0, ins)
	assert.Equal(t, 1, upd)

	list, err := users.List(ctx, dbh, "")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ada", list[0].Username)
	assert.Equal(t, "judge", list[0].Role)
	assert.Equal(t, "student", list[1].Role)

	students, err := users.List(ctx, dbh, "student")
	require.NoError(t, err)
	assert.Len(t, students, 1)
}

func TestUpsert_RejectsWholeBatch(t *testing.T) {
	ctx := context.Background()
	dbh := openDB(t)

	_, _, err := users.Upsert(ctx, dbh, []users.User{
		{Username: "ok", Password: "pw"},
		{Username: "nopass"},
	})
	var ierr *users.InvalidError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, 1, ierr.Row)

	list, err := users.List(ctx, dbh, "")
	require.NoError(t, err)
	assert.Empty(t, list, "transaction rolled back")

	_, _, err = users.Upsert(ctx, dbh, []users.User{{Username: "x", Role: "owner", Password: "pw"}})
	require.ErrorAs(t, err, &ierr)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	dbh := openDB(t)
	_, _, err := users.Upsert(ctx, dbh, []users.User{{ID: "u1", Username: "ada", Password: "old"}})
	require.NoError(t, err)

	assert.ErrorIs(t, users.ChangePassword(ctx, dbh, "u1", "wrong", "new"), users.ErrWrongPassword)
	assert.ErrorIs(t, users.ChangePassword(ctx, dbh, "u9", "old", "new"), users.ErrNotFound)
	require.NoError(t, users.ChangePassword(ctx, dbh, "u1", "old", "new"))
	require.NoError(t, users.ChangePassword(ctx, dbh, "u1", "new", "newer"))
}

func TestUpdateRole_KeepsLastAdmin(t *testing.T) {
	ctx := context.Background()
	dbh := openDB(t)
	_, _, err := users.Upsert(ctx, dbh, []users.User{
		{ID: "a1", Username: "root", Role: "admin", Password: "pw"},
		{ID: "t1", Username: "tess", Role: "teacher", Password: "pw"},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, users.UpdateRole(ctx, dbh, "root", "teacher"), users.ErrLastAdmin)
	require.NoError(t, users.UpdateRole(ctx, dbh, "tess", "admin"))
	require.NoError(t, users.UpdateRole(ctx, dbh, "a1", "judge"))
	assert.ErrorIs(t, users.UpdateRole(ctx, dbh, "nobody", "judge"), users.ErrNotFound)
}

func TestParseCSV(t *testing.T) {
	in := "username, role, password\nada, Teacher, pw1\nbob,student,\n"
	rows, err := users.ParseCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []users.User{
		{Username: "ada", Role: "teacher", Password: "pw1"},
		{Username: "bob", Role: "student"},
	}, rows)

	_, err = users.ParseCSV(strings.NewReader("id,username\n1,ada\n"))
	assert.EqualError(t, err, "missing column: role")
}
