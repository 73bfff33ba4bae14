package rbac

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantadmin/pkg/storage/postgres"
	"github.com/platinummonkey/tenantadmin/pkg/validation"
)

var roleRowColumns = []string{"id", "name", "guard_name", "label", "description", "created_at", "updated_at", "permissions"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewStore(db), mock, db
}

func roleRow(id int64, name string, perms string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(roleRowColumns).AddRow(id, name, GuardWeb, "", "", now, now, perms)
}

func TestStore_CreateRole(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("rejects uppercase name without touching the database", func(t *testing.T) {
		_, err := store.CreateRole(ctx, CreateRoleRequest{Name: "Users_Admin"})
		v, ok := validation.AsValidationError(err)
		require.True(t, ok)
		assert.True(t, v.Has("name", validation.RuleFormat))
	})

	t.Run("accepts lowercase name", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO roles \(name, guard_name, label, description, created_at, updated_at\)`).
			WithArgs("users_admin", GuardWeb, "Users admin", "", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
		mock.ExpectExec(`DELETE FROM role_has_permissions WHERE role_id = \$1`).
			WithArgs(int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		role, err := store.CreateRole(ctx, CreateRoleRequest{Name: "users_admin", Label: "Users admin"})
		require.NoError(t, err)
		assert.Equal(t, int64(3), role.ID)
		assert.Equal(t, GuardWeb, role.GuardName)
		assert.Empty(t, role.Permissions)
	})

	t.Run("attaches permissions in the same transaction", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO roles`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))
		mock.ExpectQuery(`SELECT id, name FROM permissions WHERE guard_name = \$1 AND name = ANY\(\$2\)`).
			WithArgs(GuardWeb, pq.Array([]string{"pages.view", "pages.edit"})).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(11, "pages.edit").AddRow(12, "pages.view"))
		mock.ExpectExec(`DELETE FROM role_has_permissions`).WithArgs(int64(4)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`INSERT INTO role_has_permissions`).
			WithArgs(int64(4), pq.Array([]int64{12, 11})).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		role, err := store.CreateRole(ctx, CreateRoleRequest{Name: "editor", Permissions: []string{"pages.view", "pages.edit"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"pages.edit", "pages.view"}, role.Permissions)
	})

	t.Run("duplicate name", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO roles`).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "roles_name_key"})
		mock.ExpectRollback()

		_, err := store.CreateRole(ctx, CreateRoleRequest{Name: "editor"})
		v, ok := validation.AsValidationError(err)
		require.True(t, ok)
		assert.True(t, v.Has("name", validation.RuleUnique))
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetRole(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectQuery(`FROM roles r WHERE r.id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(roleRow(1, "editor", "{pages.edit,pages.view}"))

	role, err := store.GetRole(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "editor", role.Name)
	assert.Equal(t, []string{"pages.edit", "pages.view"}, role.Permissions)

	mock.ExpectQuery(`FROM roles r WHERE r.id = \$1`).
		WithArgs(int64(2)).
		WillReturnError(sql.ErrNoRows)

	_, err = store.GetRole(ctx, 2)
	assert.ErrorIs(t, err, ErrRoleNotFound)
	assert.ErrorIs(t, err, postgres.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func expectSync(mock sqlmock.Sqlmock, roleID int64, names []string, ids []int64) {
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT guard_name FROM roles WHERE id = \$1 FOR UPDATE`).
		WithArgs(roleID).
		WillReturnRows(sqlmock.NewRows([]string{"guard_name"}).AddRow(GuardWeb))
	rows := sqlmock.NewRows([]string{"id", "name"})
	for i, name := range names {
		rows.AddRow(ids[i], name)
	}
	mock.ExpectQuery(`SELECT id, name FROM permissions`).
		WithArgs(GuardWeb, pq.Array(names)).
		WillReturnRows(rows)
	mock.ExpectExec(`DELETE FROM role_has_permissions WHERE role_id = \$1`).
		WithArgs(roleID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO role_has_permissions \(role_id, permission_id\)`).
		WithArgs(roleID, pq.Array(ids)).
		WillReturnResult(sqlmock.NewResult(0, int64(len(ids))))
	mock.ExpectExec(`UPDATE roles SET updated_at = NOW\(\) WHERE id = \$1`).
		WithArgs(roleID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestStore_SyncPermissions(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("applying the same set twice is stable", func(t *testing.T) {
		names := []string{"pages.edit", "pages.publish"}
		var results [][]string
		for i := 0; i < 2; i++ {
			expectSync(mock, 7, names, []int64{1, 2})
			mock.ExpectQuery(`FROM roles r WHERE r.id = \$1`).
				WithArgs(int64(7)).
				WillReturnRows(roleRow(7, "editor", "{pages.edit,pages.publish}"))

			role, err := store.SyncPermissions(ctx, 7, names)
			require.NoError(t, err)
			results = append(results, role.Permissions)
		}
		assert.Equal(t, results[0], results[1])
		assert.Equal(t, names, results[1])
	})

	t.Run("unknown name aborts before any write", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT guard_name FROM roles WHERE id = \$1 FOR UPDATE`).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"guard_name"}).AddRow(GuardWeb))
		mock.ExpectQuery(`SELECT id, name FROM permissions`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "pages.edit"))
		mock.ExpectRollback()

		_, err := store.SyncPermissions(ctx, 7, []string{"pages.edit", "pages.nope"})
		v, ok := validation.AsValidationError(err)
		require.True(t, ok)
		assert.True(t, v.Has("permissions.1", validation.RuleExists))
		assert.False(t, v.Has("permissions.0", validation.RuleExists))
	})

	t.Run("malformed names never open a transaction", func(t *testing.T) {
		_, err := store.SyncPermissions(ctx, 7, []string{"Pages Edit", "pages.edit", "pages.edit"})
		v, ok := validation.AsValidationError(err)
		require.True(t, ok)
		assert.True(t, v.Has("permissions.0", validation.RuleFormat))
		assert.True(t, v.Has("permissions", validation.RuleDistinct))
	})

	t.Run("empty set clears the role", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT guard_name FROM roles`).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"guard_name"}).AddRow(GuardWeb))
		mock.ExpectExec(`DELETE FROM role_has_permissions`).WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(`UPDATE roles SET updated_at`).WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		mock.ExpectQuery(`FROM roles r WHERE r.id = \$1`).
			WithArgs(int64(7)).
			WillReturnRows(roleRow(7, "editor", "{}"))

		role, err := store.SyncPermissions(ctx, 7, nil)
		require.NoError(t, err)
		assert.Empty(t, role.Permissions)
	})

	t.Run("unknown role", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT guard_name FROM roles`).WithArgs(int64(99)).WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := store.SyncPermissions(ctx, 99, []string{"pages.edit"})
		assert.ErrorIs(t, err, ErrRoleNotFound)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DeleteRole(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	expectUsage := func(id int64, name string, users, members int64) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT name FROM roles WHERE id = \$1 FOR UPDATE`).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow(name))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM user_roles`).
			WithArgs(id, name).
			WillReturnRows(sqlmock.NewRows([]string{"users", "members"}).AddRow(users, members))
	}

	t.Run("blocked while assigned to users", func(t *testing.T) {
		expectUsage(3, "editor", 2, 0)
		mock.ExpectRollback()

		err := store.DeleteRole(ctx, 3)
		v, ok := validation.AsValidationError(err)
		require.True(t, ok)
		assert.True(t, v.Has("role", validation.RuleInUse))
	})

	t.Run("blocked while used by memberships", func(t *testing.T) {
		expectUsage(3, "editor", 0, 1)
		mock.ExpectRollback()

		err := store.DeleteRole(ctx, 3)
		assert.True(t, validation.IsValidationError(err))
	})

	t.Run("unused role is deleted", func(t *testing.T) {
		expectUsage(4, "legacy", 0, 0)
		mock.ExpectExec(`DELETE FROM roles WHERE id = \$1`).WithArgs(int64(4)).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, store.DeleteRole(ctx, 4))
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT name FROM roles`).WithArgs(int64(5)).WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		assert.ErrorIs(t, store.DeleteRole(ctx, 5), postgres.ErrNotFound)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateRole(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	name := "publisher"
	mock.ExpectExec(`UPDATE roles SET name = \$1, updated_at = NOW\(\) WHERE id = \$2`).
		WithArgs("publisher", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM roles r WHERE r.id = \$1`).
		WithArgs(int64(3)).
		WillReturnRows(roleRow(3, "publisher", "{}"))

	role, err := store.UpdateRole(ctx, 3, UpdateRoleRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "publisher", role.Name)

	bad := "Publisher"
	_, err = store.UpdateRole(ctx, 3, UpdateRoleRequest{Name: &bad})
	assert.True(t, validation.IsValidationError(err))

	mock.ExpectExec(`UPDATE roles SET label = \$1`).
		WithArgs("x", int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	label := "x"
	_, err = store.UpdateRole(ctx, 9, UpdateRoleRequest{Label: &label})
	assert.ErrorIs(t, err, ErrRoleNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpsertRole(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	tests := []struct {
		name  string
		guard string
	}{
		{"default guard", GuardWeb},
		{"moves to a new guard", GuardAPI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock.ExpectBegin()
			mock.ExpectQuery(`INSERT INTO roles \(name, guard_name, label, description\).*ON CONFLICT \(name\) DO UPDATE SET guard_name = EXCLUDED.guard_name`).
				WithArgs("viewer", tt.guard, "Viewer", "").
				WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(8))
			mock.ExpectQuery(`SELECT id, name FROM permissions`).
				WithArgs(tt.guard, pq.Array([]string{"pages.view"})).
				WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(5, "pages.view"))
			mock.ExpectExec(`DELETE FROM role_has_permissions`).WithArgs(int64(8)).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec(`INSERT INTO role_has_permissions`).WithArgs(int64(8), pq.Array([]int64{5})).WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()
			mock.ExpectQuery(`FROM roles r WHERE r.id = \$1`).WithArgs(int64(8)).WillReturnRows(roleRow(8, "viewer", "{pages.view}"))

			role, err := store.UpsertRole(ctx, CreateRoleRequest{Name: "viewer", GuardName: tt.guard, Label: "Viewer", Permissions: []string{"pages.view"}})
			require.NoError(t, err)
			assert.Equal(t, []string{"pages.view"}, role.Permissions)
		})
	}

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Permissions(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("create", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO permissions \(name, guard_name, label, created_at, updated_at\)`).
			WithArgs("pages.edit", GuardAPI, "Edit pages", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

		p, err := store.CreatePermission(ctx, CreatePermissionRequest{Name: "pages.edit", GuardName: GuardAPI, Label: "Edit pages"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), p.ID)
	})

	t.Run("invalid guard and name", func(t *testing.T) {
		_, err := store.CreatePermission(ctx, CreatePermissionRequest{Name: "PagesEdit", GuardName: "cli"})
		v, ok := validation.AsValidationError(err)
		require.True(t, ok)
		assert.True(t, v.Has("name", validation.RuleFormat))
		assert.True(t, v.Has("guard_name", validation.RuleOneOf))
	})

	t.Run("same name in another guard is a separate permission", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery(`INSERT INTO permissions \(name, guard_name, label\)`).
			WithArgs("pages.edit", GuardWeb, "").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(2, now, now))

		p, err := store.UpsertPermission(ctx, CreatePermissionRequest{Name: "pages.edit"})
		require.NoError(t, err)
		assert.Equal(t, GuardWeb, p.GuardName)
	})

	t.Run("list", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery(`SELECT id, name, guard_name, label, created_at, updated_at\s+FROM permissions`).
			WithArgs("").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "guard_name", "label", "created_at", "updated_at"}).
				AddRow(1, "pages.edit", GuardAPI, "", now, now).
				AddRow(2, "pages.edit", GuardWeb, "", now, now))

		perms, err := store.ListPermissions(ctx, "")
		require.NoError(t, err)
		assert.Len(t, perms, 2)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Assignments(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("assign role", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO user_roles \(user_id, role_id\) VALUES \(\$1, \$2\)`).
			WithArgs(int64(5), int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, store.AssignRole(ctx, 5, 3))
	})

	t.Run("assign unknown role", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO user_roles`).
			WillReturnError(&pq.Error{Code: "23503"})
		err := store.AssignRole(ctx, 5, 404)
		assert.True(t, validation.IsValidationError(err))
	})

	t.Run("revoke role", func(t *testing.T) {
		mock.ExpectExec(`DELETE FROM user_roles WHERE user_id = \$1 AND role_id = \$2`).
			WithArgs(int64(5), int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, store.RevokeRole(ctx, 5, 3))
	})

	t.Run("give unknown permission", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO user_permissions`).
			WithArgs(int64(5), "pages.nope", GuardWeb).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("pages.nope", GuardWeb).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		err := store.GivePermission(ctx, 5, "pages.nope", "")
		v, ok := validation.AsValidationError(err)
		require.True(t, ok)
		assert.True(t, v.Has("permission", validation.RuleExists))
	})

	t.Run("give held permission is a no-op", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO user_permissions`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT EXISTS`).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		require.NoError(t, store.GivePermission(ctx, 5, "pages.edit", GuardWeb))
	})

	t.Run("revoke permission", func(t *testing.T) {
		mock.ExpectExec(`DELETE FROM user_permissions`).
			WithArgs(int64(5), "pages.edit", GuardWeb).
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, store.RevokePermission(ctx, 5, "pages.edit", ""))
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LoadGrants(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectQuery(`SELECT r.name, p.name\s+FROM roles r`).
		WithArgs(GuardWeb).
		WillReturnRows(sqlmock.NewRows([]string{"role", "permission"}).
			AddRow("editor", "pages.edit").
			AddRow("editor", "pages.view").
			AddRow("empty", nil))
	mock.ExpectQuery(`SELECT COALESCE\(array_agg\(name\), '\{\}'\) FROM permissions`).
		WithArgs(GuardWeb).
		WillReturnRows(sqlmock.NewRows([]string{"names"}).AddRow("{pages.edit,pages.view,billing.view}"))

	grants, err := store.LoadGrants(ctx, GuardWeb)
	require.NoError(t, err)
	assert.True(t, grants.HasRole("empty"))
	assert.Empty(t, grants.RolePermissions("empty"))
	assert.Equal(t, []string{"pages.edit", "pages.view"}, grants.RolePermissions("editor"))
	assert.Equal(t, []string{"billing.view", "pages.edit", "pages.view"}, grants.Permissions())

	mock.ExpectQuery(`FROM roles r`).WillReturnError(errors.New("connection reset"))
	_, err = store.LoadGrants(ctx, GuardWeb)
	assert.ErrorContains(t, err, "failed to load role grants")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LoadSubject(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	mock.ExpectQuery(`FROM user_roles ur JOIN roles r`).
		WithArgs(int64(5), GuardWeb).
		WillReturnRows(sqlmock.NewRows([]string{"roles", "permissions"}).AddRow("{editor}", "{billing.view}"))

	roles, perms, err := store.LoadSubject(context.Background(), 5, GuardWeb)
	require.NoError(t, err)
	assert.Equal(t, []string{"editor"}, roles)
	assert.Equal(t, []string{"billing.view"}, perms)

	require.NoError(t, mock.ExpectationsWereMet())
}
