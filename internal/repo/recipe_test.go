package repo

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recipeCols = []string{"id", "user_id", "title", "description", "cover_url", "status", "audit_reason", "update_time"}

func TestRecipeRepoGet(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	r := NewRecipeRepo(db)

	t.Run("found", func(t *testing.T) {
		rows := sqlmock.NewRows(recipeCols).
			AddRow(42, 7, "Braised pork", "slow cooked", "cover.jpg", RecipeStatusScreening, nil, time.Now())
		mock.ExpectQuery("SELECT .+ FROM rs_recipe WHERE id = \\?").WithArgs(int64(42)).WillReturnRows(rows)

		rec, err := r.Get(ctx, 42)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, int64(7), rec.UserID)
		assert.Equal(t, RecipeStatusScreening, rec.Status)
		assert.False(t, rec.AuditReason.Valid)
	})

	t.Run("missing row returns nil, nil", func(t *testing.T) {
		mock.ExpectQuery("SELECT .+ FROM rs_recipe WHERE id = \\?").WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows(recipeCols))

		rec, err := r.Get(ctx, 99)
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecipeRepoUpdateStatus(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	r := NewRecipeRepo(db)

	mock.ExpectExec("UPDATE rs_recipe SET status = \\?, audit_reason = \\?").
		WithArgs(RecipeStatusDraft, "title contains a banned phrase: casino", int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, r.UpdateStatus(ctx, 42, RecipeStatusDraft, "title contains a banned phrase: casino"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecipeRepoSteps(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	r := NewRecipeRepo(db)

	rows := sqlmock.NewRows([]string{"content"}).AddRow("Cube the pork").AddRow(nil).AddRow("Simmer")
	mock.ExpectQuery("SELECT content FROM rs_recipe_step").WithArgs(int64(42)).WillReturnRows(rows)

	steps, err := r.Steps(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"Cube the pork", "", "Simmer"}, steps)
	require.NoError(t, mock.ExpectationsWereMet())
}
