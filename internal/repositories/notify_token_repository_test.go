package repositories

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestGetPushProfileLoadsTokens(t *testing.T) {
	db, mock := newMock(t)
	repo := NewNotifyTokenRepository(db)

	expectSchema(mock, 2)
	mock.ExpectQuery("SELECT display_name, notifications_enabled FROM users").WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"display_name", "notifications_enabled"}).AddRow("민수", true))
	mock.ExpectQuery("SELECT token FROM notify_tokens").WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"token"}).AddRow("t1").AddRow("t2"))

	p, err := repo.GetPushProfile(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, "u1", p.UID)
	require.Equal(t, "민수", p.DisplayName)
	require.True(t, p.NotificationsEnabled)
	require.Equal(t, []string{"t1", "t2"}, p.Tokens)
}

func TestGetPushProfileNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewNotifyTokenRepository(db)

	expectSchema(mock, 2)
	mock.ExpectQuery("SELECT display_name").WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"display_name", "notifications_enabled"}))

	_, err := repo.GetPushProfile(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveTokensScopesToUser(t *testing.T) {
	db, mock := newMock(t)
	repo := NewNotifyTokenRepository(db)

	expectSchema(mock, 2)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM notify_tokens WHERE user_id = ? AND token IN (?,?)")).
		WithArgs("u1", "stale1", "stale2").
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.RemoveTokens(context.Background(), "u1", []string{"stale1", "stale2"}))
}

func TestRegisterTokenMovesOwnership(t *testing.T) {
	db, mock := newMock(t)
	repo := NewNotifyTokenRepository(db)

	expectSchema(mock, 2)
	mock.ExpectExec(regexp.QuoteMeta("ON DUPLICATE KEY UPDATE user_id = VALUES(user_id)")).
		WithArgs("u2", "tok").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.RegisterToken(context.Background(), "u2", "tok"))
}

func TestUpsertProfile(t *testing.T) {
	db, mock := newMock(t)
	repo := NewNotifyTokenRepository(db)

	expectSchema(mock, 2)
	mock.ExpectExec("INSERT INTO users \\(uid, display_name, notifications_enabled\\)").
		WithArgs("u1", "Jin", false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpsertProfile(context.Background(), "u1", "Jin", false))
}
