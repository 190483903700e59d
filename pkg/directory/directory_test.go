package directory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/certificate-service/pkg/apperr"
	"github.com/yourorg/certificate-service/pkg/db/models"
	"github.com/yourorg/certificate-service/pkg/directory"
	"github.com/yourorg/certificate-service/pkg/testutil"
)

func TestDB_Users(t *testing.T) {
	ctx := context.Background()
	gdb := testutil.NewDB(t)
	dir := directory.NewDB(gdb)

	ada := &models.User{FirstName: "Ada", LastName: "Lovelace"}
	require.NoError(t, gdb.Create(ada).Error)
	alan := &models.User{FirstName: "Alan", LastName: "Turing"}
	require.NoError(t, gdb.Create(alan).Error)

	got, err := dir.GetUser(ctx, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got.FullName())

	_, err = dir.GetUser(ctx, 999)
	assert.True(t, apperr.IsNotFound(err))

	users, err := dir.GetUsers(ctx, []uint64{ada.ID, alan.ID, 999})
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.Equal(t, "Alan Turing", users[alan.ID].FullName())
}

func TestDB_GroupMembers(t *testing.T) {
	gdb := testutil.NewDB(t)
	require.NoError(t, gdb.Create(&[]models.GroupMember{{GroupID: 1, UserID: 3}, {GroupID: 1, UserID: 2}, {GroupID: 2, UserID: 9}}).Error)

	ids, err := directory.NewDB(gdb).GroupMembers(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 3}, ids)
}
