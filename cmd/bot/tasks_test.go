package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ohmynofan/camp-loyalty-bot/internal/config"
	"github.com/ohmynofan/camp-loyalty-bot/internal/domain/model"
	"github.com/ohmynofan/camp-loyalty-bot/internal/storage/taskqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTasks_ListAndResetByAccountNumber(t *testing.T) {
	ctx := context.Background()
	q, err := taskqueue.NewStore(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	accounts := []config.Account{{PrivateKey: "k0"}, {PrivateKey: "k1"}}
	_, err = q.Seed(ctx, model.IdentityKey("k0"), []string{"faucet", "complete_quests"})
	require.NoError(t, err)
	_, err = q.Seed(ctx, model.IdentityKey("k1"), []string{"faucet"})
	require.NoError(t, err)
	require.NoError(t, q.UpdateStatus(ctx, model.IdentityKey("k0"), "faucet", taskqueue.StatusCompleted))

	data, err := listTasks(ctx, q, accounts, 0)
	require.NoError(t, err)
	require.Len(t, data, 4)
	assert.Equal(t, []string{"1", "0", "faucet", taskqueue.StatusCompleted}, data[1])
	assert.Equal(t, []string{"2", "0", "faucet", taskqueue.StatusPending}, data[3])

	n, err := resetTasks(ctx, q, accounts, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err = listTasks(ctx, q, accounts, 0)
	require.NoError(t, err)
	require.Len(t, data, 2)
	assert.Equal(t, "2", data[1][0])

	_, err = listTasks(ctx, q, accounts, 3)
	assert.Error(t, err)
}
