package identity

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbitflow/bootstrap/pkg/bootstrap/common"
)

func TestLoadOrCreate_Idempotent(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "accounts")
	ks := NewKeystore(dir)

	first, err := ks.LoadOrCreate(ctx, RoleUser)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, RoleUser, first.Role)

	info, err := os.Stat(ks.Path(RoleUser))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	second, err := ks.LoadOrCreate(ctx, RoleUser)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Account.PublicKey().ToBase58(), second.Account.PublicKey().ToBase58())
	assert.Equal(t, first.Account.PrivateKey().ToBytes(), second.Account.PrivateKey().ToBytes())

	// A fresh keystore over the same directory sees the same identity.
	third, err := NewKeystore(dir).Load(ctx, RoleUser)
	require.NoError(t, err)
	assert.Equal(t, first.Account.PublicKey().ToBase58(), third.Account.PublicKey().ToBase58())

	merchant, err := ks.LoadOrCreate(ctx, RoleMerchant)
	require.NoError(t, err)
	assert.NotEqual(t, first.Account.PublicKey().ToBase58(), merchant.Account.PublicKey().ToBase58())
}

func TestLoadOrCreate_ConcurrentKeystores(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	const workers = 8

	var wg sync.WaitGroup
	keys := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := NewKeystore(dir).LoadOrCreate(ctx, RoleUser)
			errs[i] = err
			if err == nil {
				keys[i] = id.Account.PublicKey().ToBase58()
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, keys[0], keys[i])
	}

	stored, err := NewKeystore(dir).Load(ctx, RoleUser)
	require.NoError(t, err)
	assert.Equal(t, keys[0], stored.Account.PublicKey().ToBase58())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoadOrCreate_ExistingFile(t *testing.T) {
	ctx := context.Background()
	ks := NewKeystore(t.TempDir())

	account, err := common.NewRandomAccount()
	require.NoError(t, err)
	data, err := common.MarshalKeypair(account)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(ks.Path(RoleMerchant), data, 0600))

	loaded, err := ks.LoadOrCreate(ctx, RoleMerchant)
	require.NoError(t, err)
	assert.False(t, loaded.Created)
	assert.Equal(t, account.PublicKey().ToBase58(), loaded.Account.PublicKey().ToBase58())
}

func TestLoadOrCreate_CorruptFile(t *testing.T) {
	ctx := context.Background()
	ks := NewKeystore(t.TempDir())

	for _, contents := range []string{
		"",
		"garbage",
		"[1,2,3]",
		"[" + strings.TrimSuffix(strings.Repeat("300,", 64), ",") + "]",
	} {
		require.NoError(t, os.WriteFile(ks.Path(RoleUser), []byte(contents), 0600))

		_, err := ks.LoadOrCreate(ctx, RoleUser)
		assert.ErrorIs(t, err, common.ErrStorage, contents)
		assert.Contains(t, err.Error(), ks.Path(RoleUser))

		after, err := os.ReadFile(ks.Path(RoleUser))
		require.NoError(t, err)
		assert.Equal(t, contents, string(after), "corrupt file must not be overwritten")
	}
}

func TestLoad_NotFound(t *testing.T) {
	_, err := NewKeystore(t.TempDir()).Load(context.Background(), RoleDeployer)
	assert.Equal(t, ErrIdentityNotFound, err)
}

func TestInvalidRole(t *testing.T) {
	ks := NewKeystore(t.TempDir())
	for _, role := range []string{"", "..", "a/b", `a\b`} {
		_, err := ks.LoadOrCreate(context.Background(), role)
		assert.ErrorIs(t, err, ErrInvalidRole, role)
	}
}

func TestFromPrivateKeyString(t *testing.T) {
	account, err := common.NewRandomAccount()
	require.NoError(t, err)

	id, err := FromPrivateKeyString(RoleDeployer, base58.Encode(account.PrivateKey().ToBytes()))
	require.NoError(t, err)
	assert.Equal(t, RoleDeployer, id.Role)
	assert.False(t, id.Created)
	assert.Equal(t, account.PublicKey().ToBase58(), id.Account.PublicKey().ToBase58())

	_, err = FromPrivateKeyString(RoleDeployer, account.PublicKey().ToBase58())
	assert.Error(t, err)
}
