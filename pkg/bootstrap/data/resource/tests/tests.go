package tests

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbitflow/bootstrap/pkg/bootstrap/data/resource"
)

func RunTests(t *testing.T, s resource.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s resource.Store){
		testHappyPath,
		testNetworkIsolation,
		testGetAllByNetwork,
		testInvalidRecord,
	} {
		tf(t, s)
		teardown()
	}
}

func testHappyPath(t *testing.T, s resource.Store) {
	t.Run("testHappyPath", func(t *testing.T) {
		ctx := context.Background()
		start := time.Now()
		time.Sleep(time.Millisecond)

		record := &resource.Record{
			Network:   "http://127.0.0.1:8899",
			Symbol:    "USDC",
			Mint:      newKey(t),
			Decimals:  6,
			Authority: newKey(t),
			RunID:     "run-1",
		}
		cloned := record.Clone()

		require.NoError(t, s.Delete(ctx, record.Network, record.Symbol))
		_, err := s.Get(ctx, record.Network, record.Symbol)
		assert.Equal(t, resource.ErrNotFound, err)

		require.NoError(t, s.Save(ctx, record))
		assert.True(t, record.Id > 0)

		actual, err := s.Get(ctx, record.Network, record.Symbol)
		require.NoError(t, err)
		assert.Equal(t, record.Id, actual.Id)
		assert.True(t, actual.CreatedAt.After(start))
		assert.True(t, actual.LastUpdatedAt.After(start))
		assertEquivalentRecords(t, &cloned, actual)

		updateTime := time.Now()
		time.Sleep(time.Millisecond)
		record.Mint = newKey(t)
		record.RunID = "run-2"
		cloned = record.Clone()
		require.NoError(t, s.Save(ctx, record))

		actual, err = s.Get(ctx, record.Network, record.Symbol)
		require.NoError(t, err)
		assert.Equal(t, record.Id, actual.Id)
		assert.True(t, actual.CreatedAt.Before(updateTime))
		assert.True(t, actual.LastUpdatedAt.After(updateTime))
		assertEquivalentRecords(t, &cloned, actual)

		require.NoError(t, s.Delete(ctx, record.Network, record.Symbol))

		_, err = s.Get(ctx, record.Network, record.Symbol)
		assert.Equal(t, resource.ErrNotFound, err)
	})
}

func testNetworkIsolation(t *testing.T, s resource.Store) {
	t.Run("testNetworkIsolation", func(t *testing.T) {
		ctx := context.Background()

		local := &resource.Record{
			Network:   "http://127.0.0.1:8899",
			Symbol:    "USDC",
			Mint:      newKey(t),
			Decimals:  6,
			Authority: newKey(t),
		}
		devnet := &resource.Record{
			Network:   "https://api.devnet.solana.com",
			Symbol:    "USDC",
			Mint:      newKey(t),
			Decimals:  6,
			Authority: newKey(t),
		}
		require.NoError(t, s.Save(ctx, local))
		require.NoError(t, s.Save(ctx, devnet))

		actual, err := s.Get(ctx, local.Network, "USDC")
		require.NoError(t, err)
		assert.Equal(t, local.Mint, actual.Mint)

		actual, err = s.Get(ctx, devnet.Network, "USDC")
		require.NoError(t, err)
		assert.Equal(t, devnet.Mint, actual.Mint)

		_, err = s.Get(ctx, local.Network, "WSOL")
		assert.Equal(t, resource.ErrNotFound, err)
	})
}

func testGetAllByNetwork(t *testing.T, s resource.Store) {
	t.Run("testGetAllByNetwork", func(t *testing.T) {
		ctx := context.Background()
		network := "http://127.0.0.1:8899"

		actual, err := s.GetAllByNetwork(ctx, network)
		require.NoError(t, err)
		assert.Empty(t, actual)

		for _, symbol := range []string{"WSOL", "USDC", "BONK"} {
			require.NoError(t, s.Save(ctx, &resource.Record{
				Network:   network,
				Symbol:    symbol,
				Mint:      newKey(t),
				Authority: newKey(t),
			}))
		}
		require.NoError(t, s.Save(ctx, &resource.Record{
			Network:   "https://api.devnet.solana.com",
			Symbol:    "USDC",
			Mint:      newKey(t),
			Authority: newKey(t),
		}))

		actual, err = s.GetAllByNetwork(ctx, network)
		require.NoError(t, err)
		require.Len(t, actual, 3)
		assert.Equal(t, "BONK", actual[0].Symbol)
		assert.Equal(t, "USDC", actual[1].Symbol)
		assert.Equal(t, "WSOL", actual[2].Symbol)
	})
}

func testInvalidRecord(t *testing.T, s resource.Store) {
	t.Run("testInvalidRecord", func(t *testing.T) {
		ctx := context.Background()

		valid := resource.Record{
			Network:   "http://127.0.0.1:8899",
			Symbol:    "USDC",
			Mint:      newKey(t),
			Authority: newKey(t),
		}

		for _, mutate := range []func(r *resource.Record){
			func(r *resource.Record) { r.Network = "" },
			func(r *resource.Record) { r.Symbol = "" },
			func(r *resource.Record) { r.Mint = "not-a-key" },
			func(r *resource.Record) { r.Authority = "" },
		} {
			record := valid.Clone()
			mutate(&record)
			assert.Error(t, s.Save(ctx, &record))
		}

		_, err := s.Get(ctx, valid.Network, valid.Symbol)
		assert.Equal(t, resource.ErrNotFound, err)
	})
}

func assertEquivalentRecords(t *testing.T, obj1, obj2 *resource.Record) {
	assert.Equal(t, obj1.Network, obj2.Network)
	assert.Equal(t, obj1.Symbol, obj2.Symbol)
	assert.Equal(t, obj1.Mint, obj2.Mint)
	assert.Equal(t, obj1.Decimals, obj2.Decimals)
	assert.Equal(t, obj1.Authority, obj2.Authority)
	assert.Equal(t, obj1.RunID, obj2.RunID)
}

func newKey(t *testing.T) string {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return base58.Encode(pub)
}
