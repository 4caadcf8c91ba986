package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripwish/triproom/internal/types"
)

func newTestLedger(t *testing.T) *SuppressionLedger {
	store, err := NewBuntSessionStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewSuppressionLedger(store)
}

func TestBuntSessionStore(t *testing.T) {
	store, err := NewBuntSessionStore()
	require.NoError(t, err)
	defer store.Close()

	found, err := store.Contains("k")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Put("k"))
	found, err = store.Contains("k")
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, store.Delete("k"))
	found, err = store.Contains("k")
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, store.Delete("never-existed"), "deleting a missing key is not an error")
}

func TestSuppressionLedger_suppressAndUnsuppress(t *testing.T) {
	ledger := newTestLedger(t)

	assert.False(t, ledger.IsSuppressed(42))

	require.NoError(t, ledger.Suppress(42))
	assert.True(t, ledger.IsSuppressed(42))
	assert.False(t, ledger.IsSuppressed(7), "suppression is per id")

	// entries never expire on their own; only explicit reinstatement clears
	require.NoError(t, ledger.Unsuppress(42))
	assert.False(t, ledger.IsSuppressed(42))
}

func TestSuppressionLedger_filterWants(t *testing.T) {
	ledger := newTestLedger(t)
	require.NoError(t, ledger.Suppress(42))

	snapshot := []types.WantItem{
		{WantId: 7, PlaceName: "Cafe"},
		{WantId: 42, PlaceName: "Tower"},
		{WantId: 99, PlaceName: "Museum"},
	}

	filtered := ledger.FilterWants(snapshot)
	require.Len(t, filtered, 2)
	assert.Equal(t, int64(7), filtered[0].WantId)
	assert.Equal(t, int64(99), filtered[1].WantId)
}

func TestSuppressionLedger_filterIds(t *testing.T) {
	ledger := newTestLedger(t)
	require.NoError(t, ledger.Suppress(2))

	assert.Equal(t, []int64{1, 3}, ledger.FilterIds([]int64{1, 2, 3}))
}
