package storage

import (
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/poas-labs/go-poas/consensus/registry"
	"github.com/poas-labs/go-poas/consensus/security"
	"github.com/poas-labs/go-poas/crypto/address"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	store, err := NewBadgerStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return NewJournal(store)
}

func testAddr(t *testing.T, lastByte byte) address.Address {
	t.Helper()
	raw := make([]byte, address.ByteLength)
	raw[address.ByteLength-1] = lastByte
	a, err := address.FromBytes(raw)
	require.NoError(t, err)
	return a
}

func TestValidatorRoundTrip(t *testing.T) {
	j := newTestJournal(t)

	reg := registry.New(100)
	require.NoError(t, reg.Register(testAddr(t, 1), math.NewInt(1500), []byte("pk1")))
	require.NoError(t, reg.Register(testAddr(t, 2), math.NewInt(2500), []byte("pk2")))
	require.NoError(t, reg.Jail(testAddr(t, 2), 64))

	require.NoError(t, j.SaveValidators(reg.All()))

	loaded, err := j.LoadValidators()
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	restored := registry.New(100)
	for _, v := range loaded {
		restored.Restore(v)
	}
	require.Len(t, restored.ActiveSet(), 1)

	v, err := restored.Get(testAddr(t, 2))
	require.NoError(t, err)
	require.Equal(t, registry.StatusJailed, v.Status)
	require.Equal(t, math.NewInt(2500), v.Stake)
	require.Equal(t, []byte("pk2"), v.PubKeyRef)
}

func TestSaveValidatorOverwrites(t *testing.T) {
	j := newTestJournal(t)
	a := testAddr(t, 1)

	v := &registry.Validator{Address: a, Stake: math.NewInt(1000), Status: registry.StatusActive}
	require.NoError(t, j.SaveValidator(v))

	v.Stake = math.NewInt(900)
	v.SlashCount = 1
	require.NoError(t, j.SaveValidator(v))

	loaded, err := j.LoadValidators()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, math.NewInt(900), loaded[0].Stake)
	require.Equal(t, 1, loaded[0].SlashCount)
}

func TestAppliedOffensesRoundTrip(t *testing.T) {
	j := newTestJournal(t)

	require.NoError(t, j.MarkOffenseApplied("offense-a"))
	require.NoError(t, j.MarkOffenseApplied("offense-b"))
	require.NoError(t, j.MarkOffenseApplied("offense-a")) // idempotent

	ids, err := j.LoadAppliedOffenses()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"offense-a", "offense-b"}, ids)
}

func TestSecuritySnapshotsChronological(t *testing.T) {
	j := newTestJournal(t)

	for _, slot := range []uint64{300, 100, 200} {
		require.NoError(t, j.SaveSecuritySnapshot(&security.Snapshot{
			Timestamp:        time.Now().UTC(),
			Slot:             slot,
			TotalActiveStake: math.NewInt(int64(slot) * 10),
			AttackCost:       math.NewInt(int64(slot)),
		}))
	}

	snaps, err := j.LoadSecuritySnapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	require.Equal(t, uint64(100), snaps[0].Slot)
	require.Equal(t, uint64(200), snaps[1].Slot)
	require.Equal(t, uint64(300), snaps[2].Slot)
}

func TestCurrentSlot(t *testing.T) {
	j := newTestJournal(t)

	slot, err := j.LoadCurrentSlot()
	require.NoError(t, err)
	require.Zero(t, slot)

	require.NoError(t, j.SaveCurrentSlot(42))
	slot, err = j.LoadCurrentSlot()
	require.NoError(t, err)
	require.Equal(t, uint64(42), slot)
}

func TestBadgerBasicOps(t *testing.T) {
	store, err := NewBadgerStorage(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, store.Set([]byte("k"), []byte("v")))
	value, err := store.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)

	ok, err := store.Has([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Delete([]byte("k")))
	ok, err = store.Has([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
}
