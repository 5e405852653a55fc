package store

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snap(nonce uint64) *Snapshot {
	return &Snapshot{
		Binary: []byte(fmt.Sprintf("bin-%d", nonce)),
		Loader: []byte(fmt.Sprintf("js-%d", nonce)),
		Nonce:  nonce,
	}
}

func TestStore_EmptyReads(t *testing.T) {
	s := New(10)

	assert.Nil(t, s.Current())
	assert.Equal(t, "0", s.Checksum())

	_, ok := s.Module()
	assert.False(t, ok)
	_, ok = s.Loader()
	assert.False(t, ok)
}

func TestStore_PublishSequence(t *testing.T) {
	s := New(10)

	require.NoError(t, s.Publish(snap(1)))
	assert.Equal(t, "1", s.Checksum())

	require.NoError(t, s.Publish(snap(2)))
	bin, ok := s.Module()
	require.True(t, ok)
	assert.Equal(t, []byte("bin-2"), bin)
	js, ok := s.Loader()
	require.True(t, ok)
	assert.Equal(t, []byte("js-2"), js)
}

func TestStore_RejectsNonceGap(t *testing.T) {
	s := New(10)

	err := s.Publish(snap(2))
	require.ErrorIs(t, err, ErrStaleSnapshot)
	assert.Nil(t, s.Current())

	require.NoError(t, s.Publish(snap(1)))
	require.ErrorIs(t, s.Publish(snap(1)), ErrStaleSnapshot)
	require.ErrorIs(t, s.Publish(snap(3)), ErrStaleSnapshot)
	assert.Equal(t, "1", s.Checksum())

	assert.Error(t, s.Publish(nil))
}

func TestNextNonce(t *testing.T) {
	assert.Equal(t, uint64(1), NextNonce(nil))
	assert.Equal(t, uint64(8), NextNonce(snap(7)))
}

// Readers racing a writer always see a binary, loader and nonce from the same snapshot.
func TestStore_ConcurrentReadsAreConsistent(t *testing.T) {
	s := New(10)
	require.NoError(t, s.Publish(snap(1)))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, 8)

	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				cur := s.Current()
				if string(cur.Binary) != fmt.Sprintf("bin-%d", cur.Nonce) ||
					string(cur.Loader) != fmt.Sprintf("js-%d", cur.Nonce) {
					errs <- fmt.Errorf("torn snapshot at nonce %d", cur.Nonce)
					return
				}
			}
		}()
	}

	for n := uint64(2); n <= 500; n++ {
		require.NoError(t, s.Publish(snap(n)))
	}
	close(stop)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, "500", s.Checksum())
}

func TestStore_HistoryBounded(t *testing.T) {
	s := New(3)
	_, ok := s.Last()
	assert.False(t, ok)

	for i := range 5 {
		s.Save(BuildRecord{ID: fmt.Sprintf("b%d", i), Outcome: OutcomeSuccess})
	}

	recent := s.Recent(10)
	require.Len(t, recent, 3)
	assert.Equal(t, "b2", recent[0].ID)
	assert.Equal(t, "b4", recent[2].ID)
	assert.False(t, recent[0].CreatedAt.IsZero())

	two := s.Recent(2)
	assert.Equal(t, []string{"b3", "b4"}, []string{two[0].ID, two[1].ID})

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, "b4", last.ID)
}
