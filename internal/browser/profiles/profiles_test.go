package profiles

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Path(t *testing.T) {
	store, err := NewStore("/profiles", afero.NewMemMapFs())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("/profiles", "User1"), store.Path("User1"))
	assert.Equal(t, filepath.Join("/profiles", "sales_rep_eu"), store.Path("sales rep/eu"))
	assert.Equal(t, filepath.Join("/profiles", "_default"), store.Path(""))
}

func TestNewStore_RejectsEmptyRoot(t *testing.T) {
	_, err := NewStore("", nil)
	assert.Error(t, err)
}

func TestStore_AcquireCreatesDirectory(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := NewStore("/profiles", fs)
	require.NoError(t, err)

	dir, release, err := store.Acquire(context.Background(), "User1")
	require.NoError(t, err)
	defer release()

	exists, err := afero.DirExists(fs, dir)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStore_SerializesSamePersona(t *testing.T) {
	store, err := NewStore("/profiles", afero.NewMemMapFs())
	require.NoError(t, err)

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, release, err := store.Acquire(context.Background(), "User1")
			if !assert.NoError(t, err) {
				return
			}
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load(), "only one holder per persona at a time")
}

func TestStore_DifferentPersonasDoNotBlock(t *testing.T) {
	store, err := NewStore("/profiles", afero.NewMemMapFs())
	require.NoError(t, err)

	_, releaseA, err := store.Acquire(context.Background(), "A")
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, releaseB, err := store.Acquire(ctx, "B")
	require.NoError(t, err)
	releaseB()
}

func TestStore_AcquireRespectsContext(t *testing.T) {
	store, err := NewStore("/profiles", afero.NewMemMapFs())
	require.NoError(t, err)

	_, release, err := store.Acquire(context.Background(), "User1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = store.Acquire(ctx, "User1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release() // idempotent

	_, release2, err := store.Acquire(context.Background(), "User1")
	require.NoError(t, err)
	release2()
}

func TestStore_PersonasSharingADirectoryShareTheLock(t *testing.T) {
	store, err := NewStore("/profiles", afero.NewMemMapFs())
	require.NoError(t, err)
	require.Equal(t, store.Path("User 1"), store.Path("User_1"))

	_, release, err := store.Acquire(context.Background(), "User 1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = store.Acquire(ctx, "User_1")
	assert.ErrorIs(t, err, context.DeadlineExceeded, "the second persona waits for the shared directory")

	release()
	_, release2, err := store.Acquire(context.Background(), "User_1")
	require.NoError(t, err)
	release2()
}
