package settlement

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalRunLock(t *testing.T) {
	lock := NewLocalRunLock()
	ctx := context.Background()

	release, acquired, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	_, again, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.False(t, again, "held lock must reject, not queue")

	release()

	release2, acquired, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, acquired, "released lock must be re-acquirable")
	release2()
}

func TestLocalRunLock_SingleWinner(t *testing.T) {
	lock := NewLocalRunLock()

	const goroutines = 16
	var wg sync.WaitGroup
	winners := make(chan func(), goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if release, ok, _ := lock.Acquire(context.Background()); ok {
				winners <- release
			}
		}()
	}
	wg.Wait()
	close(winners)

	var releases []func()
	for r := range winners {
		releases = append(releases, r)
	}
	require.Len(t, releases, 1, "exactly one concurrent caller may hold the lock")
	releases[0]()
}
