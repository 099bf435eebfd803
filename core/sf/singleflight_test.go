package sf

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGroup_Dedup(t *testing.T) {
	var (
		g     Group[string]
		calls atomic.Int32
		wg    sync.WaitGroup
		start = make(chan struct{})
	)

	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			v, err := g.Do("addr", func() (string, error) {
				calls.Add(1)
				time.Sleep(20 * time.Millisecond)
				return "peer-1", nil
			})
			require.NoError(t, err)
			require.Equal(t, "peer-1", v)
		}()
	}
	close(start)
	wg.Wait()

	require.Less(t, calls.Load(), int32(10))
}

func TestGroup_Error(t *testing.T) {
	var g Group[int]
	v, err := g.Do("k", func() (int, error) { return 1, errors.New("boom") })
	require.EqualError(t, err, "boom")
	require.Equal(t, 0, v)
}
