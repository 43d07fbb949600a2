package hub

import (
	"fmt"
	"sync"
	"testing"

	"github.com/danmuck/nodehub/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestEventQueuePreservesPerProducerOrder(t *testing.T) {
	testlog.Start(t)
	q := newEventQueue()

	const producers = 8
	const perProducer = 500
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.push(ConnectedEvent{IP: fmt.Sprintf("%d:%d", p, i)})
			}
		}(p)
	}
	wg.Wait()

	items := q.drain()
	require.Len(t, items, producers*perProducer)
	next := make([]int, producers)
	for _, ev := range items {
		var p, i int
		_, err := fmt.Sscanf(ev.(ConnectedEvent).IP, "%d:%d", &p, &i)
		require.NoError(t, err)
		require.Equal(t, next[p], i, "producer %d out of order", p)
		next[p]++
	}
	require.Equal(t, 0, q.len())
}

func TestEventQueueWakeCoalesces(t *testing.T) {
	testlog.Start(t)
	q := newEventQueue()
	q.push(TaskEvent{})
	q.push(TaskEvent{})
	q.push(TaskEvent{})

	<-q.signal()
	select {
	case <-q.signal():
		t.Fatalf("wake signals should coalesce")
	default:
	}
	require.Len(t, q.drain(), 3)
}

func TestEventQueueCloseReturnsBacklogAndRejects(t *testing.T) {
	testlog.Start(t)
	q := newEventQueue()
	q.push(TaskEvent{})
	q.push(DisconnectedEvent{})

	rest := q.close()
	require.Len(t, rest, 2)
	require.Equal(t, "task", rest[0].Kind())
	require.Equal(t, "disconnected", rest[1].Kind())
	require.False(t, q.push(TaskEvent{}))
	require.Empty(t, q.drain())
}
