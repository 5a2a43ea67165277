package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mudforge/gate/internal/message"
)

func TestUpstream_FIFO(t *testing.T) {
	u := NewUpstream()

	for i := 0; i < 5; i++ {
		u.Put(message.Envelope{Event: fmt.Sprintf("e%d", i)})
	}
	require.Equal(t, 5, u.Len())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		env, err := u.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("e%d", i), env.Event)
	}
	assert.Equal(t, 0, u.Len())
}

func TestUpstream_GetBlocksUntilPut(t *testing.T) {
	u := NewUpstream()

	got := make(chan message.Envelope, 1)
	go func() {
		env, err := u.Get(context.Background())
		if err == nil {
			got <- env
		}
	}()

	time.Sleep(20 * time.Millisecond)
	u.Put(message.Envelope{Event: "late"})

	select {
	case env := <-got:
		assert.Equal(t, "late", env.Event)
	case <-time.After(time.Second):
		t.Fatal("Get did not wake on Put")
	}
}

func TestUpstream_GetHonorsContext(t *testing.T) {
	u := NewUpstream()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := u.Get(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUpstream_ConcurrentProducers(t *testing.T) {
	u := NewUpstream()

	const producers = 8
	const perProducer = 100

	var wg sync.WaitGroup
	for n := 0; n < producers; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < perProducer; n++ {
				u.Put(message.Envelope{Event: "e"})
			}
		}()
	}
	wg.Wait()

	count := 0
	ctx := context.Background()
	for u.Len() > 0 {
		_, err := u.Get(ctx)
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, producers*perProducer, count)
}

func TestOutbox_PushAndDrain(t *testing.T) {
	o := NewOutbox(4)

	require.True(t, o.Push(message.IO("a", false)))
	require.True(t, o.Push(message.IO("b", true)))
	assert.Equal(t, 2, o.Len())

	item := <-o.Items()
	assert.Equal(t, "a", item.Text)
	item = <-o.Items()
	assert.Equal(t, "b", item.Text)
	assert.True(t, item.IsPrompt)
}

func TestOutbox_DropOldestOnOverflow(t *testing.T) {
	o := NewOutbox(2)

	require.True(t, o.Push(message.IO("a", false)))
	require.True(t, o.Push(message.IO("b", false)))
	require.True(t, o.Push(message.IO("c", false)))

	assert.Equal(t, 2, o.Len())
	item := <-o.Items()
	assert.Equal(t, "b", item.Text)
	item = <-o.Items()
	assert.Equal(t, "c", item.Text)
}

func TestOutbox_PushAfterClose(t *testing.T) {
	o := NewOutbox(2)
	o.Close()

	assert.False(t, o.Push(message.IO("a", false)))
}

func TestOutbox_CloseIsIdempotent(t *testing.T) {
	o := NewOutbox(2)

	assert.NotPanics(t, func() {
		o.Close()
		o.Close()
	})

	select {
	case <-o.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
}
