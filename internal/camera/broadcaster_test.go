package camera

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster(t *testing.T) {
	t.Run("全購読者にフレームを配る", func(t *testing.T) {
		b := NewBroadcaster()
		ch1, cancel1 := b.Subscribe()
		ch2, cancel2 := b.Subscribe()
		defer cancel1()
		defer cancel2()

		b.PutFrame(Frame{Sequence: 1})

		assert.Equal(t, uint64(1), (<-ch1).Sequence)
		assert.Equal(t, uint64(1), (<-ch2).Sequence)
	})

	t.Run("遅い購読者は古いフレームを失う", func(t *testing.T) {
		b := NewBroadcaster()
		ch, cancel := b.Subscribe()
		defer cancel()

		for i := 1; i <= subscriberBuffer+3; i++ {
			b.PutFrame(Frame{Sequence: uint64(i)})
		}

		require.Len(t, ch, subscriberBuffer)
		first := <-ch
		assert.Equal(t, uint64(4), first.Sequence)

		var last Frame
		for len(ch) > 0 {
			last = <-ch
		}
		assert.Equal(t, uint64(subscriberBuffer+3), last.Sequence)
	})

	t.Run("最新フレームを保持する", func(t *testing.T) {
		b := NewBroadcaster()
		_, ok := b.Latest()
		assert.False(t, ok)

		b.PutFrame(Frame{Sequence: 7})
		latest, ok := b.Latest()
		require.True(t, ok)
		assert.Equal(t, uint64(7), latest.Sequence)
	})

	t.Run("購読解除は何度呼んでもよい", func(t *testing.T) {
		b := NewBroadcaster()
		ch, cancel := b.Subscribe()
		assert.Equal(t, 1, b.Subscribers())

		cancel()
		cancel()
		assert.Equal(t, 0, b.Subscribers())

		_, open := <-ch
		assert.False(t, open)
	})

	t.Run("Close後のチャンネルは閉じている", func(t *testing.T) {
		b := NewBroadcaster()
		ch, cancel := b.Subscribe()
		b.Close()
		cancel()

		_, open := <-ch
		assert.False(t, open)

		b.PutFrame(Frame{Sequence: 1})
		late, lateCancel := b.Subscribe()
		defer lateCancel()
		_, open = <-late
		assert.False(t, open)
	})

	t.Run("Disconnect後も新しい購読者には配信する", func(t *testing.T) {
		b := NewBroadcaster()
		ch, cancel := b.Subscribe()
		b.Disconnect()
		cancel()

		_, open := <-ch
		assert.False(t, open)
		assert.Equal(t, 0, b.Subscribers())

		late, lateCancel := b.Subscribe()
		defer lateCancel()
		b.PutFrame(Frame{Sequence: 2})
		f, open := <-late
		assert.True(t, open)
		assert.Equal(t, uint64(2), f.Sequence)
	})
}
