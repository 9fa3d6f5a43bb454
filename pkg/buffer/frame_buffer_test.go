package buffer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/T3-Labs/edge-surface/pkg/surface"
)

func heldFrame(seq uint64) (Frame, *surface.Surface) {
	s := surface.New(surface.FormatNV12, 64, 64)
	img := surface.NewImage(s, 0, 0)
	img.Acquire()
	return Frame{Sequence: seq, Image: img, Timestamp: time.Now()}, s
}

func TestNewFrameBuffer(t *testing.T) {
	buffer := NewFrameBuffer("test", 10)

	require.NotNil(t, buffer)
	assert.Equal(t, 10, buffer.Capacity())
	assert.Equal(t, 0, buffer.Size())
	assert.Equal(t, 1, NewFrameBuffer("test", 0).Capacity())
}

func TestFrameBufferPushPop(t *testing.T) {
	buffer := NewFrameBuffer("test", 5)

	frame, s := heldFrame(1)
	require.NoError(t, buffer.Push(frame))
	assert.Equal(t, 1, buffer.Size())

	popped, ok := buffer.Pop()
	require.True(t, ok)
	assert.Equal(t, uint64(1), popped.Sequence)
	assert.Equal(t, s.ID(), popped.Image.SurfaceID)
	assert.True(t, s.InUse(), "quem retira o frame herda a referência")

	popped.Release()
	assert.False(t, s.InUse())
}

func TestFrameBufferDropsOldestAndReleases(t *testing.T) {
	buffer := NewFrameBuffer("test", 2)

	f1, s1 := heldFrame(1)
	f2, s2 := heldFrame(2)
	f3, s3 := heldFrame(3)

	require.NoError(t, buffer.Push(f1))
	require.NoError(t, buffer.Push(f2))
	assert.ErrorIs(t, buffer.Push(f3), ErrFrameDropped)

	assert.False(t, s1.InUse(), "frame descartado deve liberar a surface")
	assert.True(t, s2.InUse())
	assert.True(t, s3.InUse())

	popped, ok := buffer.Pop()
	require.True(t, ok)
	assert.Equal(t, uint64(2), popped.Sequence)

	stats := buffer.Stats()
	assert.Equal(t, int64(1), stats.DroppedFrames)
	assert.Equal(t, int64(3), stats.TotalFrames)
	assert.InDelta(t, 100.0/3, stats.DropRate, 0.01)
}

func TestFrameBufferPopEmpty(t *testing.T) {
	buffer := NewFrameBuffer("test", 5)

	_, ok := buffer.Pop()
	assert.False(t, ok)
}

func TestFrameBufferDrain(t *testing.T) {
	buffer := NewFrameBuffer("test", 4)
	var surfaces []*surface.Surface
	for i := 0; i < 3; i++ {
		f, s := heldFrame(uint64(i))
		surfaces = append(surfaces, s)
		require.NoError(t, buffer.Push(f))
	}

	assert.Equal(t, 3, buffer.Drain())
	assert.Equal(t, 0, buffer.Size())
	for _, s := range surfaces {
		assert.False(t, s.InUse())
	}
}

func TestFrameBufferClose(t *testing.T) {
	buffer := NewFrameBuffer("test", 5)
	f, _ := heldFrame(1)
	_ = buffer.Push(f)

	buffer.Close()

	ctx := context.Background()
	_, ok := buffer.PopBlocking(ctx)
	assert.True(t, ok)

	_, ok = buffer.PopBlocking(ctx)
	assert.False(t, ok)
}

func TestFrameBufferPopBlockingCancelled(t *testing.T) {
	buffer := NewFrameBuffer("test", 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, ok := buffer.PopBlocking(ctx)
	assert.False(t, ok)
}

func TestFrameBufferStatsString(t *testing.T) {
	bs := BufferStats{Size: 1, Capacity: 4, TotalFrames: 10, DroppedFrames: 2, DropRate: 20}
	assert.Equal(t, "Buffer: 1/4, Total: 10, Dropped: 2 (20.00%)", bs.String())
}

func BenchmarkFrameBufferPushPop(b *testing.B) {
	buffer := NewFrameBuffer("bench", 64)
	frame := Frame{Sequence: 1}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = buffer.Push(frame)
		buffer.Pop()
	}
}
