package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/T3-Labs/edge-surface/pkg/metrics"
	"github.com/T3-Labs/edge-surface/pkg/surface"
)

var ErrFrameDropped = errors.New("buffer cheio: frame substituído")

// Frame is a decoded frame waiting to be presented. The producer acquires
// Image before pushing; whoever takes the frame out owns that hold.
type Frame struct {
	Sequence  uint64
	Image     surface.Image
	ZeroCopy  bool
	Timestamp time.Time
}

// Release drops the renderer hold taken by the producer.
func (f Frame) Release() {
	f.Image.Release()
}

// FrameBuffer is the bounded present queue between decoder and renderer.
// With a single producer, a full buffer drops the oldest frame and releases
// its hold so the pool may recycle the surface.
type FrameBuffer struct {
	name          string
	buffer        chan Frame
	capacity      int
	droppedFrames int64
	totalFrames   int64
}

func NewFrameBuffer(name string, capacity int) *FrameBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &FrameBuffer{
		name:     name,
		buffer:   make(chan Frame, capacity),
		capacity: capacity,
	}
}

func (fb *FrameBuffer) Push(frame Frame) error {
	atomic.AddInt64(&fb.totalFrames, 1)
	defer fb.updateGauge()

	select {
	case fb.buffer <- frame:
		return nil
	default:
		select {
		case dropped := <-fb.buffer:
			dropped.Release()
		default:
		}
		fb.buffer <- frame
		atomic.AddInt64(&fb.droppedFrames, 1)
		return ErrFrameDropped
	}
}

func (fb *FrameBuffer) Pop() (Frame, bool) {
	select {
	case frame, ok := <-fb.buffer:
		fb.updateGauge()
		return frame, ok
	default:
		return Frame{}, false
	}
}

func (fb *FrameBuffer) PopBlocking(ctx context.Context) (Frame, bool) {
	select {
	case <-ctx.Done():
		return Frame{}, false
	case frame, ok := <-fb.buffer:
		fb.updateGauge()
		return frame, ok
	}
}

// Drain releases every queued frame. Used on seek and shutdown.
func (fb *FrameBuffer) Drain() int {
	n := 0
	for {
		frame, ok := fb.Pop()
		if !ok {
			return n
		}
		frame.Release()
		n++
	}
}

func (fb *FrameBuffer) updateGauge() {
	metrics.PresentQueueSize.WithLabelValues(fb.name).Set(float64(len(fb.buffer)))
}

func (fb *FrameBuffer) Size() int {
	return len(fb.buffer)
}

func (fb *FrameBuffer) Capacity() int {
	return fb.capacity
}

func (fb *FrameBuffer) Stats() BufferStats {
	dropped := atomic.LoadInt64(&fb.droppedFrames)
	total := atomic.LoadInt64(&fb.totalFrames)

	dropRate := float64(0)
	if total > 0 {
		dropRate = float64(dropped) / float64(total) * 100
	}

	return BufferStats{
		Size:          fb.Size(),
		Capacity:      fb.capacity,
		DroppedFrames: dropped,
		TotalFrames:   total,
		DropRate:      dropRate,
	}
}

// Close ends the producer side. Frames still queued can be popped.
func (fb *FrameBuffer) Close() {
	close(fb.buffer)
}

type BufferStats struct {
	Size          int
	Capacity      int
	DroppedFrames int64
	TotalFrames   int64
	DropRate      float64
}

func (bs BufferStats) String() string {
	return fmt.Sprintf("Buffer: %d/%d, Total: %d, Dropped: %d (%.2f%%)",
		bs.Size, bs.Capacity, bs.TotalFrames, bs.DroppedFrames, bs.DropRate)
}
