package sim

import (
	"context"

	"github.com/T3-Labs/edge-surface/pkg/buffer"
)

// Renderer presents queued frames and keeps the last Hold of them acquired,
// like a compositor that still scans out or blends previous frames.
type Renderer struct {
	queue     *buffer.FrameBuffer
	hold      int
	held      []buffer.Frame
	presented int
	zeroCopy  int
}

func NewRenderer(queue *buffer.FrameBuffer, hold int) *Renderer {
	if hold < 1 {
		hold = 1
	}
	return &Renderer{queue: queue, hold: hold}
}

// Run presents frames until the queue is closed and drained or ctx ends.
// Every hold is released before Run returns.
func (r *Renderer) Run(ctx context.Context) int {
	defer r.releaseAll()

	for {
		frame, ok := r.queue.PopBlocking(ctx)
		if !ok {
			return r.presented
		}
		r.present(frame)
	}
}

func (r *Renderer) present(frame buffer.Frame) {
	r.held = append(r.held, frame)
	r.presented++
	if frame.ZeroCopy {
		r.zeroCopy++
	}
	for len(r.held) > r.hold {
		r.held[0].Release()
		r.held = r.held[1:]
	}
}

func (r *Renderer) releaseAll() {
	for _, f := range r.held {
		f.Release()
	}
	r.held = nil
}

func (r *Renderer) Presented() int { return r.presented }
func (r *Renderer) ZeroCopy() int  { return r.zeroCopy }
