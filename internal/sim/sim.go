//go:build linux

package sim

import (
	"context"
	"sync"

	"github.com/T3-Labs/edge-surface/pkg/buffer"
	"github.com/T3-Labs/edge-surface/pkg/logger"
	"github.com/T3-Labs/edge-surface/pkg/surfacepool"
)

// Run wires a decoder and a renderer around pool and plays cfg.Frames frames.
// The pool is left open; the decoder's buffers are closed on return.
func Run(ctx context.Context, cfg Config, pool *surfacepool.Pool) (Stats, error) {
	queue := buffer.NewFrameBuffer(pool.Name(), cfg.QueueSize)

	dec, err := NewDecoder(cfg, pool, queue)
	if err != nil {
		return Stats{}, err
	}
	defer dec.Close()

	renderer := NewRenderer(queue, cfg.RendererHold)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		renderer.Run(context.Background())
	}()

	stats, runErr := dec.Run(ctx)

	queue.Close()
	wg.Wait()

	logger.L().Infow("Simulação concluída",
		"pool", pool.Name(),
		"stats", stats.String(),
		"presented", renderer.Presented(),
		"queue", queue.Stats().String(),
		"pool_stats", pool.Stats().String())

	return stats, runErr
}
