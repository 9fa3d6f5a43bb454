//go:build linux

package main

import (
	"context"

	"github.com/T3-Labs/edge-surface/internal/hostsurface"
	"github.com/T3-Labs/edge-surface/internal/sim"
	"github.com/T3-Labs/edge-surface/pkg/config"
	"github.com/T3-Labs/edge-surface/pkg/surfacepool"
)

type simStats = sim.Stats

func newBackend() (surfacepool.Backend, error) {
	return hostsurface.New(), nil
}

func runSimulation(ctx context.Context, cfg *config.Config, pool *surfacepool.Pool) (simStats, error) {
	s := cfg.Simulation
	return sim.Run(ctx, sim.Config{
		Frames:         s.Frames,
		Width:          s.Width,
		Height:         s.Height,
		DecoderBuffers: s.DecoderBuffers,
		RendererHold:   s.RendererHold,
		SeekEvery:      s.SeekEvery,
		SoftwareEvery:  s.SoftwareEvery,
		QueueSize:      s.QueueSize,
		FrameInterval:  cfg.GetFrameInterval(),
	}, pool)
}
