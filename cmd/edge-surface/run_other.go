//go:build !linux

package main

import (
	"context"
	"errors"

	"github.com/T3-Labs/edge-surface/pkg/config"
	"github.com/T3-Labs/edge-surface/pkg/surfacepool"
)

var errLinuxOnly = errors.New("o backend de surfaces em memória do host só existe no Linux")

type simStats struct{}

func (simStats) String() string { return "" }

func newBackend() (surfacepool.Backend, error) {
	return nil, errLinuxOnly
}

func runSimulation(context.Context, *config.Config, *surfacepool.Pool) (simStats, error) {
	return simStats{}, errLinuxOnly
}
