package sim

import (
	"sync/atomic"

	"github.com/T3-Labs/edge-surface/pkg/logger"
	"github.com/T3-Labs/edge-surface/pkg/surfacepool"
)

// refCount plays the role of a driver reference count (AVBufferRef style).
type refCount struct {
	name string
	refs atomic.Int64
}

func (c *refCount) outstanding() int64 { return c.refs.Load() }

type bufferRef struct {
	c *refCount
}

func (r bufferRef) Ref() surfacepool.BufferRef {
	r.c.refs.Add(1)
	return bufferRef{c: r.c}
}

func (r bufferRef) Unref() {
	if r.c.refs.Add(-1) < 0 {
		logger.L().Errorw("Unref sem Ref correspondente", "buffer", r.c.name)
	}
}

// framesContext is the decoder-wide hardware frame context.
type framesContext struct {
	ref *refCount
}

func (f framesContext) HWFramesContext() surfacepool.BufferRef {
	return bufferRef{c: f.ref}
}
