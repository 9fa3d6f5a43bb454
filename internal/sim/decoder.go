//go:build linux

// Package sim drives a surface pool with a simulated hardware decoder and a
// renderer that holds frames for a while, the way a compositor does.
package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/T3-Labs/edge-surface/internal/hostsurface"
	"github.com/T3-Labs/edge-surface/pkg/buffer"
	"github.com/T3-Labs/edge-surface/pkg/descriptor"
	"github.com/T3-Labs/edge-surface/pkg/logger"
	"github.com/T3-Labs/edge-surface/pkg/surface"
	"github.com/T3-Labs/edge-surface/pkg/surfacepool"
)

type Config struct {
	Frames         int
	Width          int
	Height         int
	DecoderBuffers int
	RendererHold   int
	// SeekEvery invalidates decoder ids every N frames; 0 disables seeks.
	SeekEvery int
	// SoftwareEvery decodes every Nth frame in software; 0 disables it.
	SoftwareEvery int
	QueueSize     int
	FrameInterval time.Duration
}

type Stats struct {
	Frames   int
	ZeroCopy int
	Copied   int
	Uploaded int
	Dropped  int
	Stalls   int
	Seeks    int
	Errors   int
}

func (s Stats) String() string {
	return fmt.Sprintf("frames=%d zero_copy=%d copied=%d uploaded=%d dropped=%d stalls=%d seeks=%d errors=%d",
		s.Frames, s.ZeroCopy, s.Copied, s.Uploaded, s.Dropped, s.Stalls, s.Seeks, s.Errors)
}

// decoderBuffer is one of the decoder's output buffers, backed by a memfd in
// place of a DMA-BUF.
type decoderBuffer struct {
	index int
	fd    int
	ref   *refCount
}

func (b *decoderBuffer) HWBuffer() surfacepool.BufferRef {
	return bufferRef{c: b.ref}
}

type Decoder struct {
	cfg     Config
	pool    *surfacepool.Pool
	queue   *buffer.FrameBuffer
	buffers []*decoderBuffer
	ctx     framesContext
	size    int
	next    int
	stats   Stats
}

func NewDecoder(cfg Config, pool *surfacepool.Pool, queue *buffer.FrameBuffer) (*Decoder, error) {
	if cfg.DecoderBuffers <= 0 {
		return nil, errors.New("sim: decoder_buffers deve ser positivo")
	}
	size, err := hostsurface.FrameSize(surface.FormatNV12, cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}

	d := &Decoder{
		cfg:   cfg,
		pool:  pool,
		queue: queue,
		ctx:   framesContext{ref: &refCount{name: "frames_ctx"}},
		size:  size,
	}
	for i := 0; i < cfg.DecoderBuffers; i++ {
		fd, err := unix.MemfdCreate(fmt.Sprintf("decoder-buffer-%d", i), unix.MFD_CLOEXEC)
		if err == nil {
			err = unix.Ftruncate(fd, int64(size))
		}
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("sim: memfd do buffer %d: %w", i, err)
		}
		d.buffers = append(d.buffers, &decoderBuffer{
			index: i,
			fd:    fd,
			ref:   &refCount{name: fmt.Sprintf("buffer-%d", i)},
		})
	}
	return d, nil
}

// Close releases the decoder's memfds. The pool keeps its own duplicates.
func (d *Decoder) Close() {
	for _, b := range d.buffers {
		unix.Close(b.fd)
	}
	d.buffers = nil
}

func (d *Decoder) Stats() Stats { return d.stats }

// OutstandingRefs is the number of driver references the pool still holds.
func (d *Decoder) OutstandingRefs() int64 {
	n := d.ctx.ref.outstanding()
	for _, b := range d.buffers {
		n += b.ref.outstanding()
	}
	return n
}

// freeBuffer returns the next buffer nobody references. A full decoder asks
// the pool to drop unused references once before giving up.
func (d *Decoder) freeBuffer() *decoderBuffer {
	for attempt := 0; attempt < 2; attempt++ {
		for i := 0; i < len(d.buffers); i++ {
			b := d.buffers[(d.next+i)%len(d.buffers)]
			if b.ref.outstanding() == 0 {
				d.next = (b.index + 1) % len(d.buffers)
				return b
			}
		}
		d.pool.ReleaseUnusedHardwareFrames()
	}
	return nil
}

// Run decodes cfg.Frames frames, pushing each to the present queue.
func (d *Decoder) Run(ctx context.Context) (Stats, error) {
	var ticker *time.Ticker
	if d.cfg.FrameInterval > 0 {
		ticker = time.NewTicker(d.cfg.FrameInterval)
		defer ticker.Stop()
	}

	for i := 0; i < d.cfg.Frames; i++ {
		if err := ctx.Err(); err != nil {
			return d.stats, err
		}

		if d.cfg.SeekEvery > 0 && i > 0 && i%d.cfg.SeekEvery == 0 {
			d.seek()
		}

		if err := d.decodeOne(uint64(i)); err != nil {
			if errors.Is(err, surfacepool.ErrTextureCreationBroken) || errors.Is(err, surfacepool.ErrClosed) {
				return d.stats, err
			}
			d.stats.Errors++
			logger.L().Warnw("Frame não decodificado", "sequence", i, "error", err)
		}

		if ticker != nil {
			select {
			case <-ctx.Done():
				return d.stats, ctx.Err()
			case <-ticker.C:
			}
		}
	}
	return d.stats, nil
}

func (d *Decoder) seek() {
	drained := d.queue.Drain()
	d.pool.InvalidateDecoderIDs()
	released := d.pool.ReleaseUnusedHardwareFrames()
	d.stats.Seeks++
	logger.L().Debugw("Seek simulado",
		"frames_descartados", drained,
		"hardware_releases", released)
}

func (d *Decoder) decodeOne(seq uint64) error {
	var (
		ref *surfacepool.SurfaceRef
		err error
	)
	software := d.cfg.SoftwareEvery > 0 && seq%uint64(d.cfg.SoftwareEvery) == 0
	if software {
		ref, err = d.pool.GetSurfaceFromPlanarData(d.softwareFrame(seq), d.ctx)
	} else {
		b := d.freeBuffer()
		if b == nil {
			d.stats.Stalls++
			return nil
		}
		if err := d.fill(b, seq); err != nil {
			return err
		}
		ref, err = d.pool.GetSurfaceFromRawDescriptor(d.v4l2Buffer(b), 0, 0, d.ctx, b)
	}
	if err != nil {
		return err
	}

	d.stats.Frames++
	switch {
	case software:
		d.stats.Uploaded++
	case ref.ZeroCopy():
		d.stats.ZeroCopy++
	default:
		d.stats.Copied++
	}

	img := ref.AsRenderableImage()
	img.Acquire()
	frame := buffer.Frame{Sequence: seq, Image: img, ZeroCopy: ref.ZeroCopy(), Timestamp: time.Now()}
	if err := d.queue.Push(frame); errors.Is(err, buffer.ErrFrameDropped) {
		d.stats.Dropped++
	}
	return nil
}

// fill stamps the sequence number into the buffer, standing in for the
// hardware writing a decoded picture.
func (d *Decoder) fill(b *decoderBuffer, seq uint64) error {
	stamp := []byte{byte(seq), byte(seq >> 8), byte(seq >> 16), byte(seq >> 24)}
	if _, err := unix.Pwrite(b.fd, stamp, 0); err != nil {
		return fmt.Errorf("sim: escrita no buffer %d: %w", b.index, err)
	}
	return nil
}

func (d *Decoder) v4l2Buffer(b *decoderBuffer) descriptor.V4L2Buffer {
	return descriptor.V4L2Buffer{
		PixelFormat: descriptor.V4L2PixFmtNV12,
		Width:       uint32(d.cfg.Width),
		Height:      uint32(d.cfg.Height),
		Index:       b.index,
		Planes: []descriptor.V4L2Plane{{
			FD:           b.fd,
			BytesPerLine: uint32(d.cfg.Width),
			Length:       uint32(d.size),
		}},
	}
}

func (d *Decoder) softwareFrame(seq uint64) *surfacepool.PlanarYCbCr {
	w, h := d.cfg.Width, d.cfg.Height
	cw, ch := (w+1)/2, (h+1)/2
	f := &surfacepool.PlanarYCbCr{
		Width:   w,
		Height:  h,
		Y:       make([]byte, w*h),
		Cb:      make([]byte, cw*ch),
		Cr:      make([]byte, cw*ch),
		YStride: w,
		CStride: cw,
	}
	f.Y[0] = byte(seq)
	return f
}
