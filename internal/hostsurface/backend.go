//go:build linux

// Package hostsurface is a surfacepool.Backend that keeps surfaces in
// anonymous host mappings. Zero-copy imports duplicate the decoder's DMA-BUF
// file descriptors; copies read plane rows straight from them with pread.
// It runs without a GPU, which makes it the backend of the simulator.
package hostsurface

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/T3-Labs/edge-surface/pkg/descriptor"
	"github.com/T3-Labs/edge-surface/pkg/logger"
	"github.com/T3-Labs/edge-surface/pkg/surface"
	"github.com/T3-Labs/edge-surface/pkg/surfacepool"
)

var (
	ErrNotHostSurface = errors.New("surface não pertence a este backend")
	ErrNoPlanes       = errors.New("surface sem planos")
)

// buffer is the memory behind one surface.
type buffer struct {
	mem      []byte
	layout   []planeGeometry
	imported []int
}

type Backend struct {
	mu        sync.Mutex
	allocated int
	destroyed int
}

var _ surfacepool.Backend = (*Backend)(nil)

func New() *Backend {
	return &Backend{}
}

func (b *Backend) NewSurface(format surface.Format, width, height int) (*surface.Surface, error) {
	layout, err := geometry(format, width, height)
	if err != nil {
		return nil, err
	}
	size := 0
	for _, p := range layout {
		size += p.size()
	}

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap de %d bytes: %w", size, err)
	}

	s := surface.New(format, width, height)
	s.SetBacking(&buffer{mem: mem, layout: layout})

	b.mu.Lock()
	b.allocated++
	b.mu.Unlock()
	return s, nil
}

func backingOf(s *surface.Surface) (*buffer, error) {
	buf, ok := s.Backing().(*buffer)
	if !ok || buf == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotHostSurface, s)
	}
	return buf, nil
}

// hostPlanes describes the surface-owned memory. FD -1 marks host memory.
func hostPlanes(buf *buffer) []surface.Plane {
	planes := make([]surface.Plane, 0, len(buf.layout))
	offset := 0
	for _, p := range buf.layout {
		planes = append(planes, surface.Plane{
			FD:     -1,
			Offset: uint32(offset),
			Stride: uint32(p.rowBytes),
			Size:   uint32(p.size()),
		})
		offset += p.size()
	}
	return planes
}

func closeImported(buf *buffer) {
	for _, fd := range buf.imported {
		unix.Close(fd)
	}
	buf.imported = nil
}

// Import duplicates every DMA-BUF fd of desc so the surface keeps the memory
// reachable independently of the decoder's own descriptors.
func (b *Backend) Import(s *surface.Surface, desc *descriptor.Descriptor) error {
	buf, err := backingOf(s)
	if err != nil {
		return err
	}
	closeImported(buf)

	fds := make([]int, 0, len(desc.Objects))
	for _, obj := range desc.Objects {
		fd, err := unix.FcntlInt(uintptr(obj.FD), unix.F_DUPFD_CLOEXEC, 0)
		if err != nil {
			for _, d := range fds {
				unix.Close(d)
			}
			return fmt.Errorf("dup do fd %d: %w", obj.FD, err)
		}
		fds = append(fds, fd)
	}
	buf.imported = fds

	planes := desc.SurfacePlanes()
	for i := range planes {
		planes[i].FD = fds[desc.Layers[0].Planes[i].ObjectIndex]
	}
	s.SetPlanes(planes)
	return nil
}

// Copy reads each plane row by row from the decoder's fds into host memory.
func (b *Backend) Copy(s *surface.Surface, desc *descriptor.Descriptor) error {
	buf, err := backingOf(s)
	if err != nil {
		return err
	}
	closeImported(buf)

	src := desc.Layers[0].Planes
	if len(src) != len(buf.layout) {
		return fmt.Errorf("%w: %d planos para layout de %d", descriptor.ErrTooManyPlanes, len(src), len(buf.layout))
	}

	offset := 0
	for i, p := range buf.layout {
		fd := desc.Objects[src[i].ObjectIndex].FD
		for row := 0; row < p.rows; row++ {
			dst := buf.mem[offset+row*p.rowBytes : offset+(row+1)*p.rowBytes]
			at := int64(src[i].Offset) + int64(row)*int64(src[i].Pitch)
			n, err := unix.Pread(fd, dst, at)
			if err != nil {
				return fmt.Errorf("pread plano %d linha %d: %w", i, row, err)
			}
			if n < len(dst) {
				return fmt.Errorf("pread plano %d linha %d: %d de %d bytes", i, row, n, len(dst))
			}
		}
		offset += p.size()
	}

	s.SetPlanes(hostPlanes(buf))
	return nil
}

func (b *Backend) Upload(s *surface.Surface, frame *surfacepool.PlanarYCbCr) error {
	buf, err := backingOf(s)
	if err != nil {
		return err
	}
	if s.Format() != surface.FormatYUV420 {
		return fmt.Errorf("%w: upload em %s", descriptor.ErrUnsupportedFormat, s.Format())
	}
	closeImported(buf)

	sources := []struct {
		data   []byte
		stride int
	}{
		{frame.Y, frame.YStride},
		{frame.Cb, frame.CStride},
		{frame.Cr, frame.CStride},
	}
	offset := 0
	for i, p := range buf.layout {
		for row := 0; row < p.rows; row++ {
			srcRow := sources[i].data[row*sources[i].stride:]
			copy(buf.mem[offset+row*p.rowBytes:offset+(row+1)*p.rowBytes], srcRow[:p.rowBytes])
		}
		offset += p.size()
	}

	s.SetPlanes(hostPlanes(buf))
	return nil
}

// VerifyTexture checks that every plane points at readable memory: a live fd
// for imported planes, the surface mapping otherwise.
func (b *Backend) VerifyTexture(s *surface.Surface) error {
	buf, err := backingOf(s)
	if err != nil {
		return err
	}
	planes := s.Planes()
	if len(planes) != s.Format().PlaneCount() {
		return fmt.Errorf("%w: %s", ErrNoPlanes, s)
	}
	for i, p := range planes {
		if p.FD < 0 {
			if int(p.Offset)+int(p.Size) > len(buf.mem) {
				return fmt.Errorf("plano %d fora da memória da surface", i)
			}
			continue
		}
		var st unix.Stat_t
		if err := unix.Fstat(p.FD, &st); err != nil {
			return fmt.Errorf("fstat do plano %d: %w", i, err)
		}
	}
	return nil
}

func (b *Backend) Destroy(s *surface.Surface) {
	buf, err := backingOf(s)
	if err != nil {
		logger.L().Warnw("Destroy de surface desconhecida", "surface_id", s.ID())
		return
	}
	closeImported(buf)
	if buf.mem != nil {
		if err := unix.Munmap(buf.mem); err != nil {
			logger.L().Warnw("munmap falhou", "surface_id", s.ID(), "error", err)
		}
		buf.mem = nil
	}
	s.SetBacking(nil)

	b.mu.Lock()
	b.destroyed++
	b.mu.Unlock()
}

// Live returns the number of surfaces allocated and not yet destroyed.
func (b *Backend) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allocated - b.destroyed
}
