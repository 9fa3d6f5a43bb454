package surfacepool

import (
	"fmt"
	"sync"

	"github.com/T3-Labs/edge-surface/pkg/descriptor"
	"github.com/T3-Labs/edge-surface/pkg/surface"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...interface{}) {
	l.mu.Lock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) index(event string) int {
	for i, e := range l.snapshot() {
		if e == event {
			return i
		}
	}
	return -1
}

// refCounter conta referências de driver tomadas e liberadas pelo pool.
type refCounter struct {
	name string
	log  *eventLog

	mu     sync.Mutex
	refs   int
	unrefs int
}

func (c *refCounter) outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs - c.unrefs
}

func (c *refCounter) released() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unrefs
}

type fakeRef struct {
	c *refCounter
}

func (r fakeRef) Ref() BufferRef {
	r.c.mu.Lock()
	r.c.refs++
	r.c.mu.Unlock()
	return fakeRef{c: r.c}
}

func (r fakeRef) Unref() {
	r.c.mu.Lock()
	r.c.unrefs++
	r.c.mu.Unlock()
	if r.c.log != nil {
		r.c.log.add("unref:%s", r.c.name)
	}
}

type fakeFrame struct {
	buf *refCounter
}

func (f fakeFrame) HWBuffer() BufferRef {
	if f.buf == nil {
		return nil
	}
	return fakeRef{c: f.buf}
}

type fakeContext struct {
	frames *refCounter
}

func (c fakeContext) HWFramesContext() BufferRef {
	if c.frames == nil {
		return nil
	}
	return fakeRef{c: c.frames}
}

type fakeBackend struct {
	log *eventLog

	mu        sync.Mutex
	allocErr  error
	importErr error
	copyErr   error
	uploadErr error
	verifyErr error

	allocs    int
	imports   int
	copies    int
	uploads   int
	verifies  int
	destroyed int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{log: &eventLog{}}
}

func (b *fakeBackend) NewSurface(format surface.Format, width, height int) (*surface.Surface, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.allocErr != nil {
		return nil, b.allocErr
	}
	b.allocs++
	return surface.New(format, width, height), nil
}

func (b *fakeBackend) Import(s *surface.Surface, desc *descriptor.Descriptor) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.imports++
	if b.importErr != nil {
		return b.importErr
	}
	s.SetPlanes(desc.SurfacePlanes())
	return nil
}

func (b *fakeBackend) Copy(s *surface.Surface, desc *descriptor.Descriptor) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.copies++
	if b.copyErr != nil {
		return b.copyErr
	}
	s.SetPlanes([]surface.Plane{{FD: -1, Stride: uint32(desc.Width)}})
	return nil
}

func (b *fakeBackend) Upload(s *surface.Surface, frame *PlanarYCbCr) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads++
	return b.uploadErr
}

func (b *fakeBackend) VerifyTexture(s *surface.Surface) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verifies++
	return b.verifyErr
}

func (b *fakeBackend) Destroy(s *surface.Surface) {
	b.mu.Lock()
	b.destroyed++
	b.mu.Unlock()
	b.log.add("destroy:%d", s.ID())
}

func (b *fakeBackend) set(fn func(b *fakeBackend)) {
	b.mu.Lock()
	fn(b)
	b.mu.Unlock()
}

func (b *fakeBackend) counts() (allocs, imports, copies, verifies int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allocs, b.imports, b.copies, b.verifies
}

func nv12Desc(bufferID int) *descriptor.Descriptor {
	return &descriptor.Descriptor{
		Format:        surface.FormatNV12,
		Width:         64,
		Height:        64,
		VisibleWidth:  64,
		VisibleHeight: 64,
		BufferID:      bufferID,
		Objects:       []descriptor.Object{{FD: 100 + bufferID, Size: 64 * 96}},
		Layers: []descriptor.Layer{{
			Format: surface.FormatNV12,
			Planes: []descriptor.Plane{
				{ObjectIndex: 0, Offset: 0, Pitch: 64},
				{ObjectIndex: 0, Offset: 64 * 64, Pitch: 64},
			},
		}},
	}
}

func planarFrame(width, height int) *PlanarYCbCr {
	cw := (width + 1) / 2
	ch := (height + 1) / 2
	return &PlanarYCbCr{
		Width:   width,
		Height:  height,
		Y:       make([]byte, width*height),
		Cb:      make([]byte, cw*ch),
		Cr:      make([]byte, cw*ch),
		YStride: width,
		CStride: cw,
	}
}
