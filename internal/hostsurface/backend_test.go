//go:build linux

package hostsurface

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/T3-Labs/edge-surface/pkg/descriptor"
	"github.com/T3-Labs/edge-surface/pkg/surface"
	"github.com/T3-Labs/edge-surface/pkg/surfacepool"
)

// memfd returns an fd holding data, closed at test end.
func memfd(t *testing.T, data []byte) int {
	t.Helper()
	fd, err := unix.MemfdCreate("hostsurface-test", unix.MFD_CLOEXEC)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fd) })

	_, err = unix.Pwrite(fd, data, 0)
	require.NoError(t, err)
	return fd
}

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

func nv12Desc(t *testing.T, fd int, width, height uint32, index int) *descriptor.Descriptor {
	t.Helper()
	desc, err := descriptor.FromV4L2(descriptor.V4L2Buffer{
		PixelFormat: descriptor.V4L2PixFmtNV12,
		Width:       width,
		Height:      height,
		Index:       index,
		Planes: []descriptor.V4L2Plane{{
			FD:           fd,
			BytesPerLine: width,
			Length:       width * height * 3 / 2,
		}},
	})
	require.NoError(t, err)
	return desc
}

func TestGeometry(t *testing.T) {
	tests := []struct {
		format surface.Format
		w, h   int
		size   int
	}{
		{surface.FormatNV12, 8, 4, 48},
		{surface.FormatNV12, 7, 3, 7*3 + 8*2},
		{surface.FormatP010, 8, 4, 96},
		{surface.FormatYUV420, 8, 4, 48},
	}
	for _, tt := range tests {
		size, err := FrameSize(tt.format, tt.w, tt.h)
		require.NoError(t, err)
		assert.Equal(t, tt.size, size, "%s %dx%d", tt.format, tt.w, tt.h)
	}

	_, err := FrameSize(surface.Format(0), 8, 4)
	assert.ErrorIs(t, err, descriptor.ErrUnsupportedFormat)
	_, err = FrameSize(surface.FormatNV12, 0, 4)
	assert.ErrorIs(t, err, descriptor.ErrInvalidBuffer)
}

func TestCopyReadsPlanesFromFD(t *testing.T) {
	b := New()
	data := pattern(48)
	fd := memfd(t, data)

	s, err := b.NewSurface(surface.FormatNV12, 8, 4)
	require.NoError(t, err)
	defer b.Destroy(s)

	require.NoError(t, b.Copy(s, nv12Desc(t, fd, 8, 4, 0)))
	require.NoError(t, b.VerifyTexture(s))

	buf, err := backingOf(s)
	require.NoError(t, err)
	assert.Equal(t, data, buf.mem[:48])

	planes := s.Planes()
	require.Len(t, planes, 2)
	assert.Equal(t, -1, planes[0].FD)
	assert.Equal(t, uint32(32), planes[1].Offset)
	assert.Equal(t, uint32(8), planes[1].Stride)
}

func TestCopyShortSource(t *testing.T) {
	b := New()
	fd := memfd(t, pattern(40))

	s, err := b.NewSurface(surface.FormatNV12, 8, 4)
	require.NoError(t, err)
	defer b.Destroy(s)

	assert.Error(t, b.Copy(s, nv12Desc(t, fd, 8, 4, 0)))
}

func TestImportDuplicatesFDs(t *testing.T) {
	b := New()
	fd := memfd(t, pattern(48))

	s, err := b.NewSurface(surface.FormatNV12, 8, 4)
	require.NoError(t, err)

	require.NoError(t, b.Import(s, nv12Desc(t, fd, 8, 4, 2)))
	require.NoError(t, b.VerifyTexture(s))

	planes := s.Planes()
	require.Len(t, planes, 2)
	assert.NotEqual(t, fd, planes[0].FD)
	assert.Equal(t, planes[0].FD, planes[1].FD)
	assert.Equal(t, uint32(32), planes[1].Offset)

	buf, err := backingOf(s)
	require.NoError(t, err)
	require.Len(t, buf.imported, 1)

	// Reimportar fecha as duplicatas anteriores.
	require.NoError(t, b.Import(s, nv12Desc(t, fd, 8, 4, 3)))
	assert.Len(t, buf.imported, 1)

	b.Destroy(s)
	assert.Nil(t, buf.imported)
	assert.Nil(t, buf.mem)
	assert.Equal(t, 0, b.Live())
}

func TestImportBadFD(t *testing.T) {
	b := New()
	s, err := b.NewSurface(surface.FormatNV12, 8, 4)
	require.NoError(t, err)
	defer b.Destroy(s)

	desc := nv12Desc(t, memfd(t, pattern(48)), 8, 4, 0)
	desc.Objects[0].FD = 1 << 20
	assert.Error(t, b.Import(s, desc))
}

func TestUpload(t *testing.T) {
	b := New()
	s, err := b.NewSurface(surface.FormatYUV420, 4, 2)
	require.NoError(t, err)
	defer b.Destroy(s)

	frame := &surfacepool.PlanarYCbCr{
		Width:   4,
		Height:  2,
		Y:       []byte{1, 2, 3, 4, 0, 0, 5, 6, 7, 8, 0, 0},
		Cb:      []byte{9, 10, 0},
		Cr:      []byte{11, 12, 0},
		YStride: 6,
		CStride: 3,
	}
	require.NoError(t, b.Upload(s, frame))
	require.NoError(t, b.VerifyTexture(s))

	buf, err := backingOf(s)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, buf.mem[:12])

	nv12, err := b.NewSurface(surface.FormatNV12, 4, 2)
	require.NoError(t, err)
	defer b.Destroy(nv12)
	assert.ErrorIs(t, b.Upload(nv12, frame), descriptor.ErrUnsupportedFormat)
}

func TestVerifyTextureWithoutPlanes(t *testing.T) {
	b := New()
	s, err := b.NewSurface(surface.FormatNV12, 8, 4)
	require.NoError(t, err)
	defer b.Destroy(s)

	assert.ErrorIs(t, b.VerifyTexture(s), ErrNoPlanes)
	assert.ErrorIs(t, b.VerifyTexture(surface.New(surface.FormatNV12, 8, 4)), ErrNotHostSurface)
}

func TestPoolOverHostBackend(t *testing.T) {
	b := New()
	p, err := surfacepool.New(b, surfacepool.Options{Name: "host-test", MaxHardwareSlots: 4})
	require.NoError(t, err)

	fd := memfd(t, pattern(48))
	ref, err := p.GetSurfaceFromHardwareDescriptor(nv12Desc(t, fd, 8, 4, 1), 0, 0, nil, nil)
	require.NoError(t, err)
	assert.True(t, ref.ZeroCopy())

	again, err := p.GetSurfaceFromHardwareDescriptor(nv12Desc(t, fd, 8, 4, 1), 0, 0, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ref.ID(), again.ID())

	p.Close()
	assert.Equal(t, 0, b.Live())
}
