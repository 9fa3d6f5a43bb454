package descriptor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/T3-Labs/edge-surface/pkg/surface"
)

func nv12Buffer() V4L2Buffer {
	return V4L2Buffer{
		PixelFormat: V4L2PixFmtNV12,
		Width:       1920,
		Height:      1088,
		Index:       3,
		Planes: []V4L2Plane{
			{FD: 10, BytesPerLine: 1920, Length: 1920 * 1088 * 3 / 2},
		},
		Crop: Rect{Width: 1920, Height: 1080},
	}
}

func TestFromV4L2ContiguousNV12(t *testing.T) {
	desc, err := FromV4L2(nv12Buffer())
	require.NoError(t, err)

	assert.Equal(t, surface.FormatNV12, desc.Format)
	assert.Equal(t, 3, desc.BufferID)
	assert.Equal(t, 1920, desc.Width)
	assert.Equal(t, 1088, desc.Height)
	assert.Equal(t, 1080, desc.VisibleHeight)
	require.Len(t, desc.Objects, 1)
	require.Len(t, desc.Layers, 1)

	planes := desc.Layers[0].Planes
	require.Len(t, planes, 2)
	assert.Equal(t, Plane{ObjectIndex: 0, Offset: 0, Pitch: 1920}, planes[0])
	// Chroma começa após a altura não recortada.
	assert.Equal(t, Plane{ObjectIndex: 0, Offset: 1920 * 1088, Pitch: 1920}, planes[1])
}

func TestFromV4L2ContiguousYUV420(t *testing.T) {
	buf := V4L2Buffer{
		PixelFormat: V4L2PixFmtYUV420,
		Width:       640,
		Height:      480,
		Index:       0,
		Planes:      []V4L2Plane{{FD: 7, DataOffset: 64, BytesPerLine: 640}},
	}

	desc, err := FromV4L2(buf)
	require.NoError(t, err)

	planes := desc.Layers[0].Planes
	require.Len(t, planes, 3)
	assert.Equal(t, uint32(64), planes[0].Offset)
	assert.Equal(t, uint32(64+640*480), planes[1].Offset)
	assert.Equal(t, uint32(320), planes[1].Pitch)
	assert.Equal(t, uint32(64+640*480+320*240), planes[2].Offset)
	assert.Equal(t, 640, desc.VisibleWidth)
	assert.Equal(t, 480, desc.VisibleHeight)
}

func TestFromV4L2SplitPlanes(t *testing.T) {
	buf := V4L2Buffer{
		PixelFormat: V4L2PixFmtNV12M,
		Width:       1280,
		Height:      720,
		Index:       5,
		Planes: []V4L2Plane{
			{FD: 20, BytesPerLine: 1280, Length: 1280 * 720},
			{FD: 21, DataOffset: 16, BytesPerLine: 1280, Length: 1280 * 360},
		},
	}

	desc, err := FromV4L2(buf)
	require.NoError(t, err)

	require.Len(t, desc.Objects, 2)
	assert.Equal(t, 21, desc.Objects[1].FD)
	planes := desc.Layers[0].Planes
	assert.Equal(t, 1, planes[1].ObjectIndex)
	assert.Equal(t, uint32(16), planes[1].Offset)

	sp := desc.SurfacePlanes()
	require.Len(t, sp, 2)
	assert.Equal(t, 21, sp[1].FD)
	assert.Equal(t, uint32(1280*360-16), sp[1].Size)
}

func TestFromV4L2Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*V4L2Buffer)
		want   error
		reason string
	}{
		{
			name:   "fourcc desconhecido",
			mutate: func(b *V4L2Buffer) { b.PixelFormat = 'M' | 'J'<<8 | 'P'<<16 | 'G'<<24 },
			want:   ErrUnsupportedFormat,
			reason: "format",
		},
		{
			name:   "crop no topo",
			mutate: func(b *V4L2Buffer) { b.Crop.Top = 8 },
			want:   ErrUnsupportedCrop,
			reason: "crop",
		},
		{
			name:   "crop à esquerda",
			mutate: func(b *V4L2Buffer) { b.Crop.Left = 2 },
			want:   ErrUnsupportedCrop,
			reason: "crop",
		},
		{
			name: "planos demais",
			mutate: func(b *V4L2Buffer) {
				b.Planes = append(b.Planes, V4L2Plane{FD: 11, BytesPerLine: 1920})
			},
			want:   ErrTooManyPlanes,
			reason: "planes",
		},
		{
			name:   "sem planos",
			mutate: func(b *V4L2Buffer) { b.Planes = nil },
			want:   ErrInvalidBuffer,
			reason: "invalid",
		},
		{
			name:   "buffer pequeno demais",
			mutate: func(b *V4L2Buffer) { b.Planes[0].Length = 1920 * 1088 },
			want:   ErrInvalidBuffer,
			reason: "invalid",
		},
		{
			name: "layout estoura 32 bits",
			mutate: func(b *V4L2Buffer) {
				b.Width, b.Height = 65536, 65536
				b.Planes[0].BytesPerLine = 65536
				b.Planes[0].Length = 1 << 31
			},
			want:   ErrInvalidBuffer,
			reason: "invalid",
		},
		{
			name: "layout estoura 32 bits sem length",
			mutate: func(b *V4L2Buffer) {
				b.PixelFormat = V4L2PixFmtYUV420
				b.Width, b.Height = 65536, 65536
				b.Planes[0].BytesPerLine = 65536
				b.Planes[0].Length = 0
			},
			want:   ErrInvalidBuffer,
			reason: "invalid",
		},
		{
			name:   "crop maior que o buffer",
			mutate: func(b *V4L2Buffer) { b.Crop.Height = 2000 },
			want:   ErrUnsupportedCrop,
			reason: "crop",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := nv12Buffer()
			tt.mutate(&buf)

			desc, err := FromV4L2(buf)
			assert.Nil(t, desc)
			assert.True(t, errors.Is(err, tt.want), "erro inesperado: %v", err)
			assert.Equal(t, tt.reason, RejectReason(err))
		})
	}
}

func TestDescriptorValidate(t *testing.T) {
	valid := func() *Descriptor {
		return &Descriptor{
			Format:   surface.FormatNV12,
			Width:    64,
			Height:   64,
			BufferID: 1,
			Objects:  []Object{{FD: 3, Size: 64 * 96}},
			Layers: []Layer{{
				Format: surface.FormatNV12,
				Planes: []Plane{{Pitch: 64}, {Offset: 64 * 64, Pitch: 64}},
			}},
		}
	}

	assert.NoError(t, valid().Validate())

	d := valid()
	d.Layers = append(d.Layers, d.Layers[0])
	assert.ErrorIs(t, d.Validate(), ErrTooManyLayers)

	d = valid()
	d.Layers[0].Planes = append(d.Layers[0].Planes, Plane{Pitch: 64})
	assert.ErrorIs(t, d.Validate(), ErrTooManyPlanes)

	d = valid()
	d.Layers[0].Planes[1].ObjectIndex = 4
	assert.ErrorIs(t, d.Validate(), ErrInvalidBuffer)

	d = valid()
	d.Format = surface.Format(0)
	assert.ErrorIs(t, d.Validate(), ErrUnsupportedFormat)

	d = valid()
	d.BufferID = InvalidBufferID
	assert.False(t, d.HasBufferID())
}
