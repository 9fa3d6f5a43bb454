package descriptor

import (
	"fmt"
	"math"

	"github.com/T3-Labs/edge-surface/pkg/surface"
)

// Formatos de pixel V4L2 aceitos de decoders stateful/stateless.
const (
	V4L2PixFmtNV12    uint32 = 'N' | 'V'<<8 | '1'<<16 | '2'<<24
	V4L2PixFmtNV12M   uint32 = 'N' | 'M'<<8 | '1'<<16 | '2'<<24
	V4L2PixFmtYUV420  uint32 = 'Y' | 'U'<<8 | '1'<<16 | '2'<<24
	V4L2PixFmtYUV420M uint32 = 'Y' | 'M'<<8 | '1'<<16 | '2'<<24
	V4L2PixFmtP010    uint32 = 'P' | '0'<<8 | '1'<<16 | '0'<<24
)

type Rect struct {
	Top    uint32
	Left   uint32
	Width  uint32
	Height uint32
}

type V4L2Plane struct {
	FD           int
	DataOffset   uint32
	BytesPerLine uint32
	Length       uint32
}

// V4L2Buffer é um buffer de captura multi-plano retirado da fila do decoder,
// com o retângulo de seleção (crop) do stream.
type V4L2Buffer struct {
	PixelFormat uint32
	Width       uint32
	Height      uint32
	Index       int
	Planes      []V4L2Plane
	Crop        Rect
}

type v4l2Layout struct {
	format     surface.Format
	memPlanes  int
	contiguous bool
}

var v4l2Layouts = map[uint32]v4l2Layout{
	V4L2PixFmtNV12:    {surface.FormatNV12, 1, true},
	V4L2PixFmtP010:    {surface.FormatP010, 1, true},
	V4L2PixFmtYUV420:  {surface.FormatYUV420, 1, true},
	V4L2PixFmtNV12M:   {surface.FormatNV12, 2, false},
	V4L2PixFmtYUV420M: {surface.FormatYUV420, 3, false},
}

// FromV4L2 converte um buffer V4L2 no descritor canônico.
//
// Formatos contíguos levam todos os planos lógicos em um plano de memória; os
// offsets de croma vêm da altura sem recorte, então o crop só muda o tamanho
// visível e nunca o layout de memória. Só crops embaixo/à direita são aceitos.
func FromV4L2(buf V4L2Buffer) (*Descriptor, error) {
	layout, ok := v4l2Layouts[buf.PixelFormat]
	if !ok {
		return nil, fmt.Errorf("%w: v4l2 fourcc 0x%08x", ErrUnsupportedFormat, buf.PixelFormat)
	}
	if buf.Crop.Top != 0 || buf.Crop.Left != 0 {
		return nil, fmt.Errorf("%w: top=%d left=%d", ErrUnsupportedCrop, buf.Crop.Top, buf.Crop.Left)
	}
	if buf.Width == 0 || buf.Height == 0 {
		return nil, fmt.Errorf("%w: tamanho %dx%d", ErrInvalidBuffer, buf.Width, buf.Height)
	}
	if len(buf.Planes) > layout.memPlanes || len(buf.Planes) > MaxObjects {
		return nil, fmt.Errorf("%w: %d planos de memória para %s",
			ErrTooManyPlanes, len(buf.Planes), layout.format)
	}
	if len(buf.Planes) < layout.memPlanes {
		return nil, fmt.Errorf("%w: %d planos de memória para %s",
			ErrInvalidBuffer, len(buf.Planes), layout.format)
	}

	desc := &Descriptor{
		Format:        layout.format,
		Width:         int(buf.Width),
		Height:        int(buf.Height),
		VisibleWidth:  int(buf.Width),
		VisibleHeight: int(buf.Height),
		BufferID:      buf.Index,
	}
	if buf.Crop.Width > 0 {
		desc.VisibleWidth = int(buf.Crop.Width)
	}
	if buf.Crop.Height > 0 {
		desc.VisibleHeight = int(buf.Crop.Height)
	}

	for _, p := range buf.Planes {
		desc.Objects = append(desc.Objects, Object{FD: p.FD, Size: p.Length})
	}

	var planes []Plane
	var err error
	if layout.contiguous {
		planes, err = splitContiguous(layout.format, buf.Planes[0], buf.Height)
		if err != nil {
			return nil, err
		}
	} else {
		for i, p := range buf.Planes {
			planes = append(planes, Plane{ObjectIndex: i, Offset: p.DataOffset, Pitch: p.BytesPerLine})
		}
	}
	desc.Layers = []Layer{{Format: layout.format, Planes: planes}}

	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return desc, nil
}

// splitContiguous calcula os planos lógicos de um buffer contíguo. A conta é
// feita em 64 bits: layouts que não cabem em offsets de 32 bits são rejeitados.
func splitContiguous(format surface.Format, p V4L2Plane, height uint32) ([]Plane, error) {
	if p.BytesPerLine == 0 {
		return nil, fmt.Errorf("%w: bytesperline zero", ErrInvalidBuffer)
	}
	bpl := uint64(p.BytesPerLine)
	base := uint64(p.DataOffset)
	lumaSize := bpl * uint64(height)
	chromaHeight := (uint64(height) + 1) / 2

	var offsets, pitches []uint64
	var end uint64
	switch format {
	case surface.FormatYUV420:
		cpitch := bpl / 2
		u := base + lumaSize
		v := u + cpitch*chromaHeight
		offsets = []uint64{base, u, v}
		pitches = []uint64{bpl, cpitch, cpitch}
		end = v + cpitch*chromaHeight
	default:
		uv := base + lumaSize
		offsets = []uint64{base, uv}
		pitches = []uint64{bpl, bpl}
		end = uv + bpl*chromaHeight
	}

	if end > math.MaxUint32 {
		return nil, fmt.Errorf("%w: layout de %d bytes excede 32 bits", ErrInvalidBuffer, end)
	}
	if p.Length != 0 && end > uint64(p.Length) {
		return nil, fmt.Errorf("%w: layout precisa de %d bytes, buffer tem %d",
			ErrInvalidBuffer, end, p.Length)
	}

	planes := make([]Plane, len(offsets))
	for i := range offsets {
		planes[i] = Plane{ObjectIndex: 0, Offset: uint32(offsets[i]), Pitch: uint32(pitches[i])}
	}
	return planes, nil
}
