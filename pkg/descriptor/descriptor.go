// Package descriptor define o descritor canônico de buffers multi-plano usado
// pelo pool de surfaces e converte descritores nativos dos decoders para ele.
package descriptor

import (
	"errors"
	"fmt"

	"github.com/T3-Labs/edge-surface/pkg/surface"
)

// InvalidBufferID marca um descritor (ou handle) sem buffer de decoder associado.
const InvalidBufferID = -1

const (
	MaxLayers         = 1
	MaxPlanesPerLayer = 3
	MaxObjects        = 4
)

var (
	ErrUnsupportedFormat = errors.New("formato de pixel não suportado")
	ErrUnsupportedCrop   = errors.New("crop não suportado")
	ErrTooManyPlanes     = errors.New("planos demais")
	ErrTooManyLayers     = errors.New("camadas demais")
	ErrInvalidBuffer     = errors.New("descritor inválido")
)

// Object é um objeto de memória exportado (um fd DMA-BUF).
type Object struct {
	FD   int
	Size uint32
}

// Plane é um plano lógico dentro de um objeto.
type Plane struct {
	ObjectIndex int
	Offset      uint32
	Pitch       uint32
}

type Layer struct {
	Format surface.Format
	Planes []Plane
}

// Descriptor é a descrição canônica de buffer do pool. Width e Height são o
// tamanho da memória sem recorte; VisibleWidth/VisibleHeight a área exibida.
type Descriptor struct {
	Format        surface.Format
	Width         int
	Height        int
	VisibleWidth  int
	VisibleHeight int
	BufferID      int

	Objects []Object
	Layers  []Layer
}

// HasBufferID indica se o descritor tem id de buffer do decoder.
func (d *Descriptor) HasBufferID() bool {
	return d.BufferID != InvalidBufferID
}

// Validate confere o descritor contra os layouts que o pool suporta.
func (d *Descriptor) Validate() error {
	if !d.Format.Valid() {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, d.Format)
	}
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("%w: tamanho %dx%d", ErrInvalidBuffer, d.Width, d.Height)
	}
	if len(d.Layers) == 0 || len(d.Objects) == 0 {
		return fmt.Errorf("%w: sem camadas ou objetos", ErrInvalidBuffer)
	}
	if len(d.Layers) > MaxLayers {
		return fmt.Errorf("%w: %d > %d", ErrTooManyLayers, len(d.Layers), MaxLayers)
	}
	if len(d.Objects) > MaxObjects {
		return fmt.Errorf("%w: %d objetos > %d", ErrTooManyPlanes, len(d.Objects), MaxObjects)
	}

	layer := d.Layers[0]
	if layer.Format != d.Format {
		return fmt.Errorf("%w: camada %s difere de %s", ErrUnsupportedFormat, layer.Format, d.Format)
	}
	want := d.Format.PlaneCount()
	if len(layer.Planes) > want || len(layer.Planes) > MaxPlanesPerLayer {
		return fmt.Errorf("%w: %d planos para %s", ErrTooManyPlanes, len(layer.Planes), d.Format)
	}
	if len(layer.Planes) < want {
		return fmt.Errorf("%w: %d planos para %s", ErrInvalidBuffer, len(layer.Planes), d.Format)
	}
	for i, p := range layer.Planes {
		if p.ObjectIndex < 0 || p.ObjectIndex >= len(d.Objects) {
			return fmt.Errorf("%w: plano %d aponta para objeto %d", ErrInvalidBuffer, i, p.ObjectIndex)
		}
		if p.Pitch == 0 {
			return fmt.Errorf("%w: plano %d com pitch zero", ErrInvalidBuffer, i)
		}
	}
	if d.VisibleWidth > d.Width || d.VisibleHeight > d.Height {
		return fmt.Errorf("%w: área visível %dx%d maior que %dx%d",
			ErrUnsupportedCrop, d.VisibleWidth, d.VisibleHeight, d.Width, d.Height)
	}
	return nil
}

// SurfacePlanes achata a primeira camada em planos de surface.
func (d *Descriptor) SurfacePlanes() []surface.Plane {
	if len(d.Layers) == 0 {
		return nil
	}
	planes := make([]surface.Plane, 0, len(d.Layers[0].Planes))
	for _, p := range d.Layers[0].Planes {
		obj := d.Objects[p.ObjectIndex]
		size := uint32(0)
		if obj.Size > p.Offset {
			size = obj.Size - p.Offset
		}
		planes = append(planes, surface.Plane{
			FD:     obj.FD,
			Offset: p.Offset,
			Stride: p.Pitch,
			Size:   size,
		})
	}
	return planes
}

// RejectReason mapeia um erro de rejeição para um label curto de métrica.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedFormat):
		return "format"
	case errors.Is(err, ErrUnsupportedCrop):
		return "crop"
	case errors.Is(err, ErrTooManyPlanes):
		return "planes"
	case errors.Is(err, ErrTooManyLayers):
		return "layers"
	default:
		return "invalid"
	}
}
