package surfacepool

import (
	"github.com/T3-Labs/edge-surface/pkg/descriptor"
	"github.com/T3-Labs/edge-surface/pkg/surface"
)

// Allocator cria surfaces vazias. Representa a primitiva de alocação da GPU
// (ex.: um alocador GBM/DMA-BUF).
type Allocator interface {
	NewSurface(format surface.Format, width, height int) (*surface.Surface, error)
}

// Backend preenche e destrói surfaces.
type Backend interface {
	Allocator

	// Import liga a surface à memória do decoder sem cópia.
	Import(s *surface.Surface, desc *descriptor.Descriptor) error
	// Copy copia os pixels descritos por desc para a memória da surface.
	Copy(s *surface.Surface, desc *descriptor.Descriptor) error
	// Upload preenche a surface com um frame decodificado em software.
	Upload(s *surface.Surface, frame *PlanarYCbCr) error
	// VerifyTexture confere se o renderer consegue criar uma textura de s.
	VerifyTexture(s *surface.Surface) error
	Destroy(s *surface.Surface)
}

// BufferRef é uma referência do driver (ex.: um AVBufferRef). Ref retorna uma
// nova referência ao mesmo buffer; Unref solta esta.
type BufferRef interface {
	Ref() BufferRef
	Unref()
}

// DecoderContext expõe o contexto de frames de hardware do decoder. A ref
// retornada pode ser nil.
type DecoderContext interface {
	HWFramesContext() BufferRef
}

// DecoderFrame expõe o buffer do driver por trás de um frame decodificado.
type DecoderFrame interface {
	HWBuffer() BufferRef
}

// PlanarYCbCr é um frame I420 decodificado em software.
type PlanarYCbCr struct {
	Width   int
	Height  int
	Y       []byte
	Cb      []byte
	Cr      []byte
	YStride int
	CStride int
}

func (f *PlanarYCbCr) validate() error {
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return descriptor.ErrInvalidBuffer
	}
	if f.YStride < f.Width || f.CStride < (f.Width+1)/2 {
		return descriptor.ErrInvalidBuffer
	}
	ch := (f.Height + 1) / 2
	if len(f.Y) < f.YStride*f.Height || len(f.Cb) < f.CStride*ch || len(f.Cr) < f.CStride*ch {
		return descriptor.ErrInvalidBuffer
	}
	return nil
}
