package surface

// Image é a visão renderizável de uma surface entregue ao compositor.
// VisibleWidth/VisibleHeight podem ser menores que a surface quando o
// decoder recorta; os planos sempre descrevem a memória sem recorte.
type Image struct {
	SurfaceID     uint32
	Format        Format
	Width         int
	Height        int
	VisibleWidth  int
	VisibleHeight int
	Planes        []Plane

	surface *Surface
}

// NewImage cria uma image de s com o tamanho visível dado. Zero significa a
// surface inteira.
func NewImage(s *Surface, visibleWidth, visibleHeight int) Image {
	if visibleWidth <= 0 {
		visibleWidth = s.Width()
	}
	if visibleHeight <= 0 {
		visibleHeight = s.Height()
	}
	return Image{
		SurfaceID:     s.ID(),
		Format:        s.Format(),
		Width:         s.Width(),
		Height:        s.Height(),
		VisibleWidth:  visibleWidth,
		VisibleHeight: visibleHeight,
		Planes:        s.Planes(),
		surface:       s,
	}
}

// Acquire marca a image como em uso pelo renderer.
func (img Image) Acquire() {
	if img.surface != nil {
		img.surface.Acquire()
	}
}

func (img Image) Release() {
	if img.surface != nil {
		img.surface.Release()
	}
}

func (img Image) InUse() bool {
	return img.surface != nil && img.surface.InUse()
}
