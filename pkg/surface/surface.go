package surface

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Format é o FourCC do layout de pixels de uma surface.
type Format uint32

const (
	FormatNV12   Format = 'N' | 'V'<<8 | '1'<<16 | '2'<<24
	FormatP010   Format = 'P' | '0'<<8 | '1'<<16 | '0'<<24
	FormatYUV420 Format = 'I' | '4'<<8 | '2'<<16 | '0'<<24
)

func (f Format) String() string {
	switch f {
	case FormatNV12:
		return "NV12"
	case FormatP010:
		return "P010"
	case FormatYUV420:
		return "YUV420"
	default:
		return fmt.Sprintf("UNKNOWN(0x%08x)", uint32(f))
	}
}

// PlaneCount retorna o número de planos lógicos do formato, 0 se desconhecido.
func (f Format) PlaneCount() int {
	switch f {
	case FormatNV12, FormatP010:
		return 2
	case FormatYUV420:
		return 3
	default:
		return 0
	}
}

func (f Format) Valid() bool {
	return f.PlaneCount() > 0
}

// Plane descreve um plano de memória de GPU de uma surface.
type Plane struct {
	FD     int
	Offset uint32
	Stride uint32
	Size   uint32
}

var lastID uint32

// Surface é um buffer de pixels alocado pelo driver e compartilhável entre
// processos. Formato e dimensões nunca mudam após a criação; só os planos
// (conteúdo) são reescritos pelo backend.
type Surface struct {
	id     uint32
	format Format
	width  int
	height int

	mu      sync.Mutex
	planes  []Plane
	backing any

	// Contagem de holds externos (renderer/compositor).
	holds int32
}

// New cria uma surface com um identificador novo, único no processo.
func New(format Format, width, height int) *Surface {
	return &Surface{
		id:     atomic.AddUint32(&lastID, 1),
		format: format,
		width:  width,
		height: height,
	}
}

func (s *Surface) ID() uint32     { return s.id }
func (s *Surface) Format() Format { return s.format }
func (s *Surface) Width() int     { return s.width }
func (s *Surface) Height() int    { return s.height }

// Planes retorna uma cópia do layout de planos atual.
func (s *Surface) Planes() []Plane {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Plane(nil), s.planes...)
}

func (s *Surface) SetPlanes(planes []Plane) {
	s.mu.Lock()
	s.planes = append(s.planes[:0], planes...)
	s.mu.Unlock()
}

// Backing retorna a memória do backend associada à surface.
func (s *Surface) Backing() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backing
}

func (s *Surface) SetBacking(b any) {
	s.mu.Lock()
	s.backing = b
	s.mu.Unlock()
}

// Acquire registra um usuário externo da surface.
func (s *Surface) Acquire() {
	atomic.AddInt32(&s.holds, 1)
}

// Release devolve um hold obtido com Acquire.
func (s *Surface) Release() {
	if atomic.AddInt32(&s.holds, -1) < 0 {
		panic(fmt.Sprintf("surface %d: release sem acquire correspondente", s.id))
	}
}

// InUse indica se algum renderer segura a surface agora.
func (s *Surface) InUse() bool {
	return atomic.LoadInt32(&s.holds) > 0
}

func (s *Surface) String() string {
	return fmt.Sprintf("Surface[%d]: %s %dx%d", s.id, s.format, s.width, s.height)
}
