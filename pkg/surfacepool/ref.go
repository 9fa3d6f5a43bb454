package surfacepool

import (
	"time"

	"github.com/T3-Labs/edge-surface/pkg/descriptor"
	"github.com/T3-Labs/edge-surface/pkg/surface"
)

// SurfaceRef é o que o decoder entrega ao renderer para um frame.
type SurfaceRef struct {
	pool     *Pool
	h        *handle
	image    surface.Image
	zeroCopy bool
	bufferID int
}

func newSurfaceRef(p *Pool, h *handle) *SurfaceRef {
	return &SurfaceRef{
		pool:     p,
		h:        h,
		image:    surface.NewImage(h.surface, h.visibleWidth, h.visibleHeight),
		zeroCopy: h.zeroCopy,
		bufferID: h.decoderBufferID,
	}
}

func (r *SurfaceRef) ID() uint32 { return r.h.surface.ID() }

// AsRenderableImage retorna a image compartilhável com o compositor. Ele chama
// Acquire enquanto o frame está em tela e Release ao terminar; o pool observa
// isso para decidir o reuso.
func (r *SurfaceRef) AsRenderableImage() surface.Image { return r.image }

// ZeroCopy indica se o frame é exibido direto da memória do decoder.
func (r *SurfaceRef) ZeroCopy() bool { return r.zeroCopy }

// DecoderBufferID retorna o buffer do decoder ligado ao frame, ou
// descriptor.InvalidBufferID para frames copiados ou enviados por upload.
func (r *SurfaceRef) DecoderBufferID() int { return r.bufferID }

// Recyclable indica se a surface ainda tem o id do buffer do frame.
func (r *SurfaceRef) Recyclable() bool {
	if r.bufferID == descriptor.InvalidBufferID {
		return false
	}
	r.pool.mu.Lock()
	defer r.pool.unlock()
	return r.h.decoderBufferID == r.bufferID
}

// MarkNoLongerRecyclable desliga a surface do buffer do decoder para que ela
// nunca mais volte para esse id. Um handle já religado a outro frame fica
// como está.
func (r *SurfaceRef) MarkNoLongerRecyclable() {
	r.pool.mu.Lock()
	defer r.pool.unlock()
	if r.h.decoderBufferID == r.bufferID {
		r.h.decoderBufferID = descriptor.InvalidBufferID
	}
}

type AnomalyKind string

const (
	// Um handle achado livre já estava visível de novo.
	AnomalyReuseWhileVisible AnomalyKind = "reuse_while_visible"
	// Uma surface de hardware reciclada é religada ainda em tela.
	AnomalyRebindWhileVisible AnomalyKind = "rebind_while_visible"
	// Referências do driver soltas enquanto o renderer lê a surface.
	AnomalyReleaseWhileVisible AnomalyKind = "release_while_visible"
)

// Anomaly é um problema de reuso não fatal que pode virar um glitch visível.
type Anomaly struct {
	Pool            string
	Kind            AnomalyKind
	SurfaceID       uint32
	DecoderBufferID int
	Time            time.Time
}
