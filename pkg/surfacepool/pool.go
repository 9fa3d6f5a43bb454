// Package surfacepool entrega, recicla e aposenta as surfaces compartilháveis
// de GPU que levam frames decodificados em hardware até o renderer.
//
// Um Pool mantém o mapa entre ids de buffer do decoder e surfaces para que um
// buffer do decoder seja exibido sem cópia (zero-copy). Ele recorre à cópia
// para uma surface própria quando o zero-copy está quebrado ou desativado, ou
// quando sobrariam poucos buffers de hardware para o decoder.
//
// Todos os métodos podem ser usados concorrentemente. Só a thread do decoder
// deve resolver surfaces; outras goroutines podem fazer flush ou fechar.
package surfacepool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/T3-Labs/edge-surface/pkg/capability"
	"github.com/T3-Labs/edge-surface/pkg/descriptor"
	"github.com/T3-Labs/edge-surface/pkg/logger"
	"github.com/T3-Labs/edge-surface/pkg/metrics"
	"github.com/T3-Labs/edge-surface/pkg/surface"
)

const (
	CapabilityZeroCopy        = "zero_copy"
	CapabilityTextureCreation = "texture_creation"
)

type Options struct {
	// Name rotula logs e métricas. Padrão: "pool-<uuid>".
	Name string
	// MaxHardwareSlots é o número de buffers do decoder; 0 significa sem limite.
	MaxHardwareSlots int
	// CopyThreshold é o free-ratio a partir do qual (inclusive) os frames são copiados.
	CopyThreshold float64
	// DisableZeroCopy força o caminho de cópia (override de ambiente/config).
	DisableZeroCopy bool

	// Estados iniciais das capabilities, ex.: lidos de uma execução anterior.
	ZeroCopy        capability.State
	TextureCreation capability.State

	// Callbacks rodam depois que o lock do pool é liberado.
	OnCapabilityChange func(name string, state capability.State)
	OnAnomaly          func(Anomaly)
}

type Pool struct {
	backend Backend
	opts    Options

	mu              sync.Mutex
	handles         []*handle
	zeroCopy        *capability.Capability
	textureCreation *capability.Capability
	closed          bool
	hwReleases      int64

	// notificações acumuladas sob o lock, disparadas em unlock()
	events []func()
}

func New(backend Backend, opts Options) (*Pool, error) {
	if backend == nil {
		return nil, errors.New("surfacepool: backend nil")
	}
	if opts.MaxHardwareSlots < 0 {
		return nil, fmt.Errorf("surfacepool: max_hardware_slots inválido: %d", opts.MaxHardwareSlots)
	}
	if opts.CopyThreshold < 0 || opts.CopyThreshold >= 1 {
		return nil, fmt.Errorf("surfacepool: copy_threshold fora de [0, 1): %.2f", opts.CopyThreshold)
	}
	if opts.CopyThreshold == 0 {
		opts.CopyThreshold = DefaultCopyThreshold
	}
	if opts.Name == "" {
		opts.Name = "pool-" + uuid.New().String()[:8]
	}

	p := &Pool{
		backend:         backend,
		opts:            opts,
		zeroCopy:        capability.New(CapabilityZeroCopy, opts.ZeroCopy),
		textureCreation: capability.New(CapabilityTextureCreation, opts.TextureCreation),
	}
	p.zeroCopy.OnChange(p.capabilityChanged)
	p.textureCreation.OnChange(p.capabilityChanged)

	metrics.CapabilityState.WithLabelValues(opts.Name, CapabilityZeroCopy).Set(float64(opts.ZeroCopy))
	metrics.CapabilityState.WithLabelValues(opts.Name, CapabilityTextureCreation).Set(float64(opts.TextureCreation))

	logger.L().Infow("Pool de surfaces inicializado",
		"pool", opts.Name,
		"max_hardware_slots", opts.MaxHardwareSlots,
		"copy_threshold", opts.CopyThreshold,
		"disable_zero_copy", opts.DisableZeroCopy,
		"zero_copy", opts.ZeroCopy,
		"texture_creation", opts.TextureCreation)

	return p, nil
}

func (p *Pool) Name() string { return p.opts.Name }

func (p *Pool) unlock() {
	events := p.events
	p.events = nil
	p.mu.Unlock()

	for _, fn := range events {
		fn()
	}
}

func (p *Pool) capabilityChanged(name string, old, new capability.State) {
	metrics.CapabilityState.WithLabelValues(p.opts.Name, name).Set(float64(new))
	logger.L().Warnw("Capability alterada",
		"pool", p.opts.Name,
		"capability", name,
		"old_state", old,
		"new_state", new)

	if cb := p.opts.OnCapabilityChange; cb != nil {
		p.events = append(p.events, func() { cb(name, new) })
	}
}

func (p *Pool) reportAnomalyLocked(kind AnomalyKind, h *handle) {
	a := Anomaly{
		Pool:            p.opts.Name,
		Kind:            kind,
		SurfaceID:       h.surface.ID(),
		DecoderBufferID: h.decoderBufferID,
		Time:            time.Now(),
	}
	metrics.Anomalies.WithLabelValues(p.opts.Name, string(kind)).Inc()
	logger.L().Warnw("Surface ainda visível no renderer",
		"pool", p.opts.Name,
		"kind", kind,
		"surface_id", a.SurfaceID,
		"decoder_buffer_id", a.DecoderBufferID)

	if cb := p.opts.OnAnomaly; cb != nil {
		p.events = append(p.events, func() { cb(a) })
	}
}

func (p *Pool) findByDecoderIDLocked(id int) *handle {
	if id == descriptor.InvalidBufferID {
		return nil
	}
	for _, h := range p.handles {
		if h.decoderBufferID == id {
			return h
		}
	}
	return nil
}

func (p *Pool) findFreeLocked(format surface.Format, width, height int) *handle {
	for _, h := range p.handles {
		if !h.free() || !h.compatible(format, width, height) {
			continue
		}
		// free() já exclui handles visíveis. O renderer adquire Images fora do
		// lock do pool, então só cai aqui quem readquiriu uma Image antiga
		// entre as duas leituras.
		if h.rendererUsing() {
			p.reportAnomalyLocked(AnomalyReuseWhileVisible, h)
		}
		return h
	}
	return nil
}

// resolveOrCreateLocked retorna o handle a preencher para um frame. Com
// recycle, prefere o handle que já espelha o id do buffer; senão (ou se nenhum
// bater) usa um handle livre compatível e, em último caso, aloca uma surface.
func (p *Pool) resolveOrCreateLocked(format surface.Format, width, height, id int, recycle bool) (*handle, bool, error) {
	if recycle {
		if h := p.findByDecoderIDLocked(id); h != nil {
			if h.compatible(format, width, height) {
				return h, false, nil
			}
			// Mudança de resolução sem invalidate: o id não vale mais para este handle.
			p.releaseHardwareLocked(h)
			h.decoderBufferID = descriptor.InvalidBufferID
		}
	}
	if h := p.findFreeLocked(format, width, height); h != nil {
		return h, false, nil
	}

	s, err := p.backend.NewSurface(format, width, height)
	if err != nil {
		metrics.AllocationFailures.WithLabelValues(p.opts.Name).Inc()
		return nil, false, fmt.Errorf("%w: %v", ErrAllocation, err)
	}
	h := newHandle(s)
	p.handles = append(p.handles, h)

	logger.L().Debugw("Nova surface alocada",
		"pool", p.opts.Name,
		"surface_id", s.ID(),
		"format", format,
		"width", width,
		"height", height,
		"pool_size", len(p.handles))

	return h, true, nil
}

func (p *Pool) releaseHardwareLocked(h *handle) {
	visible := h.rendererUsing()
	if !h.releaseHardware() {
		return
	}
	p.hwReleases++
	metrics.HardwareReleases.WithLabelValues(p.opts.Name).Inc()
	if visible {
		p.reportAnomalyLocked(AnomalyReleaseWhileVisible, h)
	}
}

func (p *Pool) releaseUnusedHardwareFramesLocked() int {
	released := 0
	for _, h := range p.handles {
		if h.hardwareReferenced() && !h.rendererUsing() {
			p.releaseHardwareLocked(h)
			released++
		}
	}
	return released
}

func (p *Pool) checkUsableLocked() error {
	if p.closed {
		return ErrClosed
	}
	if p.textureCreation.Broken() {
		return ErrTextureCreationBroken
	}
	return nil
}

func (p *Pool) verifyTextureLocked(h *handle) error {
	err := p.textureCreation.Check(func() error {
		return p.backend.VerifyTexture(h.surface)
	})
	if err != nil {
		logger.L().Errorw("Verificação de textura falhou, pool inutilizável",
			"pool", p.opts.Name,
			"surface_id", h.surface.ID(),
			"error", err)
		return fmt.Errorf("%w: %v", ErrTextureCreationBroken, err)
	}
	return nil
}

// GetSurfaceFromHardwareDescriptor retorna uma surface exibindo o frame
// descrito por desc. width e height são o tamanho visível; zero mantém o
// tamanho visível do descritor.
//
// A surface espelha o buffer desc.BufferID (zero-copy), a menos que a política
// de reciclagem peça cópia. Uma escrita zero-copy que falha desativa o
// zero-copy pelo resto da vida do pool e o frame é refeito uma vez por cópia.
func (p *Pool) GetSurfaceFromHardwareDescriptor(desc *descriptor.Descriptor, width, height int, ctx DecoderContext, frame DecoderFrame) (*SurfaceRef, error) {
	if desc == nil {
		return nil, fmt.Errorf("%w: descritor nil", descriptor.ErrInvalidBuffer)
	}
	if err := desc.Validate(); err != nil {
		return nil, p.rejected(err)
	}
	if width > desc.Width || height > desc.Height {
		return nil, p.rejected(fmt.Errorf("%w: %dx%d maior que %dx%d",
			descriptor.ErrUnsupportedCrop, width, height, desc.Width, desc.Height))
	}

	ref, err := p.resolveHardware(desc, width, height, ctx, frame, false)
	if errors.Is(err, errZeroCopyFailed) {
		// Nova seção crítica: o lock foi liberado entre as tentativas.
		ref, err = p.resolveHardware(desc, width, height, ctx, frame, true)
	}
	return ref, err
}

// GetSurfaceFromRawDescriptor converte um buffer V4L2 e o resolve como
// GetSurfaceFromHardwareDescriptor. Buffers rejeitados nunca tocam o pool.
func (p *Pool) GetSurfaceFromRawDescriptor(raw descriptor.V4L2Buffer, width, height int, ctx DecoderContext, frame DecoderFrame) (*SurfaceRef, error) {
	desc, err := descriptor.FromV4L2(raw)
	if err != nil {
		return nil, p.rejected(err)
	}
	return p.GetSurfaceFromHardwareDescriptor(desc, width, height, ctx, frame)
}

func (p *Pool) rejected(err error) error {
	metrics.DescriptorRejections.WithLabelValues(p.opts.Name, descriptor.RejectReason(err)).Inc()
	logger.L().Debugw("Descritor rejeitado", "pool", p.opts.Name, "error", err)
	return err
}

func (p *Pool) resolveHardware(desc *descriptor.Descriptor, width, height int, ctx DecoderContext, frame DecoderFrame, forceCopy bool) (*SurfaceRef, error) {
	start := time.Now()

	p.mu.Lock()
	defer p.unlock()

	if err := p.checkUsableLocked(); err != nil {
		return nil, err
	}

	copyPath := forceCopy || p.shouldCopyLocked()
	if !copyPath && !p.hardwareSlotAvailableLocked(desc.BufferID) {
		logger.L().Debugw("Sem slot de hardware livre, copiando frame",
			"pool", p.opts.Name,
			"decoder_buffer_id", desc.BufferID)
		copyPath = true
	}
	recycle := !copyPath && desc.HasBufferID()

	h, created, err := p.resolveOrCreateLocked(desc.Format, desc.Width, desc.Height, desc.BufferID, recycle)
	if err != nil {
		return nil, err
	}
	if recycle && !created && h.keyed() && h.rendererUsing() {
		p.reportAnomalyLocked(AnomalyRebindWhileVisible, h)
	}

	// O conteúdo anterior deixa de valer; zeroCopy só volta a true no bind.
	h.zeroCopy = false
	if copyPath {
		p.releaseHardwareLocked(h)
		h.decoderBufferID = descriptor.InvalidBufferID
		if err := p.backend.Copy(h.surface, desc); err != nil {
			metrics.AllocationFailures.WithLabelValues(p.opts.Name).Inc()
			return nil, fmt.Errorf("%w: %v", ErrCopy, err)
		}
	} else if err := p.backend.Import(h.surface, desc); err != nil {
		metrics.ZeroCopyFailures.WithLabelValues(p.opts.Name).Inc()
		p.zeroCopy.MarkBroken(err)
		p.releaseHardwareLocked(h)
		h.decoderBufferID = descriptor.InvalidBufferID
		logger.L().Warnw("Zero-copy falhou, usando cópia daqui em diante",
			"pool", p.opts.Name,
			"surface_id", h.surface.ID(),
			"decoder_buffer_id", desc.BufferID,
			"error", err)
		return nil, fmt.Errorf("%w: %v", errZeroCopyFailed, err)
	}

	if err := p.verifyTextureLocked(h); err != nil {
		p.releaseHardwareLocked(h)
		h.decoderBufferID = descriptor.InvalidBufferID
		return nil, err
	}

	path := "copy"
	if !copyPath {
		p.zeroCopy.MarkSupported()
		h.decoderBufferID = desc.BufferID
		h.lockHardware(ctx, frame)
		h.zeroCopy = true
		path = "zero_copy"
	}
	h.visibleWidth, h.visibleHeight = visibleSize(desc, width, height)

	p.updateGaugesLocked()
	metrics.FramesResolved.WithLabelValues(p.opts.Name, path).Inc()
	metrics.ResolveLatency.WithLabelValues(p.opts.Name, path).Observe(time.Since(start).Seconds())

	return newSurfaceRef(p, h), nil
}

func visibleSize(desc *descriptor.Descriptor, width, height int) (int, int) {
	if width <= 0 {
		width = desc.VisibleWidth
	}
	if height <= 0 {
		height = desc.VisibleHeight
	}
	return width, height
}

// GetSurfaceFromPlanarData envia um frame decodificado em software. A surface
// retornada nunca tem id de buffer do decoder e nunca é reciclada.
func (p *Pool) GetSurfaceFromPlanarData(frame *PlanarYCbCr, ctx DecoderContext) (*SurfaceRef, error) {
	if err := frame.validate(); err != nil {
		return nil, p.rejected(err)
	}
	start := time.Now()

	p.mu.Lock()
	defer p.unlock()

	if err := p.checkUsableLocked(); err != nil {
		return nil, err
	}

	h, _, err := p.resolveOrCreateLocked(surface.FormatYUV420, frame.Width, frame.Height, descriptor.InvalidBufferID, false)
	if err != nil {
		return nil, err
	}
	h.zeroCopy = false
	if err := p.backend.Upload(h.surface, frame); err != nil {
		metrics.AllocationFailures.WithLabelValues(p.opts.Name).Inc()
		return nil, fmt.Errorf("%w: %v", ErrCopy, err)
	}
	if err := p.verifyTextureLocked(h); err != nil {
		return nil, err
	}

	h.decoderBufferID = descriptor.InvalidBufferID
	h.visibleWidth, h.visibleHeight = frame.Width, frame.Height

	p.updateGaugesLocked()
	metrics.FramesResolved.WithLabelValues(p.opts.Name, "upload").Inc()
	metrics.ResolveLatency.WithLabelValues(p.opts.Name, "upload").Observe(time.Since(start).Seconds())

	return newSurfaceRef(p, h), nil
}

// ReleaseUnusedHardwareFrames solta as referências do driver de toda surface
// que o renderer não segura mais, para o decoder poder reusar a memória.
// Chame sempre que o decoder fizer flush ou invalidar os próprios buffers.
func (p *Pool) ReleaseUnusedHardwareFrames() int {
	p.mu.Lock()
	defer p.unlock()

	released := p.releaseUnusedHardwareFramesLocked()
	p.updateGaugesLocked()
	return released
}

// InvalidateDecoderIDs esquece todos os ids de buffer do decoder (ex.: após um
// seek) para que ids antigos nunca casem com conteúdo novo. O estado de
// hardware e do renderer não muda.
func (p *Pool) InvalidateDecoderIDs() {
	p.mu.Lock()
	defer p.unlock()

	for _, h := range p.handles {
		h.decoderBufferID = descriptor.InvalidBufferID
	}
}

// TrimFreeSurfaces destrói surfaces ociosas: sem id, sem referência de
// hardware e não visíveis. Usado para devolver memória sob pressão.
func (p *Pool) TrimFreeSurfaces() int {
	p.mu.Lock()
	defer p.unlock()

	kept := p.handles[:0]
	trimmed := 0
	for _, h := range p.handles {
		if h.free() {
			p.backend.Destroy(h.surface)
			trimmed++
			continue
		}
		kept = append(kept, h)
	}
	for i := len(kept); i < len(p.handles); i++ {
		p.handles[i] = nil
	}
	p.handles = kept

	if trimmed > 0 {
		metrics.SurfacesTrimmed.WithLabelValues(p.opts.Name).Add(float64(trimmed))
		logger.L().Infow("Surfaces ociosas descartadas",
			"pool", p.opts.Name,
			"trimmed", trimmed,
			"pool_size", len(p.handles))
	}
	p.updateGaugesLocked()
	return trimmed
}

// Close solta todas as referências do driver e destrói todas as surfaces. As
// referências sempre caem antes da surface que protegem. Close é idempotente.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.unlock()

	if p.closed {
		return
	}
	p.closed = true

	for _, h := range p.handles {
		p.releaseHardwareLocked(h)
		p.backend.Destroy(h.surface)
	}
	count := len(p.handles)
	p.handles = nil
	p.updateGaugesLocked()

	logger.L().Infow("Pool de surfaces fechado",
		"pool", p.opts.Name,
		"surfaces_destroyed", count,
		"hardware_releases", p.hwReleases)
}

func (p *Pool) updateGaugesLocked() {
	var hw, visible int
	for _, h := range p.handles {
		if h.hardwareReferenced() {
			hw++
		}
		if h.rendererUsing() {
			visible++
		}
	}
	metrics.PoolSurfaces.WithLabelValues(p.opts.Name).Set(float64(len(p.handles)))
	metrics.PoolHardwareReferenced.WithLabelValues(p.opts.Name).Set(float64(hw))
	metrics.PoolRendererVisible.WithLabelValues(p.opts.Name).Set(float64(visible))
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.unlock()

	st := Stats{
		Name:             p.opts.Name,
		Surfaces:         len(p.handles),
		MaxHardwareSlots: p.opts.MaxHardwareSlots,
		ZeroCopy:         p.zeroCopy.State(),
		TextureCreation:  p.textureCreation.State(),
		HardwareReleases: p.hwReleases,
		Closed:           p.closed,
	}
	for _, h := range p.handles {
		if h.hardwareReferenced() {
			st.HardwareReferenced++
		}
		if h.rendererUsing() {
			st.RendererVisible++
		}
		if h.keyed() {
			st.Keyed++
		}
	}
	st.FreeRatio = freeRatio(p.usedHardwareSlotsLocked(), p.opts.MaxHardwareSlots)
	return st
}

type Stats struct {
	Name               string
	Surfaces           int
	HardwareReferenced int
	RendererVisible    int
	Keyed              int
	MaxHardwareSlots   int
	FreeRatio          float64
	ZeroCopy           capability.State
	TextureCreation    capability.State
	HardwareReleases   int64
	Closed             bool
}

func (s Stats) String() string {
	return fmt.Sprintf("Pool[%s]: surfaces=%d hw=%d/%d visible=%d keyed=%d free_ratio=%.2f zero_copy=%s texture=%s",
		s.Name, s.Surfaces, s.HardwareReferenced, s.MaxHardwareSlots, s.RendererVisible,
		s.Keyed, s.FreeRatio, s.ZeroCopy, s.TextureCreation)
}
