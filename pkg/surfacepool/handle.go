package surfacepool

import (
	"fmt"

	"github.com/T3-Labs/edge-surface/pkg/descriptor"
	"github.com/T3-Labs/edge-surface/pkg/surface"
)

// handle liga uma surface ao buffer do decoder que ela espelha e acompanha os
// dois donos da memória: o driver do decoder (hwBuffer/hwFramesCtx) e o
// renderer (visto pela contagem de holds da surface).
type handle struct {
	surface *surface.Surface

	decoderBufferID int

	hwBuffer    BufferRef
	hwFramesCtx BufferRef

	visibleWidth  int
	visibleHeight int
	zeroCopy      bool
}

func newHandle(s *surface.Surface) *handle {
	return &handle{
		surface:         s,
		decoderBufferID: descriptor.InvalidBufferID,
	}
}

func (h *handle) keyed() bool {
	return h.decoderBufferID != descriptor.InvalidBufferID
}

func (h *handle) hardwareReferenced() bool {
	return h.hwBuffer != nil || h.hwFramesCtx != nil
}

func (h *handle) rendererUsing() bool {
	return h.surface.InUse()
}

// free indica se o handle pode ser entregue para qualquer frame.
func (h *handle) free() bool {
	return !h.keyed() && !h.hardwareReferenced() && !h.rendererUsing()
}

func (h *handle) compatible(format surface.Format, width, height int) bool {
	s := h.surface
	return s.Format() == format && s.Width() == width && s.Height() == height
}

// lockHardware pega referências do driver no buffer do frame e no contexto de
// frames do decoder, para que o decoder não reuse a memória enquanto a surface
// aponta para ela. Referências antigas são soltas antes.
func (h *handle) lockHardware(ctx DecoderContext, frame DecoderFrame) {
	h.releaseHardware()

	if frame != nil {
		if buf := frame.HWBuffer(); buf != nil {
			h.hwBuffer = buf.Ref()
		}
	}
	if ctx != nil {
		if fc := ctx.HWFramesContext(); fc != nil {
			h.hwFramesCtx = fc.Ref()
		}
	}
}

// releaseHardware solta as referências do driver e indica se havia alguma.
func (h *handle) releaseHardware() bool {
	if !h.hardwareReferenced() {
		return false
	}
	if h.hwBuffer != nil {
		h.hwBuffer.Unref()
		h.hwBuffer = nil
	}
	if h.hwFramesCtx != nil {
		h.hwFramesCtx.Unref()
		h.hwFramesCtx = nil
	}
	return true
}

func (h *handle) String() string {
	return fmt.Sprintf("handle[surface=%d decoder_id=%d hw=%t renderer=%t]",
		h.surface.ID(), h.decoderBufferID, h.hardwareReferenced(), h.rendererUsing())
}
