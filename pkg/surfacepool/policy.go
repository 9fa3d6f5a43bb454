package surfacepool

// DefaultCopyThreshold é a marca mínima de free-ratio: com um quarto ou menos
// dos slots de hardware livres, os frames são copiados e o decoder nunca espera
// por um buffer ainda preso no renderer.
const DefaultCopyThreshold = 0.25

// freeRatio retorna a fração de slots de hardware fora do renderer. Um pool
// sem limite (maxSlots == 0) está sempre totalmente livre.
func freeRatio(usedSlots, maxSlots int) float64 {
	if maxSlots <= 0 {
		return 1.0
	}
	return 1.0 - float64(usedSlots)/float64(maxSlots)
}

// shouldCopy decide entre zero-copy e cópia para um frame.
func shouldCopy(zeroCopyWorks, zeroCopyDisabled bool, usedSlots, maxSlots int, threshold float64) bool {
	if !zeroCopyWorks || zeroCopyDisabled {
		return true
	}
	return freeRatio(usedSlots, maxSlots) <= threshold
}

// usedHardwareSlotsLocked conta handles de origem zero-copy que o renderer
// ainda exibe. A origem vale mesmo depois de InvalidateDecoderIDs ou
// MarkNoLongerRecyclable apagarem o id: o buffer do decoder continua em tela.
func (p *Pool) usedHardwareSlotsLocked() int {
	used := 0
	for _, h := range p.handles {
		if h.zeroCopy && h.rendererUsing() {
			used++
		}
	}
	return used
}

func (p *Pool) shouldCopyLocked() bool {
	return shouldCopy(p.zeroCopy.Works(), p.opts.DisableZeroCopy,
		p.usedHardwareSlotsLocked(), p.opts.MaxHardwareSlots, p.opts.CopyThreshold)
}

func (p *Pool) hardwareReferencedCountLocked() int {
	n := 0
	for _, h := range p.handles {
		if h.hardwareReferenced() {
			n++
		}
	}
	return n
}

// hardwareSlotAvailableLocked indica se um frame com id bufferID pode pegar
// referências do driver sem passar de MaxHardwareSlots. Slots sem uso são
// recuperados antes de desistir.
func (p *Pool) hardwareSlotAvailableLocked(bufferID int) bool {
	limit := p.opts.MaxHardwareSlots
	if limit <= 0 {
		return true
	}
	if h := p.findByDecoderIDLocked(bufferID); h != nil && h.hardwareReferenced() {
		return true
	}
	if p.hardwareReferencedCountLocked() < limit {
		return true
	}
	p.releaseUnusedHardwareFramesLocked()
	return p.hardwareReferencedCountLocked() < limit
}
