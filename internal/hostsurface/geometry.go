package hostsurface

import (
	"fmt"

	"github.com/T3-Labs/edge-surface/pkg/descriptor"
	"github.com/T3-Labs/edge-surface/pkg/surface"
)

type planeGeometry struct {
	rowBytes int
	rows     int
}

func (p planeGeometry) size() int { return p.rowBytes * p.rows }

// geometry returns the tightly packed plane layout of a frame.
func geometry(format surface.Format, width, height int) ([]planeGeometry, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: tamanho %dx%d", descriptor.ErrInvalidBuffer, width, height)
	}
	cw := (width + 1) / 2
	ch := (height + 1) / 2

	switch format {
	case surface.FormatNV12:
		return []planeGeometry{{width, height}, {2 * cw, ch}}, nil
	case surface.FormatP010:
		return []planeGeometry{{2 * width, height}, {4 * cw, ch}}, nil
	case surface.FormatYUV420:
		return []planeGeometry{{width, height}, {cw, ch}, {cw, ch}}, nil
	default:
		return nil, fmt.Errorf("%w: %s", descriptor.ErrUnsupportedFormat, format)
	}
}

// FrameSize is the number of bytes of a tightly packed frame.
func FrameSize(format surface.Format, width, height int) (int, error) {
	layout, err := geometry(format, width, height)
	if err != nil {
		return 0, err
	}
	size := 0
	for _, p := range layout {
		size += p.size()
	}
	return size, nil
}
