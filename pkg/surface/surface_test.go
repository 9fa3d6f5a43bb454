package surface

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSurfaceUniqueIDs(t *testing.T) {
	seen := make(map[uint32]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s := New(FormatNV12, 64, 64)
				mu.Lock()
				assert.False(t, seen[s.ID()], "id duplicado %d", s.ID())
				seen[s.ID()] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 800)
}

func TestFormatPlaneCount(t *testing.T) {
	tests := []struct {
		format Format
		planes int
		name   string
	}{
		{FormatNV12, 2, "NV12"},
		{FormatP010, 2, "P010"},
		{FormatYUV420, 3, "YUV420"},
		{Format(0), 0, "UNKNOWN(0x00000000)"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.planes, tt.format.PlaneCount())
		assert.Equal(t, tt.name, tt.format.String())
		assert.Equal(t, tt.planes > 0, tt.format.Valid())
	}
}

func TestSurfaceUsage(t *testing.T) {
	s := New(FormatNV12, 1920, 1080)
	assert.False(t, s.InUse())

	img := NewImage(s, 0, 0)
	img.Acquire()
	assert.True(t, s.InUse())
	assert.True(t, img.InUse())

	s.Acquire()
	img.Release()
	assert.True(t, s.InUse())

	s.Release()
	assert.False(t, s.InUse())

	assert.Panics(t, func() { s.Release() })
}

func TestNewImageVisibleSize(t *testing.T) {
	s := New(FormatNV12, 1920, 1088)
	s.SetPlanes([]Plane{{FD: 3, Stride: 1920}, {FD: 3, Offset: 1920 * 1088, Stride: 1920}})

	img := NewImage(s, 1920, 1080)
	assert.Equal(t, 1088, img.Height)
	assert.Equal(t, 1080, img.VisibleHeight)
	assert.Len(t, img.Planes, 2)

	full := NewImage(s, 0, 0)
	assert.Equal(t, 1088, full.VisibleHeight)
}

func TestSurfacePlanesCopy(t *testing.T) {
	s := New(FormatYUV420, 16, 16)
	s.SetPlanes([]Plane{{FD: 1}, {FD: 1}, {FD: 1}})

	planes := s.Planes()
	planes[0].FD = 99
	assert.Equal(t, 1, s.Planes()[0].FD)
}
