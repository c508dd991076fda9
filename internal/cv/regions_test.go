package cv

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocate(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		want          Region
	}{
		{"reference", 1920, 1080, Region{X1: 1739, Y1: 810, X2: 1919, Y2: 817}},
		{"4k", 3840, 2160, Region{X1: 3478, Y1: 1620, X2: 3838, Y2: 1634}},
		{"ultrawide scales with height", 2560, 1080, Region{X1: 2379, Y1: 810, X2: 2559, Y2: 817}},
		{"720p", 1280, 720, Region{X1: 1159, Y1: 540, X2: 1279, Y2: 545}},
		{"4:3 scales with width", 1440, 1080, Region{X1: 1304, Y1: 878, X2: 1439, Y2: 883}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Locate(tt.width, tt.height)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.ToImageRectangle().In(Region{X2: tt.width, Y2: tt.height}.ToImageRectangle()))
		})
	}
}

func TestLocateUnsupported(t *testing.T) {
	for _, res := range []Resolution{{1000, 1000}, {3000, 1000}, {400, 300}, {0, 1080}} {
		_, err := Locate(res.Width, res.Height)
		assert.True(t, errors.Is(err, ErrUnsupportedResolution), "expected unsupported for %s", res)
	}
}

func TestLocateIsMemoized(t *testing.T) {
	first, err := Locate(2400, 1080)
	require.NoError(t, err)

	cached, ok := locateCache.Load(Resolution{Width: 2400, Height: 1080})
	require.True(t, ok)
	assert.Equal(t, first, cached)

	second, err := Locate(2400, 1080)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestParseResolution(t *testing.T) {
	res, err := ParseResolution("1920x1080")
	require.NoError(t, err)
	assert.Equal(t, Resolution{Width: 1920, Height: 1080}, res)
	assert.Equal(t, "1920x1080", res.String())

	_, err = ParseResolution("wide")
	assert.Error(t, err)
	_, err = ParseResolution("0x10")
	assert.Error(t, err)
}

func TestRegionContains(t *testing.T) {
	r := NewRegion(10, 10, 20, 15)
	assert.True(t, r.Contains(Point{10, 10}))
	assert.True(t, r.Contains(Point{19, 14}))
	assert.False(t, r.Contains(Point{20, 14}))
	assert.False(t, r.Contains(Point{15, 15}))
	assert.Equal(t, 10, r.Width())
	assert.Equal(t, 5, r.Height())
}
