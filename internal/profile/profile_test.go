package profile

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/cost-ruler/internal/cv"
)

var hd = cv.Resolution{Width: 1920, Height: 1080}

// nonUniform fills fast for the first half of the bar, then slowly
func nonUniform() *Profile {
	return &Profile{
		Name:              "reduced",
		Resolution:        hd,
		CycleLengthFrames: 40,
		Breakpoints: []Breakpoint{
			{Ratio: 0, Frame: 0},
			{Ratio: 0.5, Frame: 10},
			{Ratio: 0.75, Frame: 25},
			{Ratio: 1, Frame: 39},
		},
		LogicalFrameRate: 30,
		SlowMotionFactor: 1,
		CreatedAt:        time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, nonUniform().Validate())
	require.NoError(t, Linear("linear", hd, 30).Validate())

	tests := []struct {
		name   string
		mutate func(p *Profile)
	}{
		{"empty name", func(p *Profile) { p.Name = "" }},
		{"short cycle", func(p *Profile) { p.CycleLengthFrames = 1 }},
		{"single breakpoint", func(p *Profile) { p.Breakpoints = p.Breakpoints[:1] }},
		{"first not zero", func(p *Profile) { p.Breakpoints[0].Ratio = 0.1 }},
		{"last not full", func(p *Profile) { p.Breakpoints[3].Ratio = 0.9 }},
		{"last frame mismatch", func(p *Profile) { p.CycleLengthFrames = 41 }},
		{"ratio regression", func(p *Profile) { p.Breakpoints[2].Ratio = 0.4 }},
		{"frame plateau", func(p *Profile) { p.Breakpoints[2].Frame = 10 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := nonUniform()
			tt.mutate(p)
			err := p.Validate()
			assert.True(t, errors.Is(err, ErrInvalidProfile), "got %v", err)
		})
	}

	var nilProfile *Profile
	assert.Error(t, nilProfile.Validate())
}

func TestFrameAt(t *testing.T) {
	p := nonUniform()

	assert.Equal(t, 0.0, p.FrameAt(0))
	assert.Equal(t, 0.0, p.FrameAt(-0.2))
	assert.Equal(t, 5.0, p.FrameAt(0.25))
	assert.Equal(t, 10.0, p.FrameAt(0.5))
	assert.InDelta(t, 17.5, p.FrameAt(0.625), 1e-9)
	assert.Equal(t, 39.0, p.FrameAt(1))
	assert.Equal(t, 39.0, p.FrameAt(1.3))
}

func TestFrameAtInvertsRatioAt(t *testing.T) {
	for _, p := range []*Profile{nonUniform(), Linear("linear", hd, 30), Linear("tiny", hd, 2)} {
		for f := 0.0; f <= float64(p.CycleLengthFrames-1); f += 0.25 {
			assert.InDelta(t, f, p.FrameAt(p.RatioAt(f)), 1e-9, "%s frame %.2f", p.Name, f)
		}
	}
}

func TestRatioAtIsMonotonic(t *testing.T) {
	p := nonUniform()
	prev := -1.0
	for f := -1.0; f <= 41; f += 0.5 {
		r := p.RatioAt(f)
		assert.GreaterOrEqual(t, r, prev)
		prev = r
	}
}

func TestKey(t *testing.T) {
	p := nonUniform()
	assert.Equal(t, "reduced_40f_1920x1080", p.Key())
	assert.Equal(t, "half-speed_40f_1920x1080", p.WithName("half speed").Key())
}

func TestWithNameCopies(t *testing.T) {
	p := nonUniform()
	c := p.WithName("copy")
	c.Breakpoints[1].Frame = 11

	assert.Equal(t, "reduced", p.Name)
	assert.Equal(t, 10, p.Breakpoints[1].Frame)
}

func TestCodecRoundTrip(t *testing.T) {
	for _, p := range []*Profile{nonUniform(), Linear("linear", hd, 30)} {
		data, err := Marshal(p)
		require.NoError(t, err)

		got, err := Unmarshal(data)
		require.NoError(t, err)
		assert.True(t, p.Equal(got), "round trip changed %s:\n%s", p.Name, data)
		assert.Equal(t, p.Breakpoints, got.Breakpoints)
		assert.Equal(t, p.CycleLengthFrames, got.CycleLengthFrames)
	}
}

func TestUnmarshalRejects(t *testing.T) {
	_, err := Unmarshal([]byte("name: x\ncycleLengthFrames: 30\nbreakpoints: []\n"))
	assert.ErrorIs(t, err, ErrInvalidProfile)

	_, err = Unmarshal([]byte("name: x\nunknownField: 1\n"))
	assert.Error(t, err)

	_, err = Unmarshal([]byte(":::"))
	assert.Error(t, err)
}
