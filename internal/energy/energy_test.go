package energy

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/mppfit/internal/mark"
)

var discs = []mark.Mark{
	mark.Circle{Id: 1, X: 15, Y: 15, R: 5},
	mark.Circle{Id: 2, X: 45, Y: 30, R: 6},
}

func testScheme(t *testing.T) *Scheme {
	t.Helper()
	s := DefaultScheme(NewStack(SyntheticImage(64, 48, discs, 0.1, 0.9)))
	require.NoError(t, s.Validate())
	return s
}

func TestStackDimensions(t *testing.T) {
	s := NewStack(SyntheticImage(64, 48, discs, 0.1, 0.9))
	dims := s.Dimensions()
	assert.Equal(t, Dimensions{X: 64, Y: 48, Z: 1}, dims)
	assert.Equal(t, 64.0*48.0, dims.Volume())

	v, ok := s.At(15, 15)
	require.True(t, ok)
	assert.InDelta(t, 0.9, v, 0.01)
	_, ok = s.At(64, 0)
	assert.False(t, ok)
}

func TestNewStackFromValues(t *testing.T) {
	_, err := NewStackFromValues(2, 2, []float64{1, 2, 3})
	assert.Error(t, err)

	s, err := NewStackFromValues(2, 1, []float64{0.25, 0.75})
	require.NoError(t, err)
	v, _ := s.At(1, 0)
	assert.Equal(t, 0.75, v)
}

func TestLoadStack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ref.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, SyntheticImage(20, 10, nil, 0.5, 1)))
	require.NoError(t, f.Close())

	stack, ref, err := LoadStack(path)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 10), ref.Bounds())
	assert.Equal(t, 20, stack.Dimensions().X)

	_, _, err = LoadStack(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func TestUnaryPrefersObjects(t *testing.T) {
	s := testScheme(t)

	onObject := s.Unary(mark.Circle{Id: 10, X: 15, Y: 15, R: 5})
	background := s.Unary(mark.Circle{Id: 11, X: 30, Y: 8, R: 5})
	tooLarge := s.Unary(mark.Circle{Id: 12, X: 15, Y: 15, R: 14})
	offImage := s.Unary(mark.Circle{Id: 13, X: -50, Y: -50, R: 3})

	assert.Greater(t, onObject, 0.0)
	assert.Less(t, background, 0.0)
	assert.Less(t, tooLarge, onObject)
	assert.Equal(t, -s.ContrastThreshold, offImage)
}

func TestPairwisePenalisesOverlap(t *testing.T) {
	s := testScheme(t)
	a := mark.Circle{Id: 1, X: 15, Y: 15, R: 5}

	assert.Less(t, s.Pairwise(a, mark.Circle{Id: 2, X: 17, Y: 15, R: 5}), 0.0)
	assert.Equal(t, 0.0, s.Pairwise(a, mark.Circle{Id: 3, X: 45, Y: 30, R: 5}))

	s.OverlapWeight = 0
	assert.Equal(t, 0.0, s.Pairwise(a, a))
}

func TestValidate(t *testing.T) {
	var nilScheme *Scheme
	assert.ErrorIs(t, nilScheme.Validate(), ErrNoStack)
	assert.ErrorIs(t, (&Scheme{}).Validate(), ErrNoStack)

	s := testScheme(t)
	s.ShellWidth = 0
	assert.Error(t, s.Validate())

	_, err := (&Scheme{}).Score(mark.NewCollection())
	assert.ErrorIs(t, err, ErrNoStack)
}

func TestIncrementalEnergyMatchesFullScore(t *testing.T) {
	s := testScheme(t)
	a := mark.Circle{Id: 1, X: 15, Y: 15, R: 5}
	b := mark.Circle{Id: 2, X: 18, Y: 16, R: 4}
	c := mark.Ellipse{Id: 3, X: 45, Y: 30, A: 7, B: 5, Theta: 0.4}
	d := mark.Circle{Id: 4, X: 44, Y: 31, R: 5}

	cfg, err := s.Empty().Add(a, b, c)
	require.NoError(t, err)
	cfg, err = cfg.Remove(2)
	require.NoError(t, err)
	cfg, err = cfg.Replace(3, d)
	require.NoError(t, err)

	full, err := s.Score(mark.NewCollection(a, d))
	require.NoError(t, err)

	assert.Equal(t, []uint64{1, 4}, cfg.Marks().IDs())
	assert.Equal(t, 2, cfg.Size())
	assert.InDelta(t, full.Score(), cfg.Score(), 1e-9)
	assert.InDelta(t, full.Pairwise(), cfg.Pairwise(), 1e-9)

	u, ok := cfg.Unary(4)
	require.True(t, ok)
	assert.InDelta(t, s.Unary(d), u, 1e-12)
	_, ok = cfg.Unary(3)
	assert.False(t, ok)
}

func TestSnapshotsAreImmutable(t *testing.T) {
	s := testScheme(t)
	base, err := s.Empty().Add(mark.Circle{Id: 1, X: 15, Y: 15, R: 5})
	require.NoError(t, err)
	before := base.Score()

	_, err = base.Add(mark.Circle{Id: 2, X: 16, Y: 15, R: 5})
	require.NoError(t, err)
	_, err = base.Remove(1)
	require.NoError(t, err)

	assert.Equal(t, before, base.Score())
	assert.Equal(t, 1, base.Size())
}

func TestConfigurationErrors(t *testing.T) {
	s := testScheme(t)
	cfg, err := s.Empty().Add(mark.Point{Id: 1, X: 3, Y: 3})
	require.NoError(t, err)

	_, err = cfg.Add(mark.Point{Id: 1})
	assert.Error(t, err)
	_, err = cfg.Remove(7)
	assert.Error(t, err)
	_, err = cfg.Replace(7, mark.Point{Id: 8})
	assert.Error(t, err)
}

func TestMaskError(t *testing.T) {
	stack := NewStack(SyntheticImage(64, 48, discs, 0, 1))

	perfect, err := MaskError(stack, RenderMask(64, 48, mark.NewCollection(discs...)))
	require.NoError(t, err)
	empty, err := MaskError(stack, RenderMask(64, 48, mark.NewCollection()))
	require.NoError(t, err)

	assert.InDelta(t, 0, perfect, 1e-9)
	assert.Greater(t, empty, perfect)

	_, err = MaskError(stack, RenderMask(10, 10, mark.NewCollection()))
	assert.Error(t, err)
}

func TestRenderOverlay(t *testing.T) {
	ref := SyntheticImage(32, 32, nil, 0, 0)
	marks := mark.NewCollection(mark.Circle{Id: 1, X: 16, Y: 16, R: 6})

	out := RenderOverlay(ref, marks, DefaultOverlayStyle())

	centre := out.NRGBAAt(16, 16)
	assert.Greater(t, centre.G, uint8(0), "fill blended at centre")
	assert.Equal(t, ref.NRGBAAt(0, 0), out.NRGBAAt(0, 0), "outside untouched")
	assert.Equal(t, uint8(0), ref.NRGBAAt(16, 16).G, "reference not modified")

	edge := out.NRGBAAt(16, 10)
	assert.Equal(t, DefaultOverlayStyle().Outline, edge)
}

func TestCompositePixelOpaque(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	compositePixel(img, 0, 0, 1, 0, 0, 1)
	px := img.NRGBAAt(0, 0)
	assert.Equal(t, uint8(255), px.R)
	assert.Equal(t, uint8(255), px.A)
	assert.Equal(t, uint8(0), px.G)
}
