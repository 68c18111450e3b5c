package cutout

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitsgw/internal/fits/coords"
	"fitsgw/pkg/gatewayerrors"
)

func pad80(s string) string {
	if len(s) >= 80 {
		return s[:80]
	}
	return s + strings.Repeat(" ", 80-len(s))
}

func numCard(key string, value float64) string {
	return pad80(fmt.Sprintf("%-8s= %g", key, value))
}

func strCard(key, value string) string {
	return pad80(fmt.Sprintf("%-8s= '%s'", key, value))
}

// tanHeader builds a minimal TAN-projected header with 1 arcsec/pixel scale
// centered at (crval1, crval2), matching S5's "gnomonic TAN projection with
// 1 arcsec/pixel" scenario.
func tanHeader(naxis1, naxis2 int, crval1, crval2 float64) string {
	var b strings.Builder
	b.WriteString(strCard("CTYPE1", "RA---TAN"))
	b.WriteString(strCard("CTYPE2", "DEC--TAN"))
	b.WriteString(numCard("CRPIX1", float64(naxis1)/2))
	b.WriteString(numCard("CRPIX2", float64(naxis2)/2))
	b.WriteString(numCard("CRVAL1", crval1))
	b.WriteString(numCard("CRVAL2", crval2))
	b.WriteString(numCard("CDELT1", -1.0/3600))
	b.WriteString(numCard("CDELT2", 1.0/3600))
	return b.String()
}

// S1: pure pixel cutout, no WCS touched at all.
func TestSolvePixelBox_S1_PurePixelCutout(t *testing.T) {
	center, err := coords.Parse("50,50 pix", coords.UnitDegree, false)
	require.NoError(t, err)
	size, err := coords.Parse("11,11 pix", coords.UnitDegree, false)
	require.NoError(t, err)

	header := func() (string, error) {
		t.Fatal("pure pixel-unit cutout must not touch WCS")
		return "", nil
	}

	box, ok, err := SolvePixelBox(center, size, header, 100, 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, PixelBox{XMin: 45, YMin: 45, XMax: 55, YMax: 55}, box)
}

// S3: declination out of range.
func TestSolvePixelBox_S3_DeclinationOutOfRange(t *testing.T) {
	center, err := coords.Parse("0, 91 deg", coords.UnitDegree, false)
	require.NoError(t, err)
	size, err := coords.Parse("1,1 deg", coords.UnitDegree, false)
	require.NoError(t, err)

	header := func() (string, error) { return tanHeader(100, 100, 0, 0), nil }

	_, _, err = SolvePixelBox(center, size, header, 100, 100)
	require.Error(t, err)
	ge, ok := gatewayerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gatewayerrors.CodeBadRequest, ge.Code)
}

// S4: longitude wrap normalization.
func TestNormalizeLng_S4_Wrap(t *testing.T) {
	assert.InDelta(t, 350.0, normalizeLng(-10), 1e-9)
	assert.InDelta(t, 0.0, normalizeLng(360), 1e-9)
}

// S4, end to end: a center given as a negative or >=360 longitude must
// solve to the same pixel box as its normalized equivalent.
func TestSolvePixelBox_S4_LongitudeWrapMatchesNormalizedCenter(t *testing.T) {
	header := func() (string, error) { return tanHeader(100, 100, 350, 0), nil }
	size, err := coords.Parse("20, 20 arcsec", coords.UnitDegree, false)
	require.NoError(t, err)

	wrapped, err := coords.Parse("-10, 0 deg", coords.UnitDegree, false)
	require.NoError(t, err)
	normalized, err := coords.Parse("350, 0 deg", coords.UnitDegree, false)
	require.NoError(t, err)

	wrappedBox, ok, err := SolvePixelBox(wrapped, size, header, 100, 100)
	require.NoError(t, err)
	require.True(t, ok)

	normalizedBox, ok, err := SolvePixelBox(normalized, size, header, 100, 100)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, normalizedBox, wrappedBox)
}

// S5: no-overlap when the sky center is offset 10 degrees away.
func TestSolvePixelBox_S5_NoOverlap(t *testing.T) {
	header := func() (string, error) { return tanHeader(100, 100, 0, 0), nil }

	center, err := coords.Parse("10, 0 deg", coords.UnitDegree, false)
	require.NoError(t, err)
	size, err := coords.Parse("10, 10 arcsec", coords.UnitDegree, false)
	require.NoError(t, err)

	_, ok, err := SolvePixelBox(center, size, header, 100, 100)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSolvePixelBox_NegativeSizeIsBadRequest(t *testing.T) {
	header := func() (string, error) { return tanHeader(100, 100, 0, 0), nil }
	center, err := coords.Parse("0, 0 deg", coords.UnitDegree, false)
	require.NoError(t, err)
	size := coords.Coords{C0: -1, C1: -1, Units: coords.UnitArcsec}

	_, _, err = SolvePixelBox(center, size, header, 100, 100)
	require.Error(t, err)
	ge, ok := gatewayerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gatewayerrors.CodeBadRequest, ge.Code)
}

func TestSolvePixelBox_WCSAngularBoundarySearch(t *testing.T) {
	// 100x100, 1"/pixel, centered at CRVAL. A 20"x20" box should land close
	// to a 20x20 pixel box centered on the reference pixel.
	header := func() (string, error) { return tanHeader(100, 100, 180, 0), nil }
	center, err := coords.Parse("180, 0 deg", coords.UnitDegree, false)
	require.NoError(t, err)
	size, err := coords.Parse("20, 20 arcsec", coords.UnitDegree, false)
	require.NoError(t, err)

	box, ok, err := SolvePixelBox(center, size, header, 100, 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 40, box.XMin, 2)
	assert.InDelta(t, 60, box.XMax, 2)
	assert.InDelta(t, 40, box.YMin, 2)
	assert.InDelta(t, 60, box.YMax, 2)
}

func TestSolvePixelBox_ClipsToImageExtent(t *testing.T) {
	center, err := coords.Parse("1,1 pix", coords.UnitDegree, false)
	require.NoError(t, err)
	size, err := coords.Parse("20,20 pix", coords.UnitDegree, false)
	require.NoError(t, err)

	header := func() (string, error) { return "", nil }
	box, ok, err := SolvePixelBox(center, size, header, 100, 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), box.XMin)
	assert.Equal(t, int64(1), box.YMin)
	assert.LessOrEqual(t, box.XMax, int64(100))
	assert.LessOrEqual(t, box.YMax, int64(100))
}

func TestPixcenProperty(t *testing.T) {
	xs := []float64{0, 0.4, 0.5, 0.9999, -0.5, -0.5001, 44.5}
	for _, x := range xs {
		p := pixcen(x)
		assert.Equal(t, p, float64(int64(p)), "pixcen must be an integer for %v", x)
		diff := p - x
		assert.Greater(t, diff, -0.5)
		assert.LessOrEqual(t, diff, 0.5)
	}
}
