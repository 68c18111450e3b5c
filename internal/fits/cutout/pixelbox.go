// Package cutout implements PixelBoxSolver and CutoutService, grounded
// line-for-line on original_source/src/cutout_pixel_box.cxx (search, dist,
// s2c, pixcen) per spec.md §4.3.
package cutout

import (
	"math"

	"fitsgw/internal/fits/coords"
	"fitsgw/internal/fits/wcs"
	"fitsgw/pkg/gatewayerrors"
)

const (
	radPerDeg   = math.Pi / 180
	degPerRad   = 180 / math.Pi
	radPerArcmin = radPerDeg / 60
	radPerArcsec = radPerDeg / 3600
)

// PixelBox is an inclusive, 1-based FITS pixel bounding box.
type PixelBox = coords.PixelBox

// pixcen is the FITS pixel-center convention: pixel N covers
// [N-0.5, N+0.5).
func pixcen(x float64) float64 {
	return math.Floor(x + 0.5)
}

// HeaderProvider supplies the raw header text a WcsAdapter is built from;
// PixelBoxSolver builds its own wcs.Adapter lazily only when needed (pure
// pixel-unit requests never touch the WCS at all, per spec.md §4.3 step 1).
type HeaderProvider func() (string, error)

// SolvePixelBox implements spec.md §4.3. It returns the box and true if the
// cutout overlaps the image, or false (no box) if it does not.
func SolvePixelBox(center, size coords.Coords, header HeaderProvider, naxis1, naxis2 int64) (PixelBox, bool, error) {
	var xmin, xmax, ymin, ymax float64

	if center.Units == coords.UnitPixel && size.Units == coords.UnitPixel {
		// Upper bounds round an exact half-integer down, so an odd size
		// stays symmetric about an integer center (11 at 50 gives 45..55).
		xmin = pixcen(center.C0 - size.C0/2)
		xmax = math.Ceil(center.C0 + size.C0/2 - 0.5)
		ymin = pixcen(center.C1 - size.C1/2)
		ymax = math.Ceil(center.C1 + size.C1/2 - 0.5)
	} else {
		headerText, err := header()
		if err != nil {
			return PixelBox{}, false, err
		}
		adapter, err := wcs.New(headerText)
		if err != nil {
			return PixelBox{}, false, err
		}

		var skyCenter [2]float64
		var pixCenter [2]float64
		if center.Units == coords.UnitPixel {
			sky, err := adapter.PixelToSky([2]float64{center.C0, center.C1})
			if err != nil {
				return PixelBox{}, false, err
			}
			skyCenter = sky
			pixCenter = [2]float64{center.C0, center.C1}
		} else {
			c0, c1 := toDegrees(center.C0, center.C1, center.Units)
			if c1 < -90 || c1 > 90 {
				return PixelBox{}, false, gatewayerrors.New(gatewayerrors.CodeBadRequest, "Center declination out of range [-90, 90] deg")
			}
			c0 = normalizeLng(c0)
			skyCenter = [2]float64{c0, c1}
			pix, err := adapter.SkyToPixel(skyCenter)
			if err != nil {
				return PixelBox{}, false, err
			}
			pixCenter = pix
		}

		if size.C0 < 0 || size.C1 < 0 {
			return PixelBox{}, false, gatewayerrors.New(gatewayerrors.CodeBadRequest, "Negative cutout size")
		}

		if size.Units == coords.UnitPixel {
			xmin = pixcen(pixCenter[0] - size.C0/2)
			xmax = math.Ceil(pixCenter[0] + size.C0/2 - 0.5)
			ymin = pixcen(pixCenter[1] - size.C1/2)
			ymax = math.Ceil(pixCenter[1] + size.C1/2 - 0.5)
		} else {
			sizeRad0, sizeRad1 := sizeToRadians(size.C0, size.C1, size.Units)
			xmin = searchBoundary(adapter, skyCenter, pixCenter, sizeRad0*0.5, 0, -1)
			xmax = searchBoundary(adapter, skyCenter, pixCenter, sizeRad0*0.5, 0, +1)
			ymin = searchBoundary(adapter, skyCenter, pixCenter, sizeRad1*0.5, 1, -1)
			ymax = searchBoundary(adapter, skyCenter, pixCenter, sizeRad1*0.5, 1, +1)
		}
	}

	if xmin > float64(naxis1) || ymin > float64(naxis2) || xmax < 1 || ymax < 1 {
		return PixelBox{}, false, nil
	}

	box := PixelBox{
		XMin: int64(math.Max(1, xmin)),
		YMin: int64(math.Max(1, ymin)),
		XMax: int64(math.Min(float64(naxis1), xmax)),
		YMax: int64(math.Min(float64(naxis2), ymax)),
	}
	return box, true, nil
}

func toDegrees(c0, c1 float64, units coords.Units) (float64, float64) {
	switch units {
	case coords.UnitArcsec:
		return c0 / 3600, c1 / 3600
	case coords.UnitArcmin:
		return c0 / 60, c1 / 60
	case coords.UnitRadian:
		return c0 * degPerRad, c1 * degPerRad
	default: // degree
		return c0, c1
	}
}

func sizeToRadians(c0, c1 float64, units coords.Units) (float64, float64) {
	switch units {
	case coords.UnitArcsec:
		return c0 * radPerArcsec, c1 * radPerArcsec
	case coords.UnitArcmin:
		return c0 * radPerArcmin, c1 * radPerArcmin
	case coords.UnitDegree:
		return c0 * radPerDeg, c1 * radPerDeg
	default: // radian
		return c0, c1
	}
}

// normalizeLng normalizes c0 into [0, 360) by fmod, per spec.md §4.1.
func normalizeLng(c0 float64) float64 {
	c0 = math.Mod(c0, 360)
	if c0 < 0 {
		c0 += 360
		if c0 == 360 {
			c0 = 0
		}
	}
	return c0
}

// s2c converts spherical coordinates (deg) to a unit vector in R3.
func s2c(sky [2]float64) [3]float64 {
	lon := radPerDeg * sky[0]
	lat := radPerDeg * sky[1]
	return [3]float64{
		math.Cos(lon) * math.Cos(lat),
		math.Sin(lon) * math.Cos(lat),
		math.Sin(lat),
	}
}

// greatCircleDistance returns the angular separation in radians between two
// unit vectors, using the numerically stable atan2(|a×b|, a·b) formula.
func greatCircleDistance(v1, v2 [3]float64) float64 {
	cs := v1[0]*v2[0] + v1[1]*v2[1] + v1[2]*v2[2]
	x := v1[1]*v2[2] - v1[2]*v2[1]
	y := v1[2]*v2[0] - v1[0]*v2[2]
	z := v1[0]*v2[1] - v1[1]*v2[0]
	ss := math.Sqrt(x*x + y*y + z*z)
	if ss != 0 || cs != 0 {
		return math.Atan2(ss, cs)
	}
	return 0
}

// searchBoundary is the angular boundary search of spec.md §4.3: it finds
// the pixel coordinate along axis dim, in direction dir, whose great-circle
// distance from the sky center equals size (radians).
func searchBoundary(adapter *wcs.Adapter, sky, pix [2]float64, size float64, dim, dir int) float64 {
	cen := s2c(sky)
	other := 1 - dim

	p := [2]float64{}
	p[other] = pix[other]
	inc := float64(dir)
	p[dim] = pixcen(pix[dim]) + 0.5*inc
	scale := 2.0

search:
	for math.Abs(inc) >= 1 && !math.IsInf(p[0], 0) && !math.IsInf(p[1], 0) {
		s, err := adapter.PixelToSky(p)
		if err != nil {
			break
		}
		v := s2c(s)
		d := greatCircleDistance(cen, v)
		switch {
		case d < size:
			inc *= scale
			p[dim] += inc
		case d > size:
			scale = 0.5
			inc *= 0.5
			p[dim] -= inc
		default:
			break search
		}
	}
	return pixcen(p[dim])
}
