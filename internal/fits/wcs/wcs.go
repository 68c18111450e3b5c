// Package wcs is a hand-rolled celestial World Coordinate System adapter
// covering the TAN (gnomonic), SIN (orthographic) and CAR (plate carrée)
// projections plus SIP polynomial distortion, grounded on
// original_source/src/Wcs.cxx's wcsinit/pix2wcs/wcsc2pix call shape and
// original_source/src/Cutout.cpp's fuller Wcs class (SIP/PV stripping,
// wcsp2s/wcss2p status-code handling). No pure-Go celestial WCS library is
// present anywhere in the example pack (see DESIGN.md), so this subsystem
// is the one CORE piece built directly on stdlib math.
package wcs

import (
	"math"
	"strconv"
	"strings"

	"fitsgw/pkg/gatewayerrors"
)

const (
	codeInvalidPixel = 9 // wcslib status: invalid pixel coordinates
)

// Adapter is an opaque wrapper around a 2D celestial WCS built from a FITS
// header. It always reports sky components in (lng, lat) order regardless
// of the underlying header's physical axis order.
type Adapter struct {
	ctype     [2]string
	crpix     [2]float64
	crval     [2]float64
	cd        [2][2]float64
	cdInv     [2][2]float64
	projCode  string // "TAN", "SIN", "CAR"
	lngFirst  bool   // true if header's axis 0 is the longitude axis
	sipA      sipPoly
	sipB      sipPoly
	hasSIP    bool
}

type sipPoly map[[2]int]float64 // (p,q) -> coefficient, for sum A_p_q * u^p * v^q

// New builds an Adapter from raw FITS header card text (80-byte cards
// concatenated, as produced by internal/fits/stream's header reader).
func New(headerText string) (*Adapter, error) {
	cards := parseCards(headerText)

	a := &Adapter{cd: [2][2]float64{{1, 0}, {0, 1}}}

	ctype1, ok1 := cards["CTYPE1"]
	ctype2, ok2 := cards["CTYPE2"]
	if !ok1 || !ok2 {
		return nil, gatewayerrors.New(gatewayerrors.CodeInternal, "Failed to extract WCS from FITS header")
	}
	a.ctype[0] = strings.Trim(ctype1, "'")
	a.ctype[1] = strings.Trim(ctype2, "'")

	a.lngFirst = strings.HasPrefix(strings.ToUpper(a.ctype[0]), "RA") ||
		strings.Contains(strings.ToUpper(a.ctype[0]), "LON")

	proj := extractProjectionCode(a.ctype[0])
	if proj == "" {
		proj = extractProjectionCode(a.ctype[1])
	}
	if proj == "" {
		proj = "TAN"
	}
	a.projCode = proj

	var err error
	if a.crpix[0], err = cardFloat(cards, "CRPIX1"); err != nil {
		return nil, gatewayerrors.New(gatewayerrors.CodeInternal, "Failed to extract WCS from FITS header")
	}
	if a.crpix[1], err = cardFloat(cards, "CRPIX2"); err != nil {
		return nil, gatewayerrors.New(gatewayerrors.CodeInternal, "Failed to extract WCS from FITS header")
	}
	if a.crval[0], err = cardFloat(cards, "CRVAL1"); err != nil {
		return nil, gatewayerrors.New(gatewayerrors.CodeInternal, "Failed to extract WCS from FITS header")
	}
	if a.crval[1], err = cardFloat(cards, "CRVAL2"); err != nil {
		return nil, gatewayerrors.New(gatewayerrors.CodeInternal, "Failed to extract WCS from FITS header")
	}

	a.cd = resolveCDMatrix(cards)

	// deproject/project always work in canonical (lng,lat) order. When the
	// header's physical axis order is swapped (e.g. CTYPE1=DEC--TAN,
	// CTYPE2=RA---TAN), swap crval and the CD matrix's output rows here so
	// the projection math itself runs on the right reference values,
	// instead of swapping only the final output tuple.
	if !a.lngFirst {
		a.crval[0], a.crval[1] = a.crval[1], a.crval[0]
		a.cd[0], a.cd[1] = a.cd[1], a.cd[0]
	}

	if inv, ok := invert2x2(a.cd); ok {
		a.cdInv = inv
	} else {
		return nil, gatewayerrors.New(gatewayerrors.CodeInternal, "Failed to extract WCS from FITS header")
	}

	// Distortion-keyword policy (spec.md §4.2): if SIP is present on every
	// axis AND PVi_m parameters are present, the PV parameters are ignored
	// (we simply never read them into the projection, since this adapter
	// does not implement PV-parameterized projections) — mirroring
	// Cutout.cpp's strip-PV-under-SIP policy.
	sipOnAllAxes := strings.HasSuffix(a.ctype[0], "-SIP") && strings.HasSuffix(a.ctype[1], "-SIP")
	if sipOnAllAxes {
		a.sipA = parseSIPPoly(cards, "A")
		a.sipB = parseSIPPoly(cards, "B")
		a.hasSIP = len(a.sipA) > 0 || len(a.sipB) > 0
	}

	return a, nil
}

// PixelToSky converts a 1-based pixel coordinate to sky coordinates in
// degrees, always returned as (lng, lat).
func (a *Adapter) PixelToSky(pix [2]float64) ([2]float64, error) {
	u := pix[0] - a.crpix[0]
	v := pix[1] - a.crpix[1]
	if a.hasSIP {
		u, v = a.applySIPForward(u, v)
	}

	xiDeg := a.cd[0][0]*u + a.cd[0][1]*v
	etaDeg := a.cd[1][0]*u + a.cd[1][1]*v

	lng, lat, ok := a.deproject(xiDeg, etaDeg)
	if !ok {
		return [2]float64{}, gatewayerrors.New(gatewayerrors.CodeBadRequest, "Invalid pixel coordinates")
	}
	return [2]float64{lng, lat}, nil
}

// SkyToPixel converts sky coordinates in degrees, given as (lng, lat), to a
// 1-based pixel coordinate.
func (a *Adapter) SkyToPixel(sky [2]float64) ([2]float64, error) {
	lng, lat := sky[0], sky[1]

	xiDeg, etaDeg, ok := a.project(lng, lat)
	if !ok {
		return [2]float64{}, gatewayerrors.New(gatewayerrors.CodeBadRequest, "Invalid sky coordinates")
	}

	u := a.cdInv[0][0]*xiDeg + a.cdInv[0][1]*etaDeg
	v := a.cdInv[1][0]*xiDeg + a.cdInv[1][1]*etaDeg

	if a.hasSIP {
		u, v = a.invertSIP(u, v)
	}

	return [2]float64{a.crpix[0] + u, a.crpix[1] + v}, nil
}

// deproject converts standard (intermediate world) coordinates in degrees
// to celestial (lng, lat) in degrees, per the projection code.
func (a *Adapter) deproject(xiDeg, etaDeg float64) (lng, lat float64, ok bool) {
	lon0 := a.crval[0] * math.Pi / 180
	lat0 := a.crval[1] * math.Pi / 180

	if a.projCode == "CAR" {
		lngRad := lon0 + xiDeg*math.Pi/180/math.Max(math.Cos(lat0), 1e-9)
		latRad := lat0 + etaDeg*math.Pi/180
		return normalizeLng(lngRad * 180 / math.Pi), latRad * 180 / math.Pi, true
	}

	xi := xiDeg * math.Pi / 180
	eta := etaDeg * math.Pi / 180
	r := math.Hypot(xi, eta)
	phi := math.Atan2(xi, -eta)

	var theta float64
	switch a.projCode {
	case "SIN":
		if r > 1 {
			return 0, 0, false
		}
		theta = math.Acos(r)
	default: // TAN
		theta = math.Atan2(1, r)
	}
	if !isFinite(theta) {
		return 0, 0, false
	}

	sinTheta, cosTheta := math.Sin(theta), math.Cos(theta)
	sinLat0, cosLat0 := math.Sin(lat0), math.Cos(lat0)

	// Native pole longitude is 180 deg, the same as project's +math.Pi.
	latRad := math.Asin(sinTheta*sinLat0 - cosTheta*cosLat0*math.Cos(phi))
	lngRad := lon0 + math.Atan2(cosTheta*math.Sin(phi), sinTheta*cosLat0+cosTheta*sinLat0*math.Cos(phi))

	if !isFinite(latRad) || !isFinite(lngRad) {
		return 0, 0, false
	}
	return normalizeLng(lngRad * 180 / math.Pi), latRad * 180 / math.Pi, true
}

// project is the inverse of deproject: celestial (lng,lat) degrees to
// intermediate world coordinates (xi, eta) degrees.
func (a *Adapter) project(lngDeg, latDeg float64) (xiDeg, etaDeg float64, ok bool) {
	lon0 := a.crval[0] * math.Pi / 180
	lat0 := a.crval[1] * math.Pi / 180
	lng := lngDeg * math.Pi / 180
	lat := latDeg * math.Pi / 180

	if a.projCode == "CAR" {
		xiDeg = (lng - lon0) * math.Cos(lat0) * 180 / math.Pi
		etaDeg = (lat - lat0) * 180 / math.Pi
		return xiDeg, etaDeg, true
	}

	dLon := lng - lon0
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	sinLat0, cosLat0 := math.Sin(lat0), math.Cos(lat0)

	theta := math.Asin(sinLat*sinLat0 + cosLat*cosLat0*math.Cos(dLon))
	phi := math.Atan2(-cosLat*math.Sin(dLon), sinLat*cosLat0-cosLat*sinLat0*math.Cos(dLon)) + math.Pi

	var r float64
	switch a.projCode {
	case "SIN":
		r = math.Cos(theta)
		if r < 0 {
			return 0, 0, false
		}
	default: // TAN
		if theta <= 0 {
			return 0, 0, false
		}
		r = 1 / math.Tan(theta)
	}

	xi := r * math.Sin(phi)
	eta := -r * math.Cos(phi)
	if !isFinite(xi) || !isFinite(eta) {
		return 0, 0, false
	}
	return xi * 180 / math.Pi, eta * 180 / math.Pi, true
}

func (a *Adapter) applySIPForward(u, v float64) (float64, float64) {
	du, dv := 0.0, 0.0
	for pq, coeff := range a.sipA {
		du += coeff * math.Pow(u, float64(pq[0])) * math.Pow(v, float64(pq[1]))
	}
	for pq, coeff := range a.sipB {
		dv += coeff * math.Pow(u, float64(pq[0])) * math.Pow(v, float64(pq[1]))
	}
	return u + du, v + dv
}

// invertSIP inverts the forward SIP distortion by Newton iteration on the
// (small) residual correction; no AP/BP inverse polynomial support is
// implemented, matching this adapter's minimal footprint.
func (a *Adapter) invertSIP(u, v float64) (float64, float64) {
	x, y := u, v
	for i := 0; i < 12; i++ {
		fu, fv := a.applySIPForward(x, y)
		ru, rv := fu-u, fv-v
		if math.Abs(ru) < 1e-10 && math.Abs(rv) < 1e-10 {
			break
		}
		x -= ru
		y -= rv
	}
	return x, y
}

func normalizeLng(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg == 360 {
		deg = 0
	}
	return deg
}

func isFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

func extractProjectionCode(ctype string) string {
	ctype = strings.Trim(ctype, "'")
	if len(ctype) < 8 {
		return ""
	}
	code := strings.ToUpper(ctype[5:8])
	switch code {
	case "TAN", "SIN", "CAR":
		return code
	default:
		return ""
	}
}

func resolveCDMatrix(cards map[string]string) [2][2]float64 {
	if v, ok := cards["CD1_1"]; ok {
		cd := [2][2]float64{{1, 0}, {0, 1}}
		cd[0][0] = mustFloat(v)
		cd[0][1] = mustFloatOr(cards, "CD1_2", 0)
		cd[1][0] = mustFloatOr(cards, "CD2_1", 0)
		cd[1][1] = mustFloatOr(cards, "CD2_2", 0)
		return cd
	}
	cdelt1 := mustFloatOr(cards, "CDELT1", 1)
	cdelt2 := mustFloatOr(cards, "CDELT2", 1)
	crota2 := mustFloatOr(cards, "CROTA2", 0) * math.Pi / 180
	pc11 := mustFloatOr(cards, "PC1_1", math.Cos(crota2))
	pc12 := mustFloatOr(cards, "PC1_2", -math.Sin(crota2))
	pc21 := mustFloatOr(cards, "PC2_1", math.Sin(crota2))
	pc22 := mustFloatOr(cards, "PC2_2", math.Cos(crota2))
	return [2][2]float64{
		{cdelt1 * pc11, cdelt1 * pc12},
		{cdelt2 * pc21, cdelt2 * pc22},
	}
}

func invert2x2(m [2][2]float64) ([2][2]float64, bool) {
	det := m[0][0]*m[1][1] - m[0][1]*m[1][0]
	if det == 0 {
		return [2][2]float64{}, false
	}
	inv := [2][2]float64{
		{m[1][1] / det, -m[0][1] / det},
		{-m[1][0] / det, m[0][0] / det},
	}
	return inv, true
}

func parseSIPPoly(cards map[string]string, axis string) sipPoly {
	poly := sipPoly{}
	prefix := axis + "_"
	for key, val := range cards {
		if !strings.HasPrefix(key, prefix) || strings.HasPrefix(key, axis+"_ORDER") {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		parts := strings.SplitN(rest, "_", 2)
		if len(parts) != 2 {
			continue
		}
		p, errP := strconv.Atoi(parts[0])
		q, errQ := strconv.Atoi(parts[1])
		if errP != nil || errQ != nil {
			continue
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			poly[[2]int{p, q}] = f
		}
	}
	return poly
}

func cardFloat(cards map[string]string, key string) (float64, error) {
	v, ok := cards[key]
	if !ok {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseFloat(strings.TrimSpace(v), 64)
}

func mustFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func mustFloatOr(cards map[string]string, key string, def float64) float64 {
	v, ok := cards[key]
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

// parseCards tokenizes raw 80-byte FITS header card text into a keyword ->
// value map, tolerant of comments after '/'. Only the value side is kept;
// quoted strings retain their raw (trimmed) text.
func parseCards(headerText string) map[string]string {
	cards := make(map[string]string)
	for i := 0; i+80 <= len(headerText); i += 80 {
		card := headerText[i : i+80]
		key := strings.TrimSpace(card[:8])
		if key == "" || key == "END" || key == "COMMENT" || key == "HISTORY" {
			continue
		}
		if len(card) < 10 || card[8] != '=' {
			continue
		}
		valuePart := card[10:]
		if idx := strings.Index(valuePart, "/"); idx >= 0 {
			valuePart = valuePart[:idx]
		}
		cards[key] = strings.TrimSpace(valuePart)
	}
	return cards
}
