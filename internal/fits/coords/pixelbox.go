package coords

// PixelBox is an inclusive, 1-based FITS pixel bounding box.
type PixelBox struct {
	XMin, YMin, XMax, YMax int64
}
