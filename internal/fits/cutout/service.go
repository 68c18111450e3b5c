package cutout

import (
	"bytes"
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"fitsgw/internal/fits/coords"
	"fitsgw/internal/fits/stream"
)

var tracer = otel.Tracer("fitsgw/internal/fits/cutout")

// Opener opens the FITS file at path for a single request. The returned
// Source must support random access (FitsStreamer seeks within it while
// streaming pixel rows); close is the caller's responsibility once the
// returned closer is invoked.
type Opener func(path string) (src stream.Source, closeFn func() error, err error)

// Service orchestrates CoordParser -> PixelBoxSolver -> FitsStreamer for a
// single request, per spec.md §4.5. Concurrent requests for the same
// (path, center, size) are deduplicated by a singleflight.Group: the
// winning goroutine runs the pipeline once into an in-memory buffer, and
// every follower receives a copy of the same bytes instead of re-entering
// the pipeline, per SPEC_FULL §5.
type Service struct {
	open  Opener
	group singleflight.Group
}

// NewService constructs a Service backed by open, which is called once
// per in-flight request key (never concurrently for the same key); a
// later request for a key whose earlier call has finished opens it again.
func NewService(open Opener) *Service {
	return &Service{open: open}
}

// Stream resolves a cutout for path against centerRaw/sizeRaw and writes
// the resulting FITS byte stream to w. The caller decides whether to wrap
// w in a gzip writer per spec.md §6.1's gzip flag; this method always
// writes the raw FITS bytes.
func (s *Service) Stream(ctx context.Context, path, centerRaw, sizeRaw string, w io.Writer) error {
	ctx, span := tracer.Start(ctx, "cutout.Stream")
	defer span.End()
	span.SetAttributes(
		attribute.String("fits.path", path),
		attribute.String("fits.center", centerRaw),
		attribute.String("fits.size", sizeRaw),
	)

	key := path + "\x00" + centerRaw + "\x00" + sizeRaw
	v, err, shared := s.group.Do(key, func() (interface{}, error) {
		return s.run(ctx, path, centerRaw, sizeRaw)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Bool("fits.singleflight_shared", shared))

	buf := v.(*bytes.Buffer)
	_, werr := w.Write(buf.Bytes())
	return werr
}

func (s *Service) run(ctx context.Context, path, centerRaw, sizeRaw string) (*bytes.Buffer, error) {
	_, parseSpan := tracer.Start(ctx, "cutout.parseCoords")
	center, err := coords.Parse(centerRaw, coords.UnitDegree, true)
	if err != nil {
		parseSpan.End()
		return nil, err
	}
	size, err := coords.Parse(sizeRaw, coords.UnitDegree, false)
	parseSpan.End()
	if err != nil {
		return nil, err
	}

	src, closeFn, err := s.open(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	solve := func(headerText string, naxis1, naxis2 int64) (PixelBox, bool, error) {
		return SolvePixelBox(center, size, func() (string, error) { return headerText, nil }, naxis1, naxis2)
	}

	_, streamSpan := tracer.Start(ctx, "cutout.streamHDUs")
	defer streamSpan.End()

	var buf bytes.Buffer
	if err := stream.Stream(src, &buf, solve); err != nil {
		streamSpan.RecordError(err)
		streamSpan.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return &buf, nil
}
