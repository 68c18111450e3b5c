// Package gatewayhttp is the chi-routed HTTP transport: it translates
// GET /serve/{path...} and its center/size/gzip query parameters into
// calls against the access, session, audit, fswalk, filestream and
// cutout collaborators, and gatewayerrors codes into HTTP status codes,
// following the teacher's internal/decision/handler shape (a Handler
// struct over a narrow service interface, Register(chi.Router), slog +
// metrics on every request).
package gatewayhttp

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"fitsgw/internal/gateway/access"
	"fitsgw/internal/gateway/audit"
	"fitsgw/internal/gateway/fswalk"
	"fitsgw/internal/platform/metrics"
	"fitsgw/pkg/gatewayerrors"
)

// CutoutStreamer resolves and streams a pixel-box cutout of a FITS file.
type CutoutStreamer interface {
	Stream(ctx context.Context, path, centerRaw, sizeRaw string, w io.Writer) error
}

// FileStreamer streams a whole file verbatim, reporting its size.
type FileStreamer interface {
	Stream(ctx context.Context, absPath string, w io.Writer) (int64, error)
}

// AccessChecker evaluates whether subject may reach path.
type AccessChecker interface {
	Evaluate(ctx context.Context, path, subject string) (access.Decision, bool, error)
}

// Auditor records one event per served request.
type Auditor interface {
	Append(ctx context.Context, event audit.Event) error
}

// ListingCache caches a rendered directory listing keyed by path+mtime,
// so repeat requests for a hot directory skip the os.ReadDir + stat walk.
type ListingCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Handler wires the served-path endpoint to its collaborators.
type Handler struct {
	dataRoot string
	cutouts  CutoutStreamer
	files    FileStreamer
	lister   fswalk.Lister
	access   AccessChecker
	audit    Auditor
	cache    ListingCache
	cacheTTL time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures a Handler.
type Option func(*Handler)

// WithListingCache enables the directory-listing cache.
func WithListingCache(cache ListingCache, ttl time.Duration) Option {
	return func(h *Handler) {
		h.cache = cache
		h.cacheTTL = ttl
	}
}

// New constructs a Handler rooted at dataRoot.
func New(dataRoot string, cutouts CutoutStreamer, files FileStreamer, lister fswalk.Lister, accessChecker AccessChecker, auditor Auditor, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Handler {
	h := &Handler{
		dataRoot: filepath.Clean(dataRoot),
		cutouts:  cutouts,
		files:    files,
		lister:   lister,
		access:   accessChecker,
		audit:    auditor,
		logger:   logger,
		metrics:  m,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// resolvePath validates the requested path contains no ".." segment and
// no leading "/", per spec.md §6.1 ("path: ... already validated not to
// contain `..` or a leading `/`"), independent of whatever chi has
// already decoded the wildcard to. A request that fails this check is
// rejected outright rather than silently normalized.
func (h *Handler) resolvePath(raw string) (relPath, absPath string, err error) {
	if strings.HasPrefix(raw, "/") {
		return "", "", gatewayerrors.New(gatewayerrors.CodeBadRequest, "path must not have a leading /")
	}
	for _, segment := range strings.Split(raw, "/") {
		if segment == ".." {
			return "", "", gatewayerrors.New(gatewayerrors.CodeBadRequest, "path must not contain ..")
		}
	}
	return raw, filepath.Join(h.dataRoot, raw), nil
}
