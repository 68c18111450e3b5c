package gatewayhttp

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"

	"fitsgw/internal/gateway/audit"
	"fitsgw/pkg/gatewayerrors"
	"fitsgw/pkg/platform/httputil"
	"fitsgw/pkg/platform/sentinel"
	"fitsgw/pkg/requestcontext"
)

var (
	gzipTrueRe  = regexp.MustCompile(`(?i)^(1|on?|y(es)?|t(rue)?)$`)
	gzipFalseRe = regexp.MustCompile(`(?i)^(0|no?|o(ff?)?|f(alse)?)$`)
)

// parseGzipFlag implements spec.md §6.1's gzip query parameter grammar.
// An unset or unrecognized value falls back to defaultCutout (true for
// cutout requests, false otherwise).
func parseGzipFlag(raw string, defaultCutout bool) bool {
	switch {
	case raw == "":
		return defaultCutout
	case gzipTrueRe.MatchString(raw):
		return true
	case gzipFalseRe.MatchString(raw):
		return false
	default:
		return defaultCutout
	}
}

// Register mounts the served-path endpoint on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/serve/*", h.handleServe)
}

type listingEntry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	IsDir   bool      `json:"is_dir"`
}

func (h *Handler) handleServe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	subject := requestcontext.Subject(ctx)
	start := time.Now()

	relPath, absPath, err := h.resolvePath(chi.URLParam(r, "*"))
	if err != nil {
		h.fail(w, ctx, "", subject, audit.KindListing, err)
		return
	}

	decision, allowed, err := h.access.Evaluate(ctx, relPath, subject)
	if err != nil {
		h.fail(w, ctx, relPath, subject, audit.KindListing, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveAccessDecision(string(decision))
	}
	if !allowed {
		h.logger.WarnContext(ctx, "access denied", "request_id", requestID, "path", relPath, "subject", subject, "decision", decision)
		h.recordAudit(ctx, relPath, subject, audit.KindListing, string(decision), audit.StatusDenied, "")
		httputil.WriteError(w, gatewayerrors.New(gatewayerrors.CodeForbidden, "access denied"))
		h.observe("denied", http.StatusForbidden)
		return
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			h.fail(w, ctx, relPath, subject, audit.KindListing, gatewayerrors.Wrap(gatewayerrors.CodeNotFound, "path not found", sentinel.ErrNotFound))
			return
		}
		h.fail(w, ctx, relPath, subject, audit.KindListing, gatewayerrors.Wrap(gatewayerrors.CodeIO, "failed to stat path", err))
		return
	}

	isCutout := r.URL.Query().Get("center") != ""
	gzipRequested := parseGzipFlag(r.URL.Query().Get("gzip"), isCutout)

	var kind audit.Kind
	switch {
	case info.IsDir():
		kind = audit.KindListing
		err = h.serveListing(w, r, absPath, gzipRequested)
	case isCutout:
		kind = audit.KindCutout
		err = h.serveCutout(w, r, absPath, gzipRequested)
	default:
		kind = audit.KindFile
		err = h.serveFile(w, r, absPath, gzipRequested)
	}

	if err != nil {
		h.logger.ErrorContext(ctx, "serve failed", "request_id", requestID, "path", relPath, "kind", kind, "error", err)
		h.recordAudit(ctx, relPath, subject, kind, string(decision), audit.StatusError, err.Error())
		ge, _ := gatewayerrors.As(err)
		status := http.StatusInternalServerError
		if ge != nil {
			status = gatewayerrors.ToHTTPStatus(ge.Code)
		}
		h.observe(string(kind), status)
		return
	}

	h.logger.InfoContext(ctx, "served request", "request_id", requestID, "path", relPath, "kind", kind, "duration_ms", time.Since(start).Milliseconds())
	h.recordAudit(ctx, relPath, subject, kind, string(decision), audit.StatusServed, "")
	h.observe(string(kind), http.StatusOK)
}

func (h *Handler) serveListing(w http.ResponseWriter, r *http.Request, absPath string, gzipRequested bool) error {
	ctx := r.Context()
	var body []byte

	cacheKey := ""
	if h.cache != nil {
		if info, err := os.Stat(absPath); err == nil {
			cacheKey = fmt.Sprintf("listing:%s:%d", absPath, info.ModTime().UnixNano())
			if cached, err := h.cache.Get(ctx, cacheKey); err == nil && cached != "" {
				if h.metrics != nil {
					h.metrics.CacheHits.Inc()
				}
				body = []byte(cached)
			} else if h.metrics != nil {
				h.metrics.CacheMisses.Inc()
			}
		}
	}

	if body == nil {
		entries, err := h.lister.List(ctx, absPath)
		if err != nil {
			httputil.WriteError(w, err)
			return err
		}
		rendered := make([]listingEntry, len(entries))
		for i, e := range entries {
			rendered[i] = listingEntry{Name: e.Name, Size: e.Size, ModTime: e.ModTime, IsDir: e.IsDir}
		}
		body, err = json.Marshal(rendered)
		if err != nil {
			werr := gatewayerrors.Wrap(gatewayerrors.CodeInternal, "failed to encode listing", err)
			httputil.WriteError(w, werr)
			return werr
		}
		if h.cache != nil && cacheKey != "" {
			_ = h.cache.Set(ctx, cacheKey, string(body), h.cacheTTL)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	sink, closeSink := h.sink(w, gzipRequested)
	defer closeSink()
	n, err := sink.Write(body)
	h.countBytes(n)
	return err
}

func (h *Handler) serveCutout(w http.ResponseWriter, r *http.Request, absPath string, gzipRequested bool) error {
	// The cutout is assembled before any byte reaches w, so a failure is
	// answered with the JSON error envelope instead of a partial stream.
	var buf bytes.Buffer
	if err := h.cutouts.Stream(r.Context(), absPath, r.URL.Query().Get("center"), r.URL.Query().Get("size"), &buf); err != nil {
		httputil.WriteError(w, err)
		return err
	}

	w.Header().Set("Content-Type", "application/fits")
	sink, closeSink := h.sink(w, gzipRequested)
	defer closeSink()

	counted := &countingWriter{w: sink}
	_, err := buf.WriteTo(counted)
	h.countBytes(counted.n)
	return err
}

func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request, absPath string, gzipRequested bool) error {
	w.Header().Set("Content-Type", "application/octet-stream")
	sink, closeSink := h.sink(w, gzipRequested)
	defer closeSink()

	n, err := h.files.Stream(r.Context(), absPath, sink)
	h.countBytes(int(n))
	return err
}

// sink wraps w in a gzip.Writer when requested. The caller must invoke the
// returned close function (which flushes and closes the gzip writer, if
// any) before the handler returns.
func (h *Handler) sink(w http.ResponseWriter, gzipRequested bool) (io.Writer, func()) {
	if !gzipRequested {
		return w, func() {}
	}
	w.Header().Set("Content-Encoding", "gzip")
	gz := gzip.NewWriter(w)
	return gz, func() { _ = gz.Close() }
}

func (h *Handler) countBytes(n int) {
	if h.metrics != nil {
		h.metrics.ObserveBytesStreamed(n)
	}
}

func (h *Handler) observe(kind string, status int) {
	if h.metrics != nil {
		h.metrics.ObserveRequest(kind, fmt.Sprintf("%d", status))
	}
}

func (h *Handler) fail(w http.ResponseWriter, ctx context.Context, relPath, subject string, kind audit.Kind, err error) {
	requestID := requestcontext.RequestID(ctx)
	h.logger.WarnContext(ctx, "request failed before dispatch", "request_id", requestID, "path", relPath, "error", err)
	h.recordAudit(ctx, relPath, subject, kind, "", audit.StatusError, err.Error())
	httputil.WriteError(w, err)

	status := http.StatusInternalServerError
	var ge *gatewayerrors.GatewayError
	if errors.As(err, &ge) {
		status = gatewayerrors.ToHTTPStatus(ge.Code)
	}
	h.observe(string(kind), status)
}

func (h *Handler) recordAudit(ctx context.Context, path, subject string, kind audit.Kind, decision string, status audit.Status, detail string) {
	event := audit.Event{
		RequestID: requestcontext.RequestID(ctx),
		ClientIP:  requestcontext.ClientIP(ctx),
		Subject:   subject,
		Path:      path,
		Kind:      kind,
		Decision:  decision,
		Status:    status,
		Detail:    detail,
	}
	if err := h.audit.Append(ctx, event); err != nil {
		h.logger.ErrorContext(ctx, "failed to append audit event", "error", err)
	}
}

// countingWriter tallies bytes written through it without altering them.
type countingWriter struct {
	w io.Writer
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += n
	return n, err
}
