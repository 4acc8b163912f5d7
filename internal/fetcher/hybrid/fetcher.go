// Package hybrid fetches pages over plain HTTP and renders them in a headless
// browser only when the plain markup looks client-rendered.
package hybrid

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/metrics"
)

// Detector decides whether a plain response needs rendering.
type Detector interface {
	ShouldPromote(resp audit.FetchResponse) bool
}

// Fetcher implements audit.Fetcher.
type Fetcher struct {
	plain    audit.Fetcher
	headless audit.Fetcher
	detector Detector
	logger   *zap.Logger
}

// New builds a Fetcher. A nil headless fetcher disables promotion.
func New(plain, headless audit.Fetcher, detector Detector, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{plain: plain, headless: headless, detector: detector, logger: logger}
}

// Fetch returns the plain response unless the detector asks for a render. A
// failed render falls back to the plain response while the context is live.
func (f *Fetcher) Fetch(ctx context.Context, request audit.FetchRequest) (audit.FetchResponse, error) {
	resp, err := f.plain.Fetch(ctx, request)
	if err != nil {
		return audit.FetchResponse{}, err
	}
	if f.headless == nil || f.detector == nil || !f.detector.ShouldPromote(resp) {
		return resp, nil
	}

	rendered, err := f.headless.Fetch(ctx, request)
	if err != nil {
		if ctx.Err() != nil {
			return audit.FetchResponse{}, err
		}
		metrics.ObserveHeadlessPromotion("fallback")
		f.logger.Warn("headless render failed, using plain response",
			zap.String("url", request.URL),
			zap.Error(err),
		)
		return resp, nil
	}
	metrics.ObserveHeadlessPromotion("rendered")
	return rendered, nil
}
