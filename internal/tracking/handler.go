package tracking

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/lifecycle-engine/internal/lifecycle"
	"github.com/ignite/lifecycle-engine/internal/pkg/clock"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Recorder receives tracked interactions. *lifecycle.Engine implements it.
type Recorder interface {
	RecordInteraction(ctx context.Context, customerID, kind string, at time.Time) (*lifecycle.Recalculation, error)
}

type Handler struct {
	signer   *Signer
	recorder Recorder
	clock    clock.Clock
}

func NewHandler(signer *Signer, recorder Recorder, clk clock.Clock) *Handler {
	return &Handler{signer: signer, recorder: recorder, clock: clk}
}

// Routes returns the tracking router, mounted at /t.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/open/{data}/{sig}", h.HandleOpen)
	r.Get("/click/{data}/{sig}", h.HandleClick)
	return r
}

// HandleOpen always serves the pixel; bad or unknown links are only logged.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	link, err := h.signer.Verify(chi.URLParam(r, "data"), chi.URLParam(r, "sig"))
	if err != nil {
		logger.Debug("[Tracking] rejected open", "error", err)
		h.servePixel(w)
		return
	}
	h.record(r.Context(), link, lifecycle.InteractionEmailOpen)
	h.servePixel(w)
}

func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	link, err := h.signer.Verify(chi.URLParam(r, "data"), chi.URLParam(r, "sig"))
	if err != nil {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}
	u, err := url.Parse(link.Target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}
	h.record(r.Context(), link, lifecycle.InteractionEmailClick)
	http.Redirect(w, r, link.Target, http.StatusTemporaryRedirect)
}

func (h *Handler) record(ctx context.Context, link Link, kind string) {
	rec, err := h.recorder.RecordInteraction(ctx, link.CustomerID, kind, h.clock.Now())
	if err != nil {
		logger.Warn("[Tracking] record interaction failed", "customer_id", link.CustomerID, "kind", kind, "error", err)
		return
	}
	logger.Info("[Tracking] interaction", "customer_id", link.CustomerID, "kind", kind,
		"template", link.Template, "score", rec.NewScore)
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}
