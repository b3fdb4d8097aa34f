package tracking

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/hireflow/internal/pkg/logger"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Handler serves the public tracking endpoints. Both endpoints always
// succeed from the recipient's point of view: a bad token still gets a
// pixel or a redirect to the fallback URL.
type Handler struct {
	codec       *Codec
	recorder    *Recorder
	fallbackURL string
}

// NewHandler creates a tracking handler.
func NewHandler(codec *Codec, recorder *Recorder, fallbackURL string) *Handler {
	if fallbackURL == "" {
		fallbackURL = "/"
	}
	return &Handler{codec: codec, recorder: recorder, fallbackURL: fallbackURL}
}

// Routes returns the tracking router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/track/open/{token}", h.HandleOpen)
	r.Get("/track/click/{token}", h.HandleClick)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandleOpen records an open event and serves the pixel. The pixel is
// served for garbage tokens too; mail clients retry broken images and
// that noise helps nobody.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	payload, ok := h.codec.Decode(token)
	if !ok || payload.Kind != KindOpen {
		h.servePixel(w)
		return
	}

	h.record(r, &Event{
		QueuedEmailID: payload.QueuedEmailID,
		EventType:     KindOpen,
	})
	h.servePixel(w)
}

// HandleClick records a click event and redirects to the destination.
// Invalid tokens and unsafe destinations redirect to the fallback URL.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	payload, ok := h.codec.Decode(token)
	if !ok || payload.Kind != KindClick {
		http.Redirect(w, r, h.fallbackURL, http.StatusTemporaryRedirect)
		return
	}
	if !SafeRedirectURL(payload.URL) {
		logger.Warn("unsafe click destination, using fallback", "queued_email_id", payload.QueuedEmailID.String())
		http.Redirect(w, r, h.fallbackURL, http.StatusTemporaryRedirect)
		return
	}

	h.record(r, &Event{
		QueuedEmailID: payload.QueuedEmailID,
		EventType:     KindClick,
		LinkURL:       payload.URL,
	})
	http.Redirect(w, r, payload.URL, http.StatusTemporaryRedirect)
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) record(r *http.Request, event *Event) {
	event.IPAddress = realIP(r)
	event.UserAgent = r.UserAgent()
	event.EventAt = time.Now().UTC()

	if err := h.recorder.Record(r.Context(), event); err != nil {
		logger.Error("tracking record failed",
			"queued_email_id", event.QueuedEmailID.String(),
			"event_type", event.EventType,
			"error", err.Error())
	}
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
