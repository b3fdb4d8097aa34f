package stagemail

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/hireflow/internal/pipeline"
	"github.com/ignite/hireflow/internal/pkg/httputil"
	"github.com/ignite/hireflow/internal/template"
	"github.com/ignite/hireflow/internal/tracking"
)

// Handler exposes the operator API: queue and reminder dashboards, cancel
// and retry actions, per-org settings and templates, and the candidate
// stage operations that drive everything else.
type Handler struct {
	store      *Store
	settings   *SettingsStore
	candidates *pipeline.Store
	service    *Service
	recorder   *tracking.Recorder
}

// NewHandler creates the operator API handler.
func NewHandler(store *Store, settings *SettingsStore, candidates *pipeline.Store,
	service *Service, recorder *tracking.Recorder) *Handler {
	return &Handler{
		store:      store,
		settings:   settings,
		candidates: candidates,
		service:    service,
		recorder:   recorder,
	}
}

// Routes registers the operator API on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/queue", func(r chi.Router) {
			r.Get("/", h.listQueue)
			r.Get("/{id}", h.getQueued)
			r.Get("/{id}/events", h.listQueuedEvents)
			r.Post("/{id}/cancel", h.cancelQueued)
			r.Post("/{id}/retry", h.retryQueued)
		})

		r.Route("/candidates", func(r chi.Router) {
			r.Post("/", h.createCandidate)
			r.Get("/{id}", h.getCandidate)
			r.Post("/{id}/stage", h.changeStage)
			r.Post("/{id}/status", h.changeStatus)
			r.Get("/{id}/reminders", h.listReminders)
		})

		r.Route("/reminders", func(r chi.Router) {
			r.Post("/", h.createReminder)
			r.Post("/{id}/cancel", h.cancelReminder)
		})

		r.Route("/orgs/{orgID}", func(r chi.Router) {
			r.Get("/settings", h.getSettings)
			r.Put("/settings", h.updateSettings)
			r.Get("/candidates", h.listCandidates)
			r.Get("/templates", h.listTemplates)
			r.Post("/templates", h.createTemplate)
		})

		r.Get("/templates/{id}", h.getTemplate)
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httputil.OK(w, map[string]string{"status": "ok"})
	})
}

func urlUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	return id, err == nil
}

func parseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// --- queue ---

func (h *Handler) listQueue(w http.ResponseWriter, r *http.Request) {
	f := ListFilter{Status: r.URL.Query().Get("status"), Limit: 100}
	if v := r.URL.Query().Get("candidate_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			httputil.BadRequest(w, "invalid candidate_id")
			return
		}
		f.CandidateID = id
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			f.Limit = n
		}
	}

	items, err := h.store.List(r.Context(), f)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"items": items, "count": len(items)})
}

func (h *Handler) getQueued(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		httputil.BadRequest(w, "invalid id")
		return
	}
	q, err := h.store.Get(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if q == nil {
		httputil.NotFound(w, "queued email not found")
		return
	}
	httputil.OK(w, q)
}

func (h *Handler) listQueuedEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		httputil.BadRequest(w, "invalid id")
		return
	}
	events, err := h.recorder.ListByQueuedEmail(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"items": events, "count": len(events)})
}

func (h *Handler) cancelQueued(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		httputil.BadRequest(w, "invalid id")
		return
	}
	switch err := h.store.Cancel(r.Context(), id); {
	case errors.Is(err, ErrNotCancellable):
		httputil.Conflict(w, "queued email is not pending")
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.NoContent(w)
	}
}

func (h *Handler) retryQueued(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		httputil.BadRequest(w, "invalid id")
		return
	}
	switch err := h.store.Reset(r.Context(), id); {
	case errors.Is(err, ErrNotResettable):
		httputil.Conflict(w, "queued email is not failed")
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.NoContent(w)
	}
}

// --- candidates ---

func (h *Handler) createCandidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrgID        uuid.UUID `json:"org_id"`
		FullName     string    `json:"full_name"`
		Email        string    `json:"email"`
		Position     string    `json:"position"`
		CurrentStage string    `json:"current_stage"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.OrgID == uuid.Nil || req.FullName == "" || req.Email == "" || req.CurrentStage == "" {
		httputil.BadRequest(w, "org_id, full_name, email and current_stage are required")
		return
	}

	c := &pipeline.Candidate{
		OrgID:        req.OrgID,
		FullName:     req.FullName,
		Email:        req.Email,
		Position:     req.Position,
		CurrentStage: req.CurrentStage,
	}
	if err := h.candidates.CreateCandidate(r.Context(), c); err != nil {
		httputil.InternalError(w, err)
		return
	}

	// Entering the first stage counts as a stage change.
	h.service.OnStageChanged(r.Context(), c.ID, "", c.CurrentStage)
	httputil.Created(w, c)
}

func (h *Handler) getCandidate(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		httputil.BadRequest(w, "invalid id")
		return
	}
	c, err := h.candidates.GetCandidate(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if c == nil {
		httputil.NotFound(w, "candidate not found")
		return
	}
	httputil.OK(w, c)
}

func (h *Handler) listCandidates(w http.ResponseWriter, r *http.Request) {
	orgID, ok := urlUUID(r, "orgID")
	if !ok {
		httputil.BadRequest(w, "invalid org id")
		return
	}
	items, err := h.candidates.ListCandidates(r.Context(), orgID, r.URL.Query().Get("stage"), 200)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"items": items, "count": len(items)})
}

// changeStage is the primary operation: move the candidate, then run the
// stage hook. The hook is best-effort; a misconfigured org never blocks
// the move itself.
func (h *Handler) changeStage(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		httputil.BadRequest(w, "invalid id")
		return
	}
	var req struct {
		ToStage string `json:"to_stage"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.ToStage == "" {
		httputil.BadRequest(w, "to_stage is required")
		return
	}

	fromStage, err := h.candidates.UpdateStage(r.Context(), id, req.ToStage)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	h.service.OnStageChanged(r.Context(), id, fromStage, req.ToStage)
	httputil.OK(w, map[string]string{"from_stage": fromStage, "to_stage": req.ToStage})
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		httputil.BadRequest(w, "invalid id")
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	switch req.Status {
	case pipeline.CandidateActive, pipeline.CandidateHired, pipeline.CandidateRejected, pipeline.CandidateWithdrawn:
	default:
		httputil.BadRequest(w, "invalid status")
		return
	}

	if err := h.candidates.UpdateStatus(r.Context(), id, req.Status); err != nil {
		httputil.InternalError(w, err)
		return
	}
	if req.Status != pipeline.CandidateActive {
		h.service.OnCandidateClosed(r.Context(), id)
	}
	httputil.OK(w, map[string]string{"status": req.Status})
}

// --- reminders ---

func (h *Handler) createReminder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrgID       uuid.UUID `json:"org_id"`
		CandidateID uuid.UUID `json:"candidate_id"`
		Stage       string    `json:"stage"`
		Recipient   string    `json:"recipient"`
		Note        string    `json:"note"`
		FireAt      string    `json:"fire_at"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.CandidateID == uuid.Nil || req.Stage == "" || req.Recipient == "" {
		httputil.BadRequest(w, "candidate_id, stage and recipient are required")
		return
	}
	fireAt, err := parseRFC3339(req.FireAt)
	if err != nil {
		httputil.BadRequest(w, "fire_at must be RFC3339")
		return
	}

	rem := &Reminder{
		OrgID:       req.OrgID,
		CandidateID: req.CandidateID,
		Stage:       req.Stage,
		Recipient:   req.Recipient,
		Note:        req.Note,
		FireAt:      fireAt,
	}
	if err := h.store.CreateReminder(r.Context(), rem); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, rem)
}

func (h *Handler) listReminders(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		httputil.BadRequest(w, "invalid id")
		return
	}
	items, err := h.store.ListReminders(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"items": items, "count": len(items)})
}

func (h *Handler) cancelReminder(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		httputil.BadRequest(w, "invalid id")
		return
	}
	switch err := h.store.CancelReminder(r.Context(), id); {
	case errors.Is(err, ErrNotCancellable):
		httputil.Conflict(w, "reminder already fired or cancelled")
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.NoContent(w)
	}
}

// --- settings & templates ---

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	orgID, ok := urlUUID(r, "orgID")
	if !ok {
		httputil.BadRequest(w, "invalid org id")
		return
	}
	settings, err := h.settings.Get(r.Context(), orgID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, settings)
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	orgID, ok := urlUUID(r, "orgID")
	if !ok {
		httputil.BadRequest(w, "invalid org id")
		return
	}
	var req struct {
		Rules map[string]StageRule `json:"rules"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := h.settings.Update(r.Context(), orgID, req.Rules); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.NoContent(w)
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	orgID, ok := urlUUID(r, "orgID")
	if !ok {
		httputil.BadRequest(w, "invalid org id")
		return
	}
	items, err := h.store.ListTemplates(r.Context(), orgID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"items": items, "count": len(items)})
}

func (h *Handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	orgID, ok := urlUUID(r, "orgID")
	if !ok {
		httputil.BadRequest(w, "invalid org id")
		return
	}
	var req struct {
		Name    string `json:"name"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
		Layout  string `json:"layout"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Name == "" || req.Subject == "" || req.Body == "" {
		httputil.BadRequest(w, "name, subject and body are required")
		return
	}

	t := &Template{OrgID: orgID, Name: req.Name, Subject: req.Subject, Body: req.Body, Layout: req.Layout}
	if err := h.store.CreateTemplate(r.Context(), t); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, t)
}

// getTemplate returns a template along with the variables its subject and
// body reference, for the settings UI.
func (h *Handler) getTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		httputil.BadRequest(w, "invalid id")
		return
	}
	t, err := h.store.GetTemplate(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if t == nil {
		httputil.NotFound(w, "template not found")
		return
	}
	httputil.OK(w, map[string]interface{}{
		"template":  t,
		"variables": template.ExtractVariables(t.Subject + " " + t.Body),
	})
}
