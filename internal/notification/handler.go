package notification

import (
	"net/http"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	customerHeader = "X-Customer-ID"
	riderHeader    = "X-Rider-ID"
)

type Handler struct {
	logger    apt.Logger
	config    *apt.Config
	tlm       *telemetry.HTTP
	customers Repo
	riders    RiderRepo
}

type HandlerDeps struct {
	CustomerRepo Repo
	RiderRepo    RiderRepo
}

func NewHandler(hd HandlerDeps, config *apt.Config, logger apt.Logger) *Handler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Handler{
		logger:    logger,
		config:    config,
		tlm:       telemetry.NewHTTP(),
		customers: hd.CustomerRepo,
		riders:    hd.RiderRepo,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.ListCustomerNotifications)
		r.Get("/count", h.CountCustomerUnread)
		r.Get("/unread-count", h.CountCustomerUnread)
		r.Post("/{id}/read", h.MarkCustomerRead)
		r.Post("/mark-all-read", h.MarkAllCustomerRead)
	})

	r.Route("/riders/notifications", func(r chi.Router) {
		r.Get("/", h.ListRiderNotifications)
		r.Get("/unread-count", h.CountRiderUnread)
		r.Post("/{id}/read", h.MarkRiderRead)
		r.Post("/mark-all-read", h.MarkAllRiderRead)
	})
}

// Customer mailbox

func (h *Handler) ListCustomerNotifications(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListCustomerNotifications")
	defer finish()

	log := h.log(r)
	ctx := r.Context()

	customerID, ok := h.recipientID(w, r, customerHeader, log)
	if !ok {
		return
	}

	includeRead := r.URL.Query().Get("includeRead") == "true"

	items, err := h.customers.ListByCustomer(ctx, customerID, includeRead, time.Now())
	if err != nil {
		log.Error("cannot list notifications", "error", err, "customer_id", customerID.String())
		apt.RespondError(w, http.StatusInternalServerError, "Could not retrieve notifications")
		return
	}

	apt.RespondCollection(w, items, "notification")
}

func (h *Handler) CountCustomerUnread(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CountCustomerUnread")
	defer finish()

	log := h.log(r)
	ctx := r.Context()

	customerID, ok := h.recipientID(w, r, customerHeader, log)
	if !ok {
		return
	}

	count, err := h.customers.CountUnread(ctx, customerID, time.Now())
	if err != nil {
		log.Error("cannot count unread notifications", "error", err, "customer_id", customerID.String())
		apt.RespondError(w, http.StatusInternalServerError, "Could not count notifications")
		return
	}

	apt.RespondSuccess(w, map[string]int64{"unread_count": count, "count": count})
}

func (h *Handler) MarkCustomerRead(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.MarkCustomerRead")
	defer finish()

	log := h.log(r)
	ctx := r.Context()

	customerID, ok := h.recipientID(w, r, customerHeader, log)
	if !ok {
		return
	}

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	n, err := h.customers.Get(ctx, id)
	if err != nil {
		log.Error("error loading notification", "error", err, "id", id.String())
		apt.RespondError(w, http.StatusNotFound, "Notification not found")
		return
	}

	// Ownership mismatches and expired envelopes both read as absent; a
	// Forbidden here would leak that the id exists.
	if n == nil || n.CustomerID != customerID || n.Expired(time.Now()) {
		apt.RespondError(w, http.StatusNotFound, "Notification not found")
		return
	}

	if n.Read {
		apt.RespondSuccess(w, n)
		return
	}

	n.MarkRead()
	if err := h.customers.Save(ctx, n); err != nil {
		log.Error("cannot mark notification read", "error", err, "id", id.String())
		apt.RespondError(w, http.StatusInternalServerError, "Could not update notification")
		return
	}

	apt.RespondSuccess(w, n)
}

func (h *Handler) MarkAllCustomerRead(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.MarkAllCustomerRead")
	defer finish()

	log := h.log(r)
	ctx := r.Context()

	customerID, ok := h.recipientID(w, r, customerHeader, log)
	if !ok {
		return
	}

	updated, err := h.customers.MarkAllRead(ctx, customerID, time.Now())
	if err != nil {
		log.Error("cannot mark all notifications read", "error", err, "customer_id", customerID.String())
		apt.RespondError(w, http.StatusInternalServerError, "Could not update notifications")
		return
	}

	apt.RespondSuccess(w, map[string]int64{"updated": updated})
}

// Rider mailbox

func (h *Handler) ListRiderNotifications(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListRiderNotifications")
	defer finish()

	log := h.log(r)
	ctx := r.Context()

	riderID, ok := h.recipientID(w, r, riderHeader, log)
	if !ok {
		return
	}

	includeRead := r.URL.Query().Get("includeRead") == "true"

	items, err := h.riders.ListByRider(ctx, riderID, includeRead, time.Now())
	if err != nil {
		log.Error("cannot list rider notifications", "error", err, "rider_id", riderID.String())
		apt.RespondError(w, http.StatusInternalServerError, "Could not retrieve notifications")
		return
	}

	apt.RespondCollection(w, items, "rider-notification")
}

func (h *Handler) CountRiderUnread(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CountRiderUnread")
	defer finish()

	log := h.log(r)
	ctx := r.Context()

	riderID, ok := h.recipientID(w, r, riderHeader, log)
	if !ok {
		return
	}

	count, err := h.riders.CountUnread(ctx, riderID, time.Now())
	if err != nil {
		log.Error("cannot count rider unread notifications", "error", err, "rider_id", riderID.String())
		apt.RespondError(w, http.StatusInternalServerError, "Could not count notifications")
		return
	}

	apt.RespondSuccess(w, map[string]int64{"unread_count": count, "count": count})
}

func (h *Handler) MarkRiderRead(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.MarkRiderRead")
	defer finish()

	log := h.log(r)
	ctx := r.Context()

	riderID, ok := h.recipientID(w, r, riderHeader, log)
	if !ok {
		return
	}

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	n, err := h.riders.Get(ctx, id)
	if err != nil {
		log.Error("error loading rider notification", "error", err, "id", id.String())
		apt.RespondError(w, http.StatusNotFound, "Notification not found")
		return
	}

	if n == nil || n.RiderID != riderID || n.Expired(time.Now()) {
		apt.RespondError(w, http.StatusNotFound, "Notification not found")
		return
	}

	if n.Read {
		apt.RespondSuccess(w, n)
		return
	}

	n.MarkRead()
	if err := h.riders.Save(ctx, n); err != nil {
		log.Error("cannot mark rider notification read", "error", err, "id", id.String())
		apt.RespondError(w, http.StatusInternalServerError, "Could not update notification")
		return
	}

	apt.RespondSuccess(w, n)
}

func (h *Handler) MarkAllRiderRead(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.MarkAllRiderRead")
	defer finish()

	log := h.log(r)
	ctx := r.Context()

	riderID, ok := h.recipientID(w, r, riderHeader, log)
	if !ok {
		return
	}

	updated, err := h.riders.MarkAllRead(ctx, riderID, time.Now())
	if err != nil {
		log.Error("cannot mark all rider notifications read", "error", err, "rider_id", riderID.String())
		apt.RespondError(w, http.StatusInternalServerError, "Could not update notifications")
		return
	}

	apt.RespondSuccess(w, map[string]int64{"updated": updated})
}

// Helpers

func (h *Handler) recipientID(w http.ResponseWriter, r *http.Request, header string, log apt.Logger) (uuid.UUID, bool) {
	raw := r.Header.Get(header)
	if raw == "" {
		log.Debug("missing recipient header", "header", header)
		apt.RespondError(w, http.StatusBadRequest, "Missing recipient identity")
		return uuid.Nil, false
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		log.Debug("invalid recipient header", "header", header, "value", raw)
		apt.RespondError(w, http.StatusBadRequest, "Invalid recipient identity")
		return uuid.Nil, false
	}

	return id, true
}

func (h *Handler) parseIDParam(w http.ResponseWriter, r *http.Request, log apt.Logger) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	if idStr == "" {
		log.Debug("missing id parameter")
		apt.RespondError(w, http.StatusBadRequest, "Missing id parameter")
		return uuid.Nil, false
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		log.Debug("invalid id parameter", "id", idStr)
		apt.RespondError(w, http.StatusBadRequest, "Invalid id parameter")
		return uuid.Nil, false
	}

	return id, true
}

func (h *Handler) log(r *http.Request) apt.Logger {
	return h.logger.With("request_id", apt.RequestIDFrom(r.Context()))
}
