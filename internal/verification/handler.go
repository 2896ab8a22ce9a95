package verification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/courierclub/courier/internal/notification"
	"github.com/courierclub/courier/pkg/event"
)

const MaxBodyBytes = 1 << 20

const customerHeader = "X-Customer-ID"

type Handler struct {
	logger    apt.Logger
	config    *apt.Config
	tlm       *telemetry.HTTP
	proposals ProposalRepo
	customers notification.Repo
	riders    notification.RiderRepo
	publisher events.Publisher
}

type HandlerDeps struct {
	ProposalRepo ProposalRepo
	CustomerRepo notification.Repo
	RiderRepo    notification.RiderRepo
	Publisher    events.Publisher
}

func NewHandler(hd HandlerDeps, config *apt.Config, logger apt.Logger) *Handler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Handler{
		logger:    logger,
		config:    config,
		tlm:       telemetry.NewHTTP(),
		proposals: hd.ProposalRepo,
		customers: hd.CustomerRepo,
		riders:    hd.RiderRepo,
		publisher: hd.Publisher,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Put("/riders/orders/{orderID}/update", h.SubmitOrderChange)

	r.Route("/verifications", func(r chi.Router) {
		r.Get("/", h.ListPendingVerifications)
		r.Post("/{id}/decision", h.DecideVerification)
	})

	r.Get("/orders/{orderID}/verifications/pending", h.GetPendingForOrder)
}

// Request payloads

type OrderChangeRequest struct {
	CustomerID           uuid.UUID        `json:"customer_id"`
	RiderID              uuid.UUID        `json:"rider_id"`
	OrderKind            OrderKind        `json:"order_kind"`
	OriginalItems        []Item           `json:"original_items"`
	Items                []Item           `json:"items"`
	Notes                string           `json:"notes"`
	RequiresVerification bool             `json:"requires_verification"`
	NotificationData     NotificationData `json:"notification_data"`
}

type NotificationData struct {
	AdminCorrection bool `json:"admin_correction"`
}

type DecisionRequest struct {
	Approved bool `json:"approved"`
}

// SubmitOrderChange receives a rider's proposed order change, supersedes any
// previously pending proposal for the order and creates exactly one customer
// notification referencing the new proposal. The order itself is not
// finalized here; it stays pending until the customer decides.
func (h *Handler) SubmitOrderChange(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.SubmitOrderChange")
	defer finish()

	log := h.log(r)
	ctx := r.Context()

	orderIDStr := chi.URLParam(r, "orderID")
	orderID, err := uuid.Parse(orderIDStr)
	if err != nil {
		log.Debug("invalid order ID", "order_id", orderIDStr)
		apt.RespondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	var req OrderChangeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes)).Decode(&req); err != nil {
		log.Debug("invalid order change payload", "error", err)
		apt.RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if !req.RequiresVerification {
		apt.RespondError(w, http.StatusBadRequest, "Direct updates are not supported, requires_verification must be true")
		return
	}
	if req.Items == nil {
		apt.RespondError(w, http.StatusBadRequest, "items are required")
		return
	}
	if req.CustomerID == uuid.Nil || req.RiderID == uuid.Nil {
		apt.RespondError(w, http.StatusBadRequest, "customer_id and rider_id are required")
		return
	}
	if req.OrderKind == "" {
		req.OrderKind = OrderKindRegular
	}

	// Supersession: a newer proposal replaces the pending one, and the
	// customer must only ever see the replacement. The expire is conditional
	// on the old proposal still being pending, and the insert is backed by a
	// unique pending-per-order index; losing either race means someone else
	// changed the order's pending proposal, so check again.
	p := NewProposal(orderID, req.OrderKind, req.CustomerID, req.RiderID, req.OriginalItems, req.Items, req.Notes)
	var supersededID uuid.UUID
	created := false
	for attempt := 0; attempt < 2 && !created; attempt++ {
		existing, err := h.proposals.PendingByOrder(ctx, orderID)
		if err != nil {
			log.Error("cannot check pending proposal", "error", err, "order_id", orderID.String())
			apt.RespondError(w, http.StatusInternalServerError, "Could not submit order change")
			return
		}
		if existing != nil {
			if err := existing.Expire(); err != nil {
				continue
			}
			err := h.proposals.SaveFromPending(ctx, existing)
			if errors.Is(err, ErrNotPending) {
				// A concurrent decision, sweep or submission got there first.
				continue
			}
			if err != nil {
				log.Error("cannot expire superseded proposal", "error", err, "proposal_id", existing.ID.String())
				apt.RespondError(w, http.StatusInternalServerError, "Could not submit order change")
				return
			}
			supersededID = existing.ID
			if err := h.customers.DeleteByVerification(ctx, existing.ID); err != nil {
				log.Error("cannot retract superseded notification", "error", err, "proposal_id", existing.ID.String())
				// best effort: the envelope also dies at its TTL
			}
		}

		err = h.proposals.Create(ctx, p)
		if errors.Is(err, ErrDuplicatePending) {
			// Lost the insert race; supersede the winner on the next pass.
			continue
		}
		if err != nil {
			log.Error("cannot create proposal", "error", err, "order_id", orderID.String())
			apt.RespondError(w, http.StatusInternalServerError, "Could not submit order change")
			return
		}
		created = true
	}
	if !created {
		log.Info("order change submission lost its race twice", "order_id", orderID.String())
		apt.RespondError(w, http.StatusConflict, "Another change for this order is being submitted")
		return
	}

	n := notification.NewPriceChange(p.CustomerID, p.OrderID, p.ID, p.PriceDelta(), req.NotificationData.AdminCorrection)
	notificationCreated := true
	if err := h.customers.Create(ctx, n); err != nil {
		log.Error("cannot create customer notification", "error", err, "proposal_id", p.ID.String())
		notificationCreated = false
	}

	h.publishSubmitted(ctx, p, supersededID)

	log.Info("order change submitted",
		"proposal_id", p.ID.String(),
		"order_id", p.OrderID.String(),
		"price_change", p.PriceDelta(),
		"superseded_id", supersededID.String(),
	)

	apt.RespondSuccess(w, map[string]interface{}{
		"proposal_id":          p.ID.String(),
		"total_price":          p.UpdatedTotal(),
		"price_change":         p.PriceDelta(),
		"status":               p.Status,
		"notification_created": notificationCreated,
	})
}

// ListPendingVerifications returns the customer's decidable proposals,
// highest priority first, oldest first within a priority.
func (h *Handler) ListPendingVerifications(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListPendingVerifications")
	defer finish()

	log := h.log(r)
	ctx := r.Context()

	customerID, ok := h.customerID(w, r, log)
	if !ok {
		return
	}

	proposals, err := h.proposals.ListPendingByCustomer(ctx, customerID)
	if err != nil {
		log.Error("cannot list pending verifications", "error", err, "customer_id", customerID.String())
		apt.RespondError(w, http.StatusInternalServerError, "Could not retrieve verifications")
		return
	}

	now := time.Now()
	decidable := proposals[:0]
	for _, p := range proposals {
		if p.TimedOut(now) {
			continue
		}
		decidable = append(decidable, p)
	}

	SortPending(decidable)
	apt.RespondCollection(w, decidable, "verification")
}

// GetPendingForOrder is the reconciliation read for one order.
func (h *Handler) GetPendingForOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetPendingForOrder")
	defer finish()

	log := h.log(r)
	ctx := r.Context()

	orderIDStr := chi.URLParam(r, "orderID")
	orderID, err := uuid.Parse(orderIDStr)
	if err != nil {
		log.Debug("invalid order ID", "order_id", orderIDStr)
		apt.RespondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	p, err := h.proposals.PendingByOrder(ctx, orderID)
	if err != nil {
		log.Error("cannot get pending proposal", "error", err, "order_id", orderID.String())
		apt.RespondError(w, http.StatusInternalServerError, "Could not retrieve verification")
		return
	}

	if p == nil || p.TimedOut(time.Now()) {
		apt.RespondError(w, http.StatusNotFound, "No pending verification for order")
		return
	}

	apt.RespondSuccess(w, p)
}

// DecideVerification applies the customer decision exactly once. Deciding an
// already-terminal proposal is not an error: duplicate submissions (double
// click, retried call, second tab) get a success response and no side
// effects, so no duplicate rider notification can exist.
func (h *Handler) DecideVerification(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.DecideVerification")
	defer finish()

	log := h.log(r)
	ctx := r.Context()

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	var req DecisionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes)).Decode(&req); err != nil {
		log.Debug("invalid decision payload", "error", err)
		apt.RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	p, err := h.proposals.Get(ctx, id)
	if err != nil {
		log.Error("error loading proposal", "error", err, "id", id.String())
		apt.RespondError(w, http.StatusNotFound, "Verification not found")
		return
	}
	if p == nil {
		apt.RespondError(w, http.StatusNotFound, "Verification not found")
		return
	}

	if p.IsTerminal() {
		apt.RespondSuccess(w, map[string]interface{}{
			"success": true,
			"message": "Verification already processed",
			"status":  p.Status,
		})
		return
	}

	if req.Approved {
		err = p.Approve()
	} else {
		err = p.Reject()
	}
	if err != nil {
		// Raced with the sweeper; the terminal state stands.
		apt.RespondSuccess(w, map[string]interface{}{
			"success": true,
			"message": "Verification already processed",
			"status":  p.Status,
		})
		return
	}

	// The save matches only while the stored proposal is still pending, so
	// of two concurrent decisions exactly one reaches the side effects.
	if err := h.proposals.SaveFromPending(ctx, p); err != nil {
		if errors.Is(err, ErrNotPending) {
			status := p.Status
			if stored, gerr := h.proposals.Get(ctx, id); gerr == nil && stored != nil {
				status = stored.Status
			}
			apt.RespondSuccess(w, map[string]interface{}{
				"success": true,
				"message": "Verification already processed",
				"status":  status,
			})
			return
		}
		log.Error("cannot save decision", "error", err, "id", id.String())
		apt.RespondError(w, http.StatusInternalServerError, "Could not process verification")
		return
	}

	outcome := notification.NewRiderOutcome(p.RiderID, p.OrderID, p.ID, req.Approved)
	if err := h.riders.Create(ctx, outcome); err != nil {
		log.Error("cannot create rider notification", "error", err, "proposal_id", p.ID.String())
	}

	h.publishDecided(ctx, p, req.Approved)

	log.Info("verification decided",
		"proposal_id", p.ID.String(),
		"order_id", p.OrderID.String(),
		"approved", req.Approved,
	)

	message := "Verification approved"
	if !req.Approved {
		message = "Verification rejected"
	}
	apt.RespondSuccess(w, map[string]interface{}{
		"success": true,
		"message": message,
		"status":  p.Status,
	})
}

// Event publication

func (h *Handler) publishSubmitted(ctx context.Context, p *Proposal, supersededID uuid.UUID) {
	if h.publisher == nil {
		return
	}

	evt := event.ProposalSubmittedEvent{
		EventType:   event.EventProposalSubmitted,
		OccurredAt:  time.Now(),
		ProposalID:  p.ID.String(),
		OrderID:     p.OrderID.String(),
		OrderKind:   string(p.OrderKind),
		CustomerID:  p.CustomerID.String(),
		RiderID:     p.RiderID.String(),
		PriceChange: p.PriceDelta(),
		Priority:    string(p.Priority),
		ExpiresAt:   p.ExpiresAt,
	}
	if supersededID != uuid.Nil {
		evt.SupersededID = supersededID.String()
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := h.publisher.Publish(ctx, event.VerificationsTopic, payload); err != nil {
		h.logger.Info("cannot publish proposal submission", "error", err, "proposal_id", p.ID.String())
	}
}

func (h *Handler) publishDecided(ctx context.Context, p *Proposal, approved bool) {
	if h.publisher == nil {
		return
	}

	evt := event.ProposalDecidedEvent{
		EventType:  event.EventProposalDecided,
		OccurredAt: time.Now(),
		ProposalID: p.ID.String(),
		OrderID:    p.OrderID.String(),
		CustomerID: p.CustomerID.String(),
		RiderID:    p.RiderID.String(),
		Approved:   approved,
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := h.publisher.Publish(ctx, event.VerificationsTopic, payload); err != nil {
		h.logger.Info("cannot publish proposal decision", "error", err, "proposal_id", p.ID.String())
	}
}

// Helpers

func (h *Handler) customerID(w http.ResponseWriter, r *http.Request, log apt.Logger) (uuid.UUID, bool) {
	raw := r.Header.Get(customerHeader)
	if raw == "" {
		log.Debug("missing customer header")
		apt.RespondError(w, http.StatusBadRequest, "Missing recipient identity")
		return uuid.Nil, false
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		log.Debug("invalid customer header", "value", raw)
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
