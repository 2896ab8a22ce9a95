package rider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"

	"github.com/courierclub/courier/internal/resilience"
	"github.com/courierclub/courier/internal/verification"
)

// ChangeSet is what a rider proposes for an order mid-fulfillment.
type ChangeSet struct {
	OrderID         uuid.UUID
	OrderKind       verification.OrderKind
	CustomerID      uuid.UUID
	OriginalItems   []verification.Item
	UpdatedItems    []verification.Item
	Notes           string
	AdminCorrection bool
}

// SubmitResult is the rider surface's view of a submission. Queued means
// the backend could not be reached and the change was not submitted; the
// rider app keeps it for retry rather than failing the flow.
type SubmitResult struct {
	ProposalID  string
	TotalPrice  float64
	PriceChange float64
	Status      string
	Queued      bool
}

// Submitter sends order changes from the rider app to the verification
// backend. Every submission goes through the verification flow; there is no
// direct-update path.
type Submitter struct {
	logger  apt.Logger
	client  *resilience.Client
	baseURL string
	riderID uuid.UUID
}

func NewSubmitter(baseURL string, riderID uuid.UUID, client *resilience.Client, logger apt.Logger) *Submitter {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Submitter{
		logger:  logger,
		client:  client,
		baseURL: baseURL,
		riderID: riderID,
	}
}

type orderChangeRequest struct {
	CustomerID           uuid.UUID           `json:"customer_id"`
	RiderID              uuid.UUID           `json:"rider_id"`
	OrderKind            string              `json:"order_kind"`
	OriginalItems        []verification.Item `json:"original_items"`
	Items                []verification.Item `json:"items"`
	Notes                string              `json:"notes"`
	RequiresVerification bool                `json:"requires_verification"`
	NotificationData     notificationData    `json:"notification_data"`
}

type notificationData struct {
	AdminCorrection bool `json:"admin_correction"`
}

// SubmitChanges proposes an order change. The price change is computed from
// the item lists before anything leaves the device, so a queued submission
// still tells the rider what the customer will be asked to approve.
func (s *Submitter) SubmitChanges(ctx context.Context, cs ChangeSet) (*SubmitResult, error) {
	if cs.OrderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}
	if cs.CustomerID == uuid.Nil {
		return nil, fmt.Errorf("customer id is required")
	}
	if cs.UpdatedItems == nil {
		return nil, fmt.Errorf("updated items are required")
	}
	if cs.OrderKind == "" {
		cs.OrderKind = verification.OrderKindRegular
	}

	total := verification.ItemsTotal(cs.UpdatedItems)
	delta := total - verification.ItemsTotal(cs.OriginalItems)
	if cs.OrderKind == verification.OrderKindQuickPickup {
		delta = total
	}

	body, err := json.Marshal(orderChangeRequest{
		CustomerID:           cs.CustomerID,
		RiderID:              s.riderID,
		OrderKind:            string(cs.OrderKind),
		OriginalItems:        cs.OriginalItems,
		Items:                cs.UpdatedItems,
		Notes:                cs.Notes,
		RequiresVerification: true,
		NotificationData:     notificationData{AdminCorrection: cs.AdminCorrection},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode order change: %w", err)
	}

	url := fmt.Sprintf("%s/riders/orders/%s/update", s.baseURL, cs.OrderID)
	resp, err := s.client.Do(ctx, http.MethodPut, url, body)
	if err != nil {
		if resilience.IsDegraded(err) {
			s.logger.Info("backend unreachable, order change queued",
				"order_id", cs.OrderID.String(),
				"price_change", delta,
			)
			return &SubmitResult{TotalPrice: total, PriceChange: delta, Queued: true}, nil
		}
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("order change submission returned status %d", resp.StatusCode)
	}

	var payload struct {
		Data struct {
			ProposalID  string  `json:"proposal_id"`
			TotalPrice  float64 `json:"total_price"`
			PriceChange float64 `json:"price_change"`
			Status      string  `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode submission response: %w", err)
	}

	s.logger.Info("order change submitted",
		"order_id", cs.OrderID.String(),
		"proposal_id", payload.Data.ProposalID,
		"price_change", payload.Data.PriceChange,
	)

	return &SubmitResult{
		ProposalID:  payload.Data.ProposalID,
		TotalPrice:  payload.Data.TotalPrice,
		PriceChange: payload.Data.PriceChange,
		Status:      payload.Data.Status,
	}, nil
}
