package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"purchases/models"
)

// ProposeAmendmentHandler обрабатывает POST /api/orders/{orderId}/amendments
func (h *Handler) ProposeAmendmentHandler(w http.ResponseWriter, r *http.Request) {
	orderID, err := parseIDParam(r, "orderId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	companyID, err := parseCompanyID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var input struct {
		Changes   models.ChangeSet `json:"changes"`
		Reason    string           `json:"reason"`
		Priority  models.Priority  `json:"priority"`
		ExpiresAt *time.Time       `json:"expiresAt,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	amendment, err := h.Engine.ProposeAmendment(r.Context(), orderID, companyID,
		input.Changes, input.Reason, input.Priority, input.ExpiresAt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, amendment)
}

// ResolveAmendmentHandler обрабатывает PUT /api/amendments/{amendmentId}/resolve
func (h *Handler) ResolveAmendmentHandler(w http.ResponseWriter, r *http.Request) {
	amendmentID, err := parseIDParam(r, "amendmentId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	companyID, err := parseCompanyID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var input struct {
		Approve bool   `json:"approve"`
		Notes   string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	amendment, err := h.Engine.ResolveAmendment(r.Context(), amendmentID, companyID, input.Approve, input.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, amendment)
}

// ListAmendmentsHandler возвращает поправки заказа по порядку номеров
func (h *Handler) ListAmendmentsHandler(w http.ResponseWriter, r *http.Request) {
	orderID, err := parseIDParam(r, "orderId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	list, err := h.Store.ListAmendments(r.Context(), orderID)
	if err != nil {
		http.Error(w, "Failed to list amendments", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
