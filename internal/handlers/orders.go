package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"purchases/models"
)

// CreateOrderHandler обрабатывает POST /api/orders/new
func (h *Handler) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	// Ограничение размера тела, чтобы избежать DoS
	r.Body = http.MaxBytesReader(w, r.Body, 1048576)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var input struct {
		models.PurchaseOrder
		Submit bool `json:"submit"`
	}
	if err := json.Unmarshal(body, &input); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}

	order, err := h.Engine.Create(r.Context(), &input.PurchaseOrder, input.Submit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// GetOrderHandler возвращает заказ по id
func (h *Handler) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	orderID, err := parseIDParam(r, "orderId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	order, err := h.Store.GetOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// ListOrdersHandler возвращает заказы компании с фильтром по статусам
func (h *Handler) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	companyID, err := parseCompanyID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	params := parsePaginationParams(r)

	var statuses []models.OrderStatus
	for _, s := range r.URL.Query()["status"] {
		statuses = append(statuses, models.OrderStatus(s))
	}

	list, err := h.Store.ListOrders(r.Context(), companyID, statuses, params.Limit, params.Offset)
	if err != nil {
		http.Error(w, "Failed to list orders", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// SubmitOrderHandler отправляет черновик продавцу
func (h *Handler) SubmitOrderHandler(w http.ResponseWriter, r *http.Request) {
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

	order, err := h.Engine.Submit(r.Context(), orderID, companyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// ConfirmOrderHandler принимает подтверждение продавца
func (h *Handler) ConfirmOrderHandler(w http.ResponseWriter, r *http.Request) {
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

	var terms models.ConfirmationTerms
	if err := json.NewDecoder(r.Body).Decode(&terms); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	order, err := h.Engine.Confirm(r.Context(), orderID, companyID, terms)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type notesRequest struct {
	Notes string `json:"notes"`
}

func decodeNotes(r *http.Request) string {
	var req notesRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
		r.Body.Close()
	}
	return req.Notes
}

// ApproveConfirmationHandler — покупатель принимает расхождения
func (h *Handler) ApproveConfirmationHandler(w http.ResponseWriter, r *http.Request) {
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

	order, err := h.Engine.ApproveConfirmation(r.Context(), orderID, companyID, decodeNotes(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// RejectConfirmationHandler — покупатель возвращает заказ на переподтверждение
func (h *Handler) RejectConfirmationHandler(w http.ResponseWriter, r *http.Request) {
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

	order, err := h.Engine.RejectConfirmation(r.Context(), orderID, companyID, decodeNotes(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// DeclineOrderHandler — продавец отказывается от заказа
func (h *Handler) DeclineOrderHandler(w http.ResponseWriter, r *http.Request) {
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

	order, err := h.Engine.Decline(r.Context(), orderID, companyID, decodeNotes(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// EditOrderHandler обрабатывает PATCH /api/orders/{orderId}/edit
func (h *Handler) EditOrderHandler(w http.ResponseWriter, r *http.Request) {
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
		models.OrderEdit
		EditReason string `json:"editReason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	order, err := h.Engine.Edit(r.Context(), orderID, companyID, input.OrderEdit, input.EditReason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// AdvanceFulfillmentHandler переводит заказ на следующий этап исполнения,
// целевой статус передается в query
func (h *Handler) AdvanceFulfillmentHandler(w http.ResponseWriter, r *http.Request) {
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
	target := models.OrderStatus(r.URL.Query().Get("status"))
	if target == "" {
		http.Error(w, "Missing status", http.StatusBadRequest)
		return
	}

	order, err := h.Engine.AdvanceFulfillment(r.Context(), orderID, companyID, target)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// CancelOrderHandler отменяет заказ
func (h *Handler) CancelOrderHandler(w http.ResponseWriter, r *http.Request) {
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

	order, err := h.Engine.Cancel(r.Context(), orderID, companyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// GetDiscrepanciesHandler возвращает расхождения между запрошенными и
// подтвержденными условиями
func (h *Handler) GetDiscrepanciesHandler(w http.ResponseWriter, r *http.Request) {
	orderID, err := parseIDParam(r, "orderId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	details, err := h.Engine.Discrepancies(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}
