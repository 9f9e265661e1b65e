package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"purchases/internal/orders"
)

// Handler оборачивает движок жизненного цикла и хранилище для чтений
type Handler struct {
	Engine *orders.Engine
	Store  StorageInterface
}

// NewHandler создает новый Handler
func NewHandler(engine *orders.Engine, store StorageInterface) *Handler {
	return &Handler{Engine: engine, Store: store}
}

// PingHandler отвечает "ok" для проверки сервера
func (h *Handler) PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// writeJSON сериализует ответ
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError переводит типизированные ошибки движка в HTTP-коды.
// Текст ошибки отдается как есть — он предназначен пользователю.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, orders.ErrUnauthorized):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, orders.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, orders.ErrInvalidTransition), errors.Is(err, orders.ErrConflictingAmendment):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// parseIDParam читает целочисленный параметр пути
func parseIDParam(r *http.Request, name string) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || id <= 0 {
		return 0, errors.New("invalid " + name)
	}
	return id, nil
}

// parseCompanyID читает компанию-актора из query
func parseCompanyID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(r.URL.Query().Get("companyId"))
	if err != nil || id <= 0 {
		return 0, errors.New("missing or invalid companyId")
	}
	return id, nil
}

type PaginationParams struct {
	Limit  int
	Offset int
}

// parsePaginationParams парсит limit и offset из query, с дефолтами и ограничениями
func parsePaginationParams(r *http.Request) PaginationParams {
	params := PaginationParams{Limit: 20, Offset: 0}

	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 100 {
		params.Limit = l
	}
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		params.Offset = o
	}
	return params
}
