package handlers

import (
	"context"

	"purchases/internal/orders"
	"purchases/models"
)

// StorageInterface — все, что нужно обработчикам от хранилища: контракт
// движка плюс выборки для чтения.
type StorageInterface interface {
	orders.Store

	GetCompany(ctx context.Context, id int) (*models.Company, error)
	ListOrders(ctx context.Context, companyID int, statuses []models.OrderStatus, limit, offset int) ([]models.PurchaseOrder, error)
	ListAmendments(ctx context.Context, orderID int) ([]models.Amendment, error)
}
