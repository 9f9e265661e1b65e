package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"purchases/internal/orders"
	"purchases/models"
)

type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{db: db}
}

// notFound переводит пустую выборку в типизированную ошибку движка.
func notFound(err error, what string, id int) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", what, id, orders.ErrNotFound)
	}
	return err
}

// Company (Компания)

func (s *Storage) CreateCompany(ctx context.Context, c *models.Company) error {
	query := `
        INSERT INTO company (name)
        VALUES ($1)
        RETURNING id, created_at, updated_at`
	return s.db.QueryRowContext(ctx, query, c.Name).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

func (s *Storage) GetCompany(ctx context.Context, id int) (*models.Company, error) {
	c := &models.Company{}
	query := `SELECT * FROM company WHERE id=$1`
	if err := s.db.GetContext(ctx, c, query, id); err != nil {
		return nil, notFound(err, "company", id)
	}
	return c, nil
}

// PurchaseOrder (Заказ)

func (s *Storage) CreateOrder(ctx context.Context, o *models.PurchaseOrder) error {
	query := `
        INSERT INTO purchase_order
            (order_number, buyer_company_id, seller_company_id, product_ref,
             quantity, unit, unit_price, delivery_date, delivery_location, notes,
             status, parent_po_id, version)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1)
        RETURNING id, version, created_at, updated_at`
	return s.db.QueryRowContext(ctx, query,
		o.OrderNumber, o.BuyerCompanyID, o.SellerCompanyID, o.ProductRef,
		o.Quantity, o.Unit, o.UnitPrice, o.DeliveryDate, o.DeliveryLocation, o.Notes,
		o.Status, o.ParentPOID).
		Scan(&o.ID, &o.Version, &o.CreatedAt, &o.UpdatedAt)
}

func (s *Storage) GetOrder(ctx context.Context, id int) (*models.PurchaseOrder, error) {
	o := &models.PurchaseOrder{}
	query := `SELECT * FROM purchase_order WHERE id=$1`
	if err := s.db.GetContext(ctx, o, query, id); err != nil {
		return nil, notFound(err, "order", id)
	}
	return o, nil
}

// UpdateOrder пишет заказ с оптимистической проверкой версии: если запись
// успела измениться, обновление не применяется и вызывающая сторона повторяет
// операцию целиком.
func (s *Storage) UpdateOrder(ctx context.Context, o *models.PurchaseOrder) error {
	return s.updateOrderTx(ctx, s.db, o)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *Storage) updateOrderTx(ctx context.Context, ex execer, o *models.PurchaseOrder) error {
	query := `
        UPDATE purchase_order
        SET product_ref=$1, quantity=$2, unit=$3, unit_price=$4,
            delivery_date=$5, delivery_location=$6, notes=$7,
            confirmed_quantity=$8, confirmed_unit_price=$9,
            confirmed_delivery_date=$10, confirmed_delivery_location=$11,
            seller_notes=$12, confirmed_at=$13,
            status=$14, amendment_count=$15, last_amended_at=$16,
            version=version+1, updated_at=NOW()
        WHERE id=$17 AND version=$18`
	res, err := ex.ExecContext(ctx, query,
		o.ProductRef, o.Quantity, o.Unit, o.UnitPrice,
		o.DeliveryDate, o.DeliveryLocation, o.Notes,
		o.ConfirmedQuantity, o.ConfirmedUnitPrice,
		o.ConfirmedDeliveryDate, o.ConfirmedDeliveryLocation,
		o.SellerNotes, o.ConfirmedAt,
		o.Status, o.AmendmentCount, o.LastAmendedAt,
		o.ID, o.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("order %d: version conflict at version %d", o.ID, o.Version)
	}
	o.Version++
	return nil
}

func (s *Storage) ListOrders(ctx context.Context, companyID int, statuses []models.OrderStatus, limit, offset int) ([]models.PurchaseOrder, error) {
	query := `
        SELECT * FROM purchase_order
        WHERE (buyer_company_id = $1 OR seller_company_id = $1)`
	args := []interface{}{companyID}
	if len(statuses) > 0 {
		query += ` AND status = ANY($2)`
		ss := make([]string, len(statuses))
		for i, st := range statuses {
			ss[i] = string(st)
		}
		args = append(args, pq.Array(ss))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	out := []models.PurchaseOrder{}
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// Amendment (Поправка)

// CreateAmendment пишет поправку и новый статус заказа одной транзакцией.
func (s *Storage) CreateAmendment(ctx context.Context, a *models.Amendment, o *models.PurchaseOrder) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
        INSERT INTO amendment
            (purchase_order_id, amendment_number, amendment_type, status, changes,
             proposed_by_company_id, requires_approval_from_company_id,
             reason, priority, notes, proposed_at, expires_at)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        RETURNING id`
	if err := tx.QueryRowContext(ctx, query,
		a.PurchaseOrderID, a.AmendmentNumber, a.Type, a.Status, a.Changes,
		a.ProposedByCompanyID, a.RequiresApprovalFromCompanyID,
		a.Reason, a.Priority, a.Notes, a.ProposedAt, a.ExpiresAt).
		Scan(&a.ID); err != nil {
		return err
	}
	if err := s.updateOrderTx(ctx, tx, o); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Storage) GetAmendment(ctx context.Context, id int) (*models.Amendment, error) {
	a := &models.Amendment{}
	query := `SELECT * FROM amendment WHERE id=$1`
	if err := s.db.GetContext(ctx, a, query, id); err != nil {
		return nil, notFound(err, "amendment", id)
	}
	return a, nil
}

// UpdateAmendment пишет решение по поправке и заказ одной транзакцией:
// либо применяются все изменения полей и смена статуса, либо ничего.
func (s *Storage) UpdateAmendment(ctx context.Context, a *models.Amendment, o *models.PurchaseOrder) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
        UPDATE amendment
        SET status=$1, notes=$2, approved_at=$3, applied_at=$4
        WHERE id=$5`
	if _, err := tx.ExecContext(ctx, query,
		a.Status, a.Notes, a.ApprovedAt, a.AppliedAt, a.ID); err != nil {
		return err
	}
	if err := s.updateOrderTx(ctx, tx, o); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Storage) GetPendingAmendment(ctx context.Context, orderID int) (*models.Amendment, error) {
	a := &models.Amendment{}
	query := `SELECT * FROM amendment WHERE purchase_order_id=$1 AND status='pending'`
	err := s.db.GetContext(ctx, a, query, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Storage) CountAmendments(ctx context.Context, orderID int) (int, error) {
	var count int
	query := `SELECT COUNT(1) FROM amendment WHERE purchase_order_id=$1`
	err := s.db.GetContext(ctx, &count, query, orderID)
	return count, err
}

func (s *Storage) ListAmendments(ctx context.Context, orderID int) ([]models.Amendment, error) {
	out := []models.Amendment{}
	query := `
        SELECT * FROM amendment
        WHERE purchase_order_id=$1
        ORDER BY amendment_number ASC`
	err := s.db.SelectContext(ctx, &out, query, orderID)
	return out, err
}

// ExpireAmendments переводит просроченные нерассмотренные поправки в expired
// и возвращает их заказы из amendment_pending в confirmed. Запуск повторно
// безопасен: повторный проход ничего не находит.
func (s *Storage) ExpireAmendments(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var ids []int
	query := `
        UPDATE amendment
        SET status='expired'
        WHERE status='pending' AND expires_at IS NOT NULL AND expires_at < $1
        RETURNING purchase_order_id`
	if err := tx.SelectContext(ctx, &ids, query, now); err != nil {
		return 0, err
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
            UPDATE purchase_order
            SET status='confirmed', version=version+1, updated_at=NOW()
            WHERE id=$1 AND status='amendment_pending'`, id); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(ids), nil
}
