package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"purchases/models"
)

// ProposeAmendment создает поправку к подтвержденному заказу. Одновременно
// может ждать решения только одна поправка; пустой набор изменений и короткая
// причина отклоняются до любой записи.
func (e *Engine) ProposeAmendment(ctx context.Context, orderID, proposerCompanyID int, cs models.ChangeSet, reason string, priority models.Priority, expiresAt *time.Time) (*models.Amendment, error) {
	if len(strings.TrimSpace(reason)) < minReasonLen {
		return nil, fmt.Errorf("amendment reason must be at least %d characters: %w", minReasonLen, ErrValidation)
	}
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("unknown priority %q: %w", priority, ErrValidation)
	}

	unlock := e.lockOrder(orderID)
	defer unlock()

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == models.OrderAmendmentPending {
		return nil, fmt.Errorf("order %s already has a pending amendment: %w", o.OrderNumber, ErrConflictingAmendment)
	}
	if _, err := authorize(o, proposerCompanyID, ActionProposeAmendment); err != nil {
		return nil, err
	}
	if pending, err := e.store.GetPendingAmendment(ctx, orderID); err != nil {
		return nil, err
	} else if pending != nil {
		return nil, fmt.Errorf("order %s already has a pending amendment: %w", o.OrderNumber, ErrConflictingAmendment)
	}

	changes, err := diffChangeSet(o, cs)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, fmt.Errorf("amendment changes nothing: %w", ErrValidation)
	}

	counterparty, _ := o.Counterparty(proposerCompanyID)
	seq, err := e.store.CountAmendments(ctx, orderID)
	if err != nil {
		return nil, err
	}

	a := &models.Amendment{
		PurchaseOrderID:               o.ID,
		AmendmentNumber:               seq + 1,
		Type:                          amendmentType(changes),
		Status:                        models.AmendmentPending,
		Changes:                       changes,
		ProposedByCompanyID:           proposerCompanyID,
		RequiresApprovalFromCompanyID: counterparty,
		Reason:                        strings.TrimSpace(reason),
		Priority:                      priority,
		ProposedAt:                    time.Now().UTC(),
		ExpiresAt:                     expiresAt,
	}
	o.Status = models.OrderAmendmentPending

	// Поправка и смена статуса заказа пишутся одной транзакцией
	if err := e.store.CreateAmendment(ctx, a, o); err != nil {
		return nil, err
	}
	e.emit(EventAmendmentProposed, o, a.ID)
	return a, nil
}

// ResolveAmendment — решение контрагента по поправке. Одобрить или отклонить
// может только компания, у которой запрошено одобрение, и никогда автор.
// Оба исхода возвращают заказ в статус confirmed.
func (e *Engine) ResolveAmendment(ctx context.Context, amendmentID, approverCompanyID int, approve bool, notes string) (*models.Amendment, error) {
	a, err := e.store.GetAmendment(ctx, amendmentID)
	if err != nil {
		return nil, err
	}

	unlock := e.lockOrder(a.PurchaseOrderID)
	defer unlock()

	// Перечитываем под блокировкой
	a, err = e.store.GetAmendment(ctx, amendmentID)
	if err != nil {
		return nil, err
	}
	// Повтор уже примененного решения — no-op
	if approve && a.Status == models.AmendmentApplied {
		return a, nil
	}
	if !approve && a.Status == models.AmendmentRejected {
		return a, nil
	}
	if a.Status != models.AmendmentPending {
		return nil, fmt.Errorf("amendment %d is %s, not pending: %w", a.ID, a.Status, ErrInvalidTransition)
	}
	if approverCompanyID != a.RequiresApprovalFromCompanyID {
		return nil, fmt.Errorf("amendment %d must be resolved by company %d: %w", a.ID, a.RequiresApprovalFromCompanyID, ErrUnauthorized)
	}

	o, err := e.store.GetOrder(ctx, a.PurchaseOrderID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	event := EventAmendmentRejected
	if approve {
		a.Status = models.AmendmentApproved
		a.ApprovedAt = &now
		if err := applyChanges(o, a.Changes); err != nil {
			return nil, err
		}
		a.Status = models.AmendmentApplied
		a.AppliedAt = &now
		o.AmendmentCount++
		o.LastAmendedAt = &now
		event = EventAmendmentApplied
	} else {
		a.Status = models.AmendmentRejected
	}
	if notes != "" {
		n := notes
		a.Notes = &n
	}
	o.Status = models.OrderConfirmed

	// Обновление поправки и заказа — одна транзакция: либо применяются все
	// изменения полей и смена статуса, либо ничего
	if err := e.store.UpdateAmendment(ctx, a, o); err != nil {
		return nil, err
	}
	e.emit(event, o, a.ID)
	return a, nil
}

// ExpireStale переводит просроченные нерассмотренные поправки в expired.
// Идемпотентно: повторный запуск ничего не ломает.
func (e *Engine) ExpireStale(ctx context.Context) (int, error) {
	return e.store.ExpireAmendments(ctx, time.Now().UTC())
}

// diffChangeSet сравнивает предлагаемые значения с действующими условиями
// заказа и оставляет только реальные изменения, в фиксированном порядке полей.
func diffChangeSet(o *models.PurchaseOrder, cs models.ChangeSet) (models.AmendmentChanges, error) {
	var changes models.AmendmentChanges

	if cs.Quantity != nil && !cs.Quantity.Equal(o.Quantity) {
		if cs.Quantity.Sign() <= 0 {
			return nil, fmt.Errorf("proposed quantity must be positive: %w", ErrValidation)
		}
		changes = append(changes, models.AmendmentChange{
			Field:         models.FieldQuantity,
			OriginalValue: o.Quantity.String(),
			ProposedValue: cs.Quantity.String(),
		})
	}
	if cs.UnitPrice != nil && !cs.UnitPrice.Equal(o.UnitPrice) {
		if cs.UnitPrice.Sign() <= 0 {
			return nil, fmt.Errorf("proposed unit price must be positive: %w", ErrValidation)
		}
		changes = append(changes, models.AmendmentChange{
			Field:         models.FieldUnitPrice,
			OriginalValue: o.UnitPrice.String(),
			ProposedValue: cs.UnitPrice.String(),
		})
	}
	if cs.DeliveryDate != nil && !sameDate(*cs.DeliveryDate, o.DeliveryDate) {
		changes = append(changes, models.AmendmentChange{
			Field:         models.FieldDeliveryDate,
			OriginalValue: o.DeliveryDate.Format(dateLayout),
			ProposedValue: cs.DeliveryDate.Format(dateLayout),
		})
	}
	if cs.DeliveryLocation != nil && *cs.DeliveryLocation != o.DeliveryLocation {
		if strings.TrimSpace(*cs.DeliveryLocation) == "" {
			return nil, fmt.Errorf("proposed delivery location is empty: %w", ErrValidation)
		}
		changes = append(changes, models.AmendmentChange{
			Field:         models.FieldDeliveryLocation,
			OriginalValue: o.DeliveryLocation,
			ProposedValue: *cs.DeliveryLocation,
		})
	}
	return changes, nil
}

// amendmentType выбирает тип поправки по самому значимому измененному полю:
// количество, затем цена, дата, место.
func amendmentType(changes models.AmendmentChanges) models.AmendmentType {
	byField := map[models.AmendmentField]models.AmendmentType{
		models.FieldQuantity:         models.QuantityChange,
		models.FieldUnitPrice:        models.PriceChange,
		models.FieldDeliveryDate:     models.DeliveryDateChange,
		models.FieldDeliveryLocation: models.LocationChange,
	}
	return byField[changes[0].Field]
}

// applyChanges переносит одобренные значения в действующие и подтвержденные
// условия заказа, чтобы они оставались согласованными.
func applyChanges(o *models.PurchaseOrder, changes models.AmendmentChanges) error {
	for _, ch := range changes {
		switch ch.Field {
		case models.FieldQuantity:
			v, err := decimal.NewFromString(ch.ProposedValue)
			if err != nil {
				return fmt.Errorf("bad proposed quantity %q: %w", ch.ProposedValue, ErrValidation)
			}
			o.Quantity = v
			if o.ConfirmedQuantity != nil {
				o.ConfirmedQuantity = &v
			}
		case models.FieldUnitPrice:
			v, err := decimal.NewFromString(ch.ProposedValue)
			if err != nil {
				return fmt.Errorf("bad proposed unit price %q: %w", ch.ProposedValue, ErrValidation)
			}
			o.UnitPrice = v
			if o.ConfirmedUnitPrice != nil {
				o.ConfirmedUnitPrice = &v
			}
		case models.FieldDeliveryDate:
			v, err := time.Parse(dateLayout, ch.ProposedValue)
			if err != nil {
				return fmt.Errorf("bad proposed delivery date %q: %w", ch.ProposedValue, ErrValidation)
			}
			o.DeliveryDate = v
			if o.ConfirmedDeliveryDate != nil {
				o.ConfirmedDeliveryDate = &v
			}
		case models.FieldDeliveryLocation:
			v := ch.ProposedValue
			o.DeliveryLocation = v
			if o.ConfirmedDeliveryLocation != nil {
				o.ConfirmedDeliveryLocation = &v
			}
		default:
			return fmt.Errorf("unknown amendment field %q: %w", ch.Field, ErrValidation)
		}
	}
	return nil
}
