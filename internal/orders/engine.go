package orders

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"purchases/models"
)

// Минимальная длина причины для редактирования и поправок.
const minReasonLen = 10

// Store — контракт хранилища движка. Каждое обновление должно быть атомарным
// по идентификатору заказа; реализация на Postgres использует оптимистическую
// проверку версии. CreateAmendment и UpdateAmendment записывают поправку и
// заказ в одной транзакции.
type Store interface {
	CreateOrder(ctx context.Context, o *models.PurchaseOrder) error
	GetOrder(ctx context.Context, id int) (*models.PurchaseOrder, error)
	UpdateOrder(ctx context.Context, o *models.PurchaseOrder) error

	CreateAmendment(ctx context.Context, a *models.Amendment, o *models.PurchaseOrder) error
	GetAmendment(ctx context.Context, id int) (*models.Amendment, error)
	UpdateAmendment(ctx context.Context, a *models.Amendment, o *models.PurchaseOrder) error
	GetPendingAmendment(ctx context.Context, orderID int) (*models.Amendment, error)
	CountAmendments(ctx context.Context, orderID int) (int, error)
	ExpireAmendments(ctx context.Context, now time.Time) (int, error)
}

// Engine выполняет переходы жизненного цикла заказа. Каждая мутирующая
// операция захватывает блокировку по id заказа на время чтения-изменения-записи.
type Engine struct {
	store    Store
	notifier Notifier
	locks    sync.Map // int -> *sync.Mutex
}

// NewEngine создает движок поверх хранилища. notifier может быть nil.
func NewEngine(store Store, notifier Notifier) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Engine{store: store, notifier: notifier}
}

func (e *Engine) lockOrder(id int) func() {
	v, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// emit отправляет событие после успешной записи. Уведомление никогда не
// откатывает переход.
func (e *Engine) emit(t EventType, o *models.PurchaseOrder, amendmentID int) {
	e.notifier.Notify(Event{
		Type:        t,
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Status:      o.Status,
		AmendmentID: amendmentID,
		OccurredAt:  time.Now().UTC(),
	})
}

// Create создает заказ от имени покупателя. При submitNow заказ сразу уходит
// продавцу, иначе остается черновиком.
func (e *Engine) Create(ctx context.Context, o *models.PurchaseOrder, submitNow bool) (*models.PurchaseOrder, error) {
	if o.BuyerCompanyID <= 0 || o.SellerCompanyID <= 0 {
		return nil, fmt.Errorf("buyer and seller companies are required: %w", ErrValidation)
	}
	if o.BuyerCompanyID == o.SellerCompanyID {
		return nil, fmt.Errorf("buyer and seller must differ: %w", ErrValidation)
	}
	if err := validateRequestedTerms(o); err != nil {
		return nil, err
	}
	if o.ParentPOID != nil {
		// Ссылка на родителя только вперед: родитель должен существовать,
		// сам он на потомка никогда не ссылается.
		if _, err := e.store.GetOrder(ctx, *o.ParentPOID); err != nil {
			return nil, fmt.Errorf("parent order %d: %w", *o.ParentPOID, err)
		}
	}

	o.OrderNumber = newOrderNumber()
	o.Status = models.OrderDraft
	if submitNow {
		o.Status = models.OrderPending
	}
	o.ConfirmedQuantity, o.ConfirmedUnitPrice = nil, nil
	o.ConfirmedDeliveryDate, o.ConfirmedDeliveryLocation = nil, nil
	o.SellerNotes, o.ConfirmedAt = nil, nil
	o.AmendmentCount = 0
	o.LastAmendedAt = nil

	if err := e.store.CreateOrder(ctx, o); err != nil {
		return nil, err
	}
	if o.Status == models.OrderPending {
		e.emit(EventOrderSubmitted, o, 0)
	}
	return o, nil
}

// Submit отправляет черновик продавцу. Повторная отправка уже отправленного
// заказа — no-op.
func (e *Engine) Submit(ctx context.Context, orderID, actorCompanyID int) (*models.PurchaseOrder, error) {
	unlock := e.lockOrder(orderID)
	defer unlock()

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == models.OrderPending {
		return o, nil
	}
	if _, err := authorize(o, actorCompanyID, ActionSubmit); err != nil {
		return nil, err
	}
	if err := validateRequestedTerms(o); err != nil {
		return nil, err
	}

	o.Status = models.OrderPending
	if err := e.store.UpdateOrder(ctx, o); err != nil {
		return nil, err
	}
	e.emit(EventOrderSubmitted, o, 0)
	return o, nil
}

// Confirm фиксирует подтверждение продавца. Незаполненные поля условий
// считаются принятыми как запрошено. При любом расхождении заказ уходит на
// одобрение покупателю, иначе сразу становится подтвержденным. Повтор того же
// подтверждения — no-op.
func (e *Engine) Confirm(ctx context.Context, orderID, actorCompanyID int, terms models.ConfirmationTerms) (*models.PurchaseOrder, error) {
	unlock := e.lockOrder(orderID)
	defer unlock()

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if (o.Status == models.OrderConfirmed || o.Status == models.OrderAwaitingBuyerApproval) &&
		sameConfirmation(o, terms) {
		return o, nil
	}
	if _, err := authorize(o, actorCompanyID, ActionConfirm); err != nil {
		return nil, err
	}

	qty := valueOr(terms.Quantity, o.Quantity)
	price := valueOr(terms.UnitPrice, o.UnitPrice)
	date := valueOr(terms.DeliveryDate, o.DeliveryDate)
	loc := valueOr(terms.DeliveryLocation, o.DeliveryLocation)
	if qty.Sign() <= 0 {
		return nil, fmt.Errorf("confirmed quantity must be positive: %w", ErrValidation)
	}
	if price.Sign() <= 0 {
		return nil, fmt.Errorf("confirmed unit price must be positive: %w", ErrValidation)
	}

	now := time.Now().UTC()
	o.ConfirmedQuantity = &qty
	o.ConfirmedUnitPrice = &price
	o.ConfirmedDeliveryDate = &date
	o.ConfirmedDeliveryLocation = &loc
	o.ConfirmedAt = &now
	if terms.SellerNotes != "" {
		o.SellerNotes = &terms.SellerNotes
	}

	event := EventOrderConfirmed
	o.Status = models.OrderConfirmed
	if len(Detect(o)) > 0 {
		o.Status = models.OrderAwaitingBuyerApproval
		event = EventOrderAwaitingApproval
	}

	if err := e.store.UpdateOrder(ctx, o); err != nil {
		return nil, err
	}
	e.emit(event, o, 0)
	return o, nil
}

// ApproveConfirmation — покупатель принимает расхождения; подтвержденные
// условия становятся действующими условиями заказа.
func (e *Engine) ApproveConfirmation(ctx context.Context, orderID, actorCompanyID int, notes string) (*models.PurchaseOrder, error) {
	unlock := e.lockOrder(orderID)
	defer unlock()

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == models.OrderConfirmed {
		return o, nil
	}
	if _, err := authorize(o, actorCompanyID, ActionApproveConfirm); err != nil {
		return nil, err
	}

	o.Quantity = *o.ConfirmedQuantity
	o.UnitPrice = *o.ConfirmedUnitPrice
	o.DeliveryDate = *o.ConfirmedDeliveryDate
	o.DeliveryLocation = *o.ConfirmedDeliveryLocation
	if notes != "" {
		o.Notes = notes
	}
	o.Status = models.OrderConfirmed

	if err := e.store.UpdateOrder(ctx, o); err != nil {
		return nil, err
	}
	e.emit(EventConfirmationApproved, o, 0)
	return o, nil
}

// RejectConfirmation — покупатель отклоняет расхождения; заказ возвращается
// продавцу на повторное подтверждение, подтвержденные условия сбрасываются.
func (e *Engine) RejectConfirmation(ctx context.Context, orderID, actorCompanyID int, notes string) (*models.PurchaseOrder, error) {
	unlock := e.lockOrder(orderID)
	defer unlock()

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == models.OrderPending && o.ConfirmedAt == nil {
		// Повтор уже примененного отклонения
		if _, err := roleOf(o, actorCompanyID); err != nil {
			return nil, err
		}
		return o, nil
	}
	if _, err := authorize(o, actorCompanyID, ActionRejectConfirm); err != nil {
		return nil, err
	}

	o.ConfirmedQuantity, o.ConfirmedUnitPrice = nil, nil
	o.ConfirmedDeliveryDate, o.ConfirmedDeliveryLocation = nil, nil
	o.SellerNotes, o.ConfirmedAt = nil, nil
	if notes != "" {
		o.Notes = notes
	}
	o.Status = models.OrderPending

	if err := e.store.UpdateOrder(ctx, o); err != nil {
		return nil, err
	}
	e.emit(EventConfirmationRejected, o, 0)
	return o, nil
}

// Decline — продавец отказывается от заказа. Конечный статус, заказ не удаляется.
func (e *Engine) Decline(ctx context.Context, orderID, actorCompanyID int, notes string) (*models.PurchaseOrder, error) {
	unlock := e.lockOrder(orderID)
	defer unlock()

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == models.OrderDeclined {
		return o, nil
	}
	if _, err := authorize(o, actorCompanyID, ActionDecline); err != nil {
		return nil, err
	}
	if notes != "" {
		sn := notes
		o.SellerNotes = &sn
	}
	o.Status = models.OrderDeclined

	if err := e.store.UpdateOrder(ctx, o); err != nil {
		return nil, err
	}
	e.emit(EventOrderDeclined, o, 0)
	return o, nil
}

// Edit меняет запрошенные условия до подтверждения. Обязательна причина
// не короче minReasonLen символов. Статус заказа не меняется.
func (e *Engine) Edit(ctx context.Context, orderID, actorCompanyID int, upd models.OrderEdit, reason string) (*models.PurchaseOrder, error) {
	if len(strings.TrimSpace(reason)) < minReasonLen {
		return nil, fmt.Errorf("edit reason must be at least %d characters: %w", minReasonLen, ErrValidation)
	}

	unlock := e.lockOrder(orderID)
	defer unlock()

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if _, err := authorize(o, actorCompanyID, ActionEdit); err != nil {
		return nil, err
	}

	if upd.ProductRef != nil {
		o.ProductRef = *upd.ProductRef
	}
	if upd.Quantity != nil {
		o.Quantity = *upd.Quantity
	}
	if upd.Unit != nil {
		o.Unit = *upd.Unit
	}
	if upd.UnitPrice != nil {
		o.UnitPrice = *upd.UnitPrice
	}
	if upd.DeliveryDate != nil {
		o.DeliveryDate = *upd.DeliveryDate
	}
	if upd.DeliveryLocation != nil {
		o.DeliveryLocation = *upd.DeliveryLocation
	}
	if upd.Notes != nil {
		o.Notes = *upd.Notes
	}
	if err := validateRequestedTerms(o); err != nil {
		return nil, err
	}

	if err := e.store.UpdateOrder(ctx, o); err != nil {
		return nil, err
	}
	e.emit(EventOrderEdited, o, 0)
	return o, nil
}

// AdvanceFulfillment переводит заказ на следующий этап исполнения. Целевой
// статус передается явно, поэтому повтор уже примененного перехода — no-op.
// Этапы до delivered продвигает продавец, получение подтверждает покупатель.
func (e *Engine) AdvanceFulfillment(ctx context.Context, orderID, actorCompanyID int, target models.OrderStatus) (*models.PurchaseOrder, error) {
	unlock := e.lockOrder(orderID)
	defer unlock()

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == target {
		return o, nil
	}
	if _, err := authorize(o, actorCompanyID, ActionAdvanceFulfillment); err != nil {
		return nil, err
	}
	next, ok := nextFulfillment[o.Status]
	if !ok || next != target {
		return nil, fmt.Errorf("fulfillment advances one step at a time, %q -> %q is not allowed: %w", o.Status, target, ErrInvalidTransition)
	}

	o.Status = next
	if err := e.store.UpdateOrder(ctx, o); err != nil {
		return nil, err
	}
	e.emit(EventFulfillmentAdvanced, o, 0)
	return o, nil
}

// Cancel отменяет заказ из любого неконечного статуса. Повторная отмена — no-op.
func (e *Engine) Cancel(ctx context.Context, orderID, actorCompanyID int) (*models.PurchaseOrder, error) {
	unlock := e.lockOrder(orderID)
	defer unlock()

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == models.OrderCancelled {
		return o, nil
	}
	if _, err := authorize(o, actorCompanyID, ActionCancel); err != nil {
		return nil, err
	}

	o.Status = models.OrderCancelled
	if err := e.store.UpdateOrder(ctx, o); err != nil {
		return nil, err
	}
	e.emit(EventOrderCancelled, o, 0)
	return o, nil
}

// Discrepancies возвращает расхождения заказа. Доступно в любом статусе,
// если подтвержденные условия заполнены; блокировка не нужна.
func (e *Engine) Discrepancies(ctx context.Context, orderID int) ([]models.DiscrepancyDetail, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.ConfirmedAt == nil {
		return nil, fmt.Errorf("order %s has no confirmation yet: %w", o.OrderNumber, ErrValidation)
	}
	return Detect(o), nil
}

func validateRequestedTerms(o *models.PurchaseOrder) error {
	if strings.TrimSpace(o.ProductRef) == "" {
		return fmt.Errorf("product reference is required: %w", ErrValidation)
	}
	if o.Quantity.Sign() <= 0 {
		return fmt.Errorf("quantity must be positive: %w", ErrValidation)
	}
	if strings.TrimSpace(o.Unit) == "" {
		return fmt.Errorf("unit of measure is required: %w", ErrValidation)
	}
	if o.UnitPrice.Sign() <= 0 {
		return fmt.Errorf("unit price must be positive: %w", ErrValidation)
	}
	if o.DeliveryDate.IsZero() {
		return fmt.Errorf("delivery date is required: %w", ErrValidation)
	}
	if strings.TrimSpace(o.DeliveryLocation) == "" {
		return fmt.Errorf("delivery location is required: %w", ErrValidation)
	}
	return nil
}

// sameConfirmation проверяет, совпадает ли повторная заявка продавца с уже
// сохраненным подтверждением.
func sameConfirmation(o *models.PurchaseOrder, terms models.ConfirmationTerms) bool {
	if o.ConfirmedQuantity == nil || o.ConfirmedUnitPrice == nil ||
		o.ConfirmedDeliveryDate == nil || o.ConfirmedDeliveryLocation == nil {
		return false
	}
	// Подставляем запрошенные значения вместо пропущенных, как при подтверждении
	qty := valueOr(terms.Quantity, o.Quantity)
	price := valueOr(terms.UnitPrice, o.UnitPrice)
	date := valueOr(terms.DeliveryDate, o.DeliveryDate)
	loc := valueOr(terms.DeliveryLocation, o.DeliveryLocation)
	return o.ConfirmedQuantity.Equal(qty) &&
		o.ConfirmedUnitPrice.Equal(price) &&
		sameDate(*o.ConfirmedDeliveryDate, date) &&
		*o.ConfirmedDeliveryLocation == loc
}

func valueOr[T any](p *T, fallback T) T {
	if p != nil {
		return *p
	}
	return fallback
}

func newOrderNumber() string {
	return "PO-" + strings.ToUpper(uuid.NewString()[:8])
}
