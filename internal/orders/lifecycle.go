package orders

import (
	"fmt"

	"purchases/models"
)

// Role — роль компании в заказе.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Action — действие над жизненным циклом заказа.
type Action string

const (
	ActionSubmit             Action = "submit"
	ActionConfirm            Action = "confirm"
	ActionDecline            Action = "decline"
	ActionEdit               Action = "edit"
	ActionApproveConfirm     Action = "approve_confirmation"
	ActionRejectConfirm      Action = "reject_confirmation"
	ActionProposeAmendment   Action = "propose_amendment"
	ActionResolveAmendment   Action = "resolve_amendment"
	ActionAdvanceFulfillment Action = "advance_fulfillment"
	ActionCancel             Action = "cancel"
)

// Таблица переходов: из какого статуса какое действие разрешено и кому.
// Отмена обрабатывается отдельно — она разрешена обеим сторонам из любого
// неконечного статуса.
var transitions = map[models.OrderStatus]map[Action][]Role{
	models.OrderDraft: {
		ActionSubmit: {RoleBuyer},
	},
	models.OrderPending: {
		ActionConfirm: {RoleSeller},
		ActionDecline: {RoleSeller},
		ActionEdit:    {RoleBuyer, RoleSeller},
	},
	models.OrderAwaitingBuyerApproval: {
		ActionApproveConfirm: {RoleBuyer},
		ActionRejectConfirm:  {RoleBuyer},
	},
	models.OrderConfirmed: {
		ActionProposeAmendment:   {RoleBuyer, RoleSeller},
		ActionAdvanceFulfillment: {RoleSeller},
	},
	models.OrderAmendmentPending: {
		ActionResolveAmendment: {RoleBuyer, RoleSeller},
	},
	models.OrderInTransit: {
		ActionAdvanceFulfillment: {RoleSeller},
	},
	models.OrderShipped: {
		ActionAdvanceFulfillment: {RoleSeller},
	},
	// Получение подтверждает покупатель
	models.OrderDelivered: {
		ActionAdvanceFulfillment: {RoleBuyer},
	},
}

// Последовательность этапов исполнения, перескакивать через этап нельзя.
var nextFulfillment = map[models.OrderStatus]models.OrderStatus{
	models.OrderConfirmed: models.OrderInTransit,
	models.OrderInTransit: models.OrderShipped,
	models.OrderShipped:   models.OrderDelivered,
	models.OrderDelivered: models.OrderReceived,
}

// roleOf определяет роль компании в заказе.
func roleOf(o *models.PurchaseOrder, companyID int) (Role, error) {
	switch companyID {
	case o.BuyerCompanyID:
		return RoleBuyer, nil
	case o.SellerCompanyID:
		return RoleSeller, nil
	}
	return "", fmt.Errorf("company %d is not a party of order %s: %w", companyID, o.OrderNumber, ErrUnauthorized)
}

// authorize — единая точка проверки перехода: действие должно быть разрешено
// из текущего статуса, а компания — иметь нужную роль. Ролевые проверки не
// дублируются по операциям.
func authorize(o *models.PurchaseOrder, companyID int, action Action) (Role, error) {
	role, err := roleOf(o, companyID)
	if err != nil {
		return "", err
	}

	if action == ActionCancel {
		if o.Status.Terminal() {
			return "", fmt.Errorf("cancel is not allowed from status %q: %w", o.Status, ErrInvalidTransition)
		}
		return role, nil
	}

	allowed, ok := transitions[o.Status][action]
	if !ok {
		return "", fmt.Errorf("action %q is not allowed from status %q: %w", action, o.Status, ErrInvalidTransition)
	}
	for _, r := range allowed {
		if r == role {
			return role, nil
		}
	}
	return "", fmt.Errorf("action %q requires role %v, company %d is %s: %w", action, allowed, companyID, role, ErrUnauthorized)
}
