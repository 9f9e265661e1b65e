package orders

import (
	"log"
	"time"

	"purchases/models"
)

// EventType — тип события жизненного цикла.
type EventType string

const (
	EventOrderSubmitted        EventType = "order_submitted"
	EventOrderConfirmed        EventType = "order_confirmed"
	EventOrderAwaitingApproval EventType = "order_awaiting_approval"
	EventConfirmationApproved  EventType = "confirmation_approved"
	EventConfirmationRejected  EventType = "confirmation_rejected"
	EventOrderDeclined         EventType = "order_declined"
	EventOrderEdited           EventType = "order_edited"
	EventOrderCancelled        EventType = "order_cancelled"
	EventFulfillmentAdvanced   EventType = "fulfillment_advanced"
	EventAmendmentProposed     EventType = "amendment_proposed"
	EventAmendmentApplied      EventType = "amendment_applied"
	EventAmendmentRejected     EventType = "amendment_rejected"
)

// Event публикуется после фиксации перехода. Доставка уведомлений не входит
// в транзакцию и не может откатить переход.
type Event struct {
	Type        EventType          `json:"type"`
	OrderID     int                `json:"orderId"`
	OrderNumber string             `json:"orderNumber"`
	Status      models.OrderStatus `json:"status"`
	AmendmentID int                `json:"amendmentId,omitempty"`
	OccurredAt  time.Time          `json:"occurredAt"`
}

// Notifier получает события после успешных переходов.
type Notifier interface {
	Notify(Event)
}

// NopNotifier отбрасывает события.
type NopNotifier struct{}

func (NopNotifier) Notify(Event) {}

// LogNotifier пишет события в стандартный лог.
type LogNotifier struct{}

func (LogNotifier) Notify(ev Event) {
	if ev.AmendmentID != 0 {
		log.Printf("event %s: order %s (id=%d) status=%s amendment=%d", ev.Type, ev.OrderNumber, ev.OrderID, ev.Status, ev.AmendmentID)
		return
	}
	log.Printf("event %s: order %s (id=%d) status=%s", ev.Type, ev.OrderNumber, ev.OrderID, ev.Status)
}
