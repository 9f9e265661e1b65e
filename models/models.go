package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type (
	OrderStatus     string // Статус заказа
	AmendmentStatus string // Статус поправки
	AmendmentType   string // Тип поправки
	AmendmentField  string // Поле условий, затронутое поправкой
	Priority        string // Приоритет поправки
)

const (
	OrderDraft                 OrderStatus = "draft"                   // Черновик у покупателя
	OrderPending               OrderStatus = "pending"                 // Отправлен продавцу
	OrderAwaitingBuyerApproval OrderStatus = "awaiting_buyer_approval" // Подтверждение с расхождениями
	OrderConfirmed             OrderStatus = "confirmed"               // Условия согласованы
	OrderAmendmentPending      OrderStatus = "amendment_pending"       // Есть нерассмотренная поправка
	OrderInTransit             OrderStatus = "in_transit"
	OrderShipped               OrderStatus = "shipped"
	OrderDelivered             OrderStatus = "delivered"
	OrderReceived              OrderStatus = "received"
	OrderCancelled             OrderStatus = "cancelled"
	OrderDeclined              OrderStatus = "declined"
)

const (
	AmendmentPending  AmendmentStatus = "pending"
	AmendmentApproved AmendmentStatus = "approved"
	AmendmentRejected AmendmentStatus = "rejected"
	AmendmentApplied  AmendmentStatus = "applied"
	AmendmentExpired  AmendmentStatus = "expired"
)

const (
	QuantityChange     AmendmentType = "quantity_change"
	PriceChange        AmendmentType = "price_change"
	DeliveryDateChange AmendmentType = "delivery_date_change"
	LocationChange     AmendmentType = "location_change"
)

const (
	FieldQuantity         AmendmentField = "quantity"
	FieldUnitPrice        AmendmentField = "unit_price"
	FieldDeliveryDate     AmendmentField = "delivery_date"
	FieldDeliveryLocation AmendmentField = "delivery_location"
)

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Terminal сообщает, является ли статус заказа конечным.
func (s OrderStatus) Terminal() bool {
	return s == OrderCancelled || s == OrderDeclined || s == OrderReceived
}

// Valid проверяет допустимость приоритета.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Сущность Заказа на поставку
type PurchaseOrder struct {
	ID              int    `db:"id" json:"id"`
	OrderNumber     string `db:"order_number" json:"orderNumber"`
	BuyerCompanyID  int    `db:"buyer_company_id" json:"buyerCompanyId" validate:"required"`
	SellerCompanyID int    `db:"seller_company_id" json:"sellerCompanyId" validate:"required"`

	// Запрошенные условия (заполняет покупатель)
	ProductRef       string          `db:"product_ref" json:"productRef" validate:"required,max=100"`
	Quantity         decimal.Decimal `db:"quantity" json:"quantity"`
	Unit             string          `db:"unit" json:"unit" validate:"required,max=20"`
	UnitPrice        decimal.Decimal `db:"unit_price" json:"unitPrice"`
	DeliveryDate     time.Time       `db:"delivery_date" json:"deliveryDate"`
	DeliveryLocation string          `db:"delivery_location" json:"deliveryLocation" validate:"required,max=200"`
	Notes            string          `db:"notes" json:"notes"`

	// Подтвержденные условия (заполняет продавец при подтверждении)
	ConfirmedQuantity         *decimal.Decimal `db:"confirmed_quantity" json:"confirmedQuantity,omitempty"`
	ConfirmedUnitPrice        *decimal.Decimal `db:"confirmed_unit_price" json:"confirmedUnitPrice,omitempty"`
	ConfirmedDeliveryDate     *time.Time       `db:"confirmed_delivery_date" json:"confirmedDeliveryDate,omitempty"`
	ConfirmedDeliveryLocation *string          `db:"confirmed_delivery_location" json:"confirmedDeliveryLocation,omitempty"`
	SellerNotes               *string          `db:"seller_notes" json:"sellerNotes,omitempty"`
	ConfirmedAt               *time.Time       `db:"confirmed_at" json:"confirmedAt,omitempty"`

	Status         OrderStatus `db:"status" json:"status"`
	AmendmentCount int         `db:"amendment_count" json:"amendmentCount"`
	LastAmendedAt  *time.Time  `db:"last_amended_at" json:"lastAmendedAt,omitempty"`
	ParentPOID     *int        `db:"parent_po_id" json:"parentPoId,omitempty"`
	Version        int         `db:"version" json:"version"`
	CreatedAt      time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time   `db:"updated_at" json:"-"`
}

// TotalAmount возвращает сумму по запрошенным условиям.
// Сумма всегда производная, отдельным полем не хранится.
func (o *PurchaseOrder) TotalAmount() decimal.Decimal {
	return o.Quantity.Mul(o.UnitPrice)
}

// ConfirmedTotalAmount возвращает сумму по подтвержденным условиям, если они есть.
func (o *PurchaseOrder) ConfirmedTotalAmount() *decimal.Decimal {
	if o.ConfirmedQuantity == nil || o.ConfirmedUnitPrice == nil {
		return nil
	}
	total := o.ConfirmedQuantity.Mul(*o.ConfirmedUnitPrice)
	return &total
}

// IsParty сообщает, является ли компания стороной заказа.
func (o *PurchaseOrder) IsParty(companyID int) bool {
	return companyID == o.BuyerCompanyID || companyID == o.SellerCompanyID
}

// Counterparty возвращает контрагента указанной стороны.
func (o *PurchaseOrder) Counterparty(companyID int) (int, bool) {
	switch companyID {
	case o.BuyerCompanyID:
		return o.SellerCompanyID, true
	case o.SellerCompanyID:
		return o.BuyerCompanyID, true
	}
	return 0, false
}

// ConfirmationTerms представляет условия, которые продавец передает при
// подтверждении. Незаполненные поля означают согласие с запрошенными.
type ConfirmationTerms struct {
	Quantity         *decimal.Decimal `json:"quantity,omitempty"`
	UnitPrice        *decimal.Decimal `json:"unitPrice,omitempty"`
	DeliveryDate     *time.Time       `json:"deliveryDate,omitempty"`
	DeliveryLocation *string          `json:"deliveryLocation,omitempty"`
	SellerNotes      string           `json:"sellerNotes,omitempty"`
}

// OrderEdit представляет частичное изменение запрошенных условий до подтверждения.
type OrderEdit struct {
	ProductRef       *string          `json:"productRef,omitempty"`
	Quantity         *decimal.Decimal `json:"quantity,omitempty"`
	Unit             *string          `json:"unit,omitempty"`
	UnitPrice        *decimal.Decimal `json:"unitPrice,omitempty"`
	DeliveryDate     *time.Time       `json:"deliveryDate,omitempty"`
	DeliveryLocation *string          `json:"deliveryLocation,omitempty"`
	Notes            *string          `json:"notes,omitempty"`
}

// ChangeSet представляет предлагаемые поправкой значения. Набор полей
// закрытый: произвольные ключи на границе не принимаются.
type ChangeSet struct {
	Quantity         *decimal.Decimal `json:"quantity,omitempty"`
	UnitPrice        *decimal.Decimal `json:"unitPrice,omitempty"`
	DeliveryDate     *time.Time       `json:"deliveryDate,omitempty"`
	DeliveryLocation *string          `json:"deliveryLocation,omitempty"`
}

// AmendmentChange описывает одно изменение поля внутри поправки.
type AmendmentChange struct {
	Field         AmendmentField `json:"field"`
	OriginalValue string         `json:"originalValue"`
	ProposedValue string         `json:"proposedValue"`
}

// AmendmentChanges хранится в jsonb-колонке.
type AmendmentChanges []AmendmentChange

func (c AmendmentChanges) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *AmendmentChanges) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	}
	return fmt.Errorf("amendment changes: unsupported scan type %T", src)
}

// Сущность Поправки к подтвержденному заказу
type Amendment struct {
	ID                            int              `db:"id" json:"id"`
	PurchaseOrderID               int              `db:"purchase_order_id" json:"purchaseOrderId"`
	AmendmentNumber               int              `db:"amendment_number" json:"amendmentNumber"`
	Type                          AmendmentType    `db:"amendment_type" json:"amendmentType"`
	Status                        AmendmentStatus  `db:"status" json:"status"`
	Changes                       AmendmentChanges `db:"changes" json:"changes"`
	ProposedByCompanyID           int              `db:"proposed_by_company_id" json:"proposedByCompanyId"`
	RequiresApprovalFromCompanyID int              `db:"requires_approval_from_company_id" json:"requiresApprovalFromCompanyId"`
	Reason                        string           `db:"reason" json:"reason" validate:"required,min=10"`
	Priority                      Priority         `db:"priority" json:"priority" validate:"oneof=low medium high critical"`
	Notes                         *string          `db:"notes" json:"notes,omitempty"`
	ProposedAt                    time.Time        `db:"proposed_at" json:"proposedAt"`
	ApprovedAt                    *time.Time       `db:"approved_at" json:"approvedAt,omitempty"`
	AppliedAt                     *time.Time       `db:"applied_at" json:"appliedAt,omitempty"`
	ExpiresAt                     *time.Time       `db:"expires_at" json:"expiresAt,omitempty"`
}

// DiscrepancyDetail — расхождение между запрошенным и подтвержденным значением
// поля. Вычисляется по требованию, отдельно не хранится.
type DiscrepancyDetail struct {
	FieldName      AmendmentField `json:"fieldName"`
	OriginalValue  string         `json:"originalValue"`
	ConfirmedValue string         `json:"confirmedValue"`
	Difference     string         `json:"difference,omitempty"`
}

// Сущность Компании (сторона заказа)
type Company struct {
	ID        int       `db:"id" json:"id"`
	Name      string    `db:"name" json:"name" validate:"required,max=100"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"-"`
}
