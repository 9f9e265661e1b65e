package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"purchases/models"
)

const dateLayout = "2006-01-02"

// Detect сравнивает запрошенные условия заказа с подтвержденными и возвращает
// упорядоченный список расхождений: количество, цена, дата поставки, место
// поставки. Функция чистая: без побочных эффектов, повторный вызов на тех же
// данных дает тот же результат. Пустой список означает чистое подтверждение.
func Detect(o *models.PurchaseOrder) []models.DiscrepancyDetail {
	details := []models.DiscrepancyDetail{}

	if o.ConfirmedQuantity != nil && !o.ConfirmedQuantity.Equal(o.Quantity) {
		details = append(details, models.DiscrepancyDetail{
			FieldName:      models.FieldQuantity,
			OriginalValue:  o.Quantity.String(),
			ConfirmedValue: o.ConfirmedQuantity.String(),
			Difference:     signedDiff(o.Quantity, *o.ConfirmedQuantity),
		})
	}
	if o.ConfirmedUnitPrice != nil && !o.ConfirmedUnitPrice.Equal(o.UnitPrice) {
		details = append(details, models.DiscrepancyDetail{
			FieldName:      models.FieldUnitPrice,
			OriginalValue:  o.UnitPrice.String(),
			ConfirmedValue: o.ConfirmedUnitPrice.String(),
			Difference:     signedDiff(o.UnitPrice, *o.ConfirmedUnitPrice),
		})
	}
	if o.ConfirmedDeliveryDate != nil && !sameDate(o.DeliveryDate, *o.ConfirmedDeliveryDate) {
		details = append(details, models.DiscrepancyDetail{
			FieldName:      models.FieldDeliveryDate,
			OriginalValue:  o.DeliveryDate.Format(dateLayout),
			ConfirmedValue: o.ConfirmedDeliveryDate.Format(dateLayout),
		})
	}
	// Место поставки сравнивается с учетом регистра
	if o.ConfirmedDeliveryLocation != nil && *o.ConfirmedDeliveryLocation != o.DeliveryLocation {
		details = append(details, models.DiscrepancyDetail{
			FieldName:      models.FieldDeliveryLocation,
			OriginalValue:  o.DeliveryLocation,
			ConfirmedValue: *o.ConfirmedDeliveryLocation,
		})
	}
	return details
}

// signedDiff форматирует разницу confirmed − original с явным знаком.
func signedDiff(original, confirmed decimal.Decimal) string {
	d := confirmed.Sub(original)
	if d.Sign() >= 0 {
		return "+" + d.String()
	}
	return d.String()
}

// sameDate сравнивает календарные даты, время суток не учитывается.
func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
