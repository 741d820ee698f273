package workflow

import (
	"time"

	"github.com/jwalitptl/labcase-api/internal/model"
)

// DeriveStatus maps a cursor position onto a delivery status. A case that has
// not started is pending even when it has a single stage.
func DeriveStatus(cursor, total int) model.DeliveryStatus {
	switch {
	case total <= 0 || cursor <= 0:
		return model.DeliveryStatusPending
	case cursor >= total:
		return model.DeliveryStatusDelivered
	case cursor == total-1:
		return model.DeliveryStatusScheduled
	default:
		return model.DeliveryStatusPending
	}
}

// DeriveDelivery recomputes the delivery block for a cursor. A delivered case
// keeps an existing date; every other status clears it.
func DeriveDelivery(cursor, total int, prev model.Delivery, now time.Time) model.Delivery {
	status := DeriveStatus(cursor, total)
	if status != model.DeliveryStatusDelivered {
		return model.Delivery{Status: status}
	}
	if prev.Date != nil {
		return model.Delivery{Status: status, Date: prev.Date}
	}
	return model.Delivery{Status: status, Date: stamp(now)}
}

// Override applies an explicit delivery status. Delivered and returned default
// the date to now when none is given.
func Override(status model.DeliveryStatus, date *time.Time, now time.Time) model.Delivery {
	d := model.Delivery{Status: status, Date: date}
	if d.Date == nil && (status == model.DeliveryStatusDelivered || status == model.DeliveryStatusReturned) {
		d.Date = stamp(now)
	}
	return d
}

func stamp(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}
