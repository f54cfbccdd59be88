package service

import (
	"encoding/json"

	"github.com/mirantepos/table-service/internal/event"
	"github.com/mirantepos/table-service/internal/model"
)

type placedLine struct {
	ItemID      uint64 `json:"item_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	Notes       string `json:"notes,omitempty"`
}

// placedEvents groups the batch by prep station so each KDS only hears about
// its own lines. Lines created directly READY have no station to notify.
func placedEvents(tableID, version uint64, items []*model.OrderItem) []event.Event {
	byStation := map[string][]placedLine{}
	for _, it := range items {
		if it.Station != model.StationKitchen && it.Station != model.StationBar {
			continue
		}
		byStation[it.Station] = append(byStation[it.Station], placedLine{
			ItemID:      it.ID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			Notes:       it.Notes,
		})
	}
	evts := make([]event.Event, 0, len(byStation))
	for _, station := range []string{model.StationKitchen, model.StationBar} {
		lines, ok := byStation[station]
		if !ok {
			continue
		}
		payload, _ := json.Marshal(map[string]interface{}{"items": lines})
		evts = append(evts, event.Event{
			Type:    event.ItemsPlaced,
			TableID: tableID,
			Version: version,
			Station: station,
			Payload: payload,
		})
	}
	return evts
}

func itemReadyEvent(item model.OrderItem, tableNumber int, version uint64) event.Event {
	payload, _ := json.Marshal(map[string]interface{}{
		"item_id":      item.ID,
		"product_name": item.ProductName,
		"table":        tableNumber,
	})
	return event.Event{
		Type:    event.ItemReady,
		TableID: item.TableID,
		Version: version,
		Payload: payload,
	}
}

func tableUpdatedEvent(t model.Table) event.Event {
	payload, _ := json.Marshal(map[string]interface{}{
		"number":        t.Number,
		"status":        t.Status,
		"current_total": t.CurrentTotal,
	})
	return event.Event{
		Type:    event.TableUpdated,
		TableID: t.ID,
		Version: t.Version,
		Payload: payload,
	}
}

func tableClosedEvent(t model.Table, c model.Closure) event.Event {
	payload, _ := json.Marshal(map[string]interface{}{
		"number":         t.Number,
		"payment_method": c.PaymentMethod,
		"total":          c.Total,
	})
	return event.Event{
		Type:    event.TableClosed,
		TableID: t.ID,
		Version: t.Version,
		Payload: payload,
	}
}
