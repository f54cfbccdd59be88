package event

import (
	"encoding/json"

	"github.com/mirantepos/table-service/internal/model"
)

// Event types, one per observable table mutation.
type Type string

const (
	ItemsPlaced  Type = "items_placed"
	ItemReady    Type = "item_ready"
	TableUpdated Type = "table_updated"
	TableClosed  Type = "table_closed"
)

// Channel is a logical (role, scope) fanout address.
type Channel string

const (
	ChanKitchen  Channel = "kds:kitchen"
	ChanBar      Channel = "kds:bar"
	ChanWaiters  Channel = "waiters"
	ChanCashiers Channel = "cashiers"
)

// Event is the frame pushed to subscribers and exported via the outbox.
// Version is the owning table's version after the mutation; consumers use it
// as their de-duplication and gap-detection key.
type Event struct {
	Type    Type            `json:"type"`
	TableID uint64          `json:"table_id"`
	Version uint64          `json:"version"`
	Station string          `json:"station,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ResolveChannels is the fixed routing table. Pure lookup, called inside the
// command path right after commit.
func ResolveChannels(e Event) []Channel {
	switch e.Type {
	case ItemsPlaced:
		switch e.Station {
		case model.StationKitchen:
			return []Channel{ChanKitchen}
		case model.StationBar:
			return []Channel{ChanBar}
		}
		return nil
	case ItemReady:
		// waiters are not table-scoped; any waiter may run any plate
		return []Channel{ChanWaiters}
	case TableUpdated, TableClosed:
		return []Channel{ChanWaiters, ChanCashiers}
	}
	return nil
}
