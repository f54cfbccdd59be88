package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mirantepos/table-service/internal/event"
	"github.com/mirantepos/table-service/internal/fanout"
	"github.com/mirantepos/table-service/internal/metrics"
	"github.com/mirantepos/table-service/internal/model"
	"github.com/mirantepos/table-service/internal/repo"
)

// OrderLine is one requested menu line in an open-or-add command.
type OrderLine struct {
	ProductID uint64
	Quantity  int
	Notes     string
}

// TableSnapshot is the full authoritative view a client loads on resync.
type TableSnapshot struct {
	Table model.Table       `json:"table"`
	Items []model.OrderItem `json:"items"`
}

// TableService is the lifecycle engine: it validates commands against the
// current store snapshot, applies them in one transaction under the table
// lock, and publishes the resulting events after commit.
type TableService struct {
	repo     repo.RepositoryInterface
	broker   *fanout.Broker
	locks    *lockTable
	fee      decimal.Decimal
	lockWait time.Duration
	log      *zap.SugaredLogger
}

// NewTableService returns TableService. feePercent is the close-out service
// fee in percent of the subtotal.
func NewTableService(r repo.RepositoryInterface, b *fanout.Broker, feePercent float64, lockWait time.Duration, logger *zap.SugaredLogger) *TableService {
	return &TableService{
		repo:     r,
		broker:   b,
		locks:    newLockTable(),
		fee:      decimal.NewFromFloat(feePercent),
		lockWait: lockWait,
		log:      logger,
	}
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func runningTotal(items []model.OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		if it.Status != model.ItemVoided {
			total = total.Add(it.Subtotal())
		}
	}
	return total.Round(2)
}

// runLocked serializes the command against its table, runs fn in one store
// transaction (retrying once on a version conflict against a fresh snapshot),
// and publishes fn's events only after the commit succeeded.
func (s *TableService) runLocked(ctx context.Context, cmd string, tableID uint64, fn func(tx *gorm.DB) ([]event.Event, error)) error {
	if err := s.locks.acquire(ctx, tableID, s.lockWait); err != nil {
		metrics.CommandsTotal.WithLabelValues(cmd, "busy").Inc()
		return err
	}
	defer s.locks.release(tableID)

	var evts []event.Event
	run := func() error {
		evts = nil
		return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			evts, err = fn(tx)
			return err
		})
	}
	err := run()
	if errors.Is(err, repo.ErrVersionConflict) {
		s.log.Warnw("version conflict, retrying once", "command", cmd, "table", tableID)
		err = run()
	}
	if err != nil {
		metrics.CommandsTotal.WithLabelValues(cmd, "error").Inc()
		return err
	}
	metrics.CommandsTotal.WithLabelValues(cmd, "ok").Inc()

	if derr := s.repo.DropCachedSnapshot(ctx, tableID); derr != nil {
		s.log.Debugw("snapshot cache invalidation failed", "table", tableID, "error", derr)
	}
	for _, e := range evts {
		for _, ch := range event.ResolveChannels(e) {
			s.broker.Publish(ch, e)
		}
	}
	return nil
}

// stampOutbox writes one outbox row per event inside the transaction, so the
// durable export leg commits or aborts together with the state change.
func (s *TableService) stampOutbox(ctx context.Context, tx *gorm.DB, evts []event.Event) ([]event.Event, error) {
	for _, e := range evts {
		frame, _ := json.Marshal(e)
		row := &model.OutboxEvent{
			Aggregate:   "Table",
			AggregateID: e.TableID,
			EventType:   string(e.Type),
			Version:     e.Version,
			Payload:     string(frame),
		}
		if err := s.repo.CreateOutboxEvent(ctx, tx, row); err != nil {
			return nil, err
		}
	}
	return evts, nil
}

// OpenOrAddItems seats the table on its first order and appends one PLACED
// item per line. The whole batch bumps the table version once; kitchen and bar
// each hear only about their own lines.
func (s *TableService) OpenOrAddItems(ctx context.Context, actor Actor, tableID uint64, lines []OrderLine) (*model.Table, error) {
	if !actor.Role.canPlaceOrDeliver() {
		return nil, ErrForbidden
	}
	if len(lines) == 0 {
		return nil, ErrEmptyOrder
	}
	ids := make([]uint64, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		ids = append(ids, l.ProductID)
	}

	var updated model.Table
	err := s.runLocked(ctx, "open_or_add_items", tableID, func(tx *gorm.DB) ([]event.Event, error) {
		table, err := s.repo.GetTable(ctx, tx, tableID)
		if err != nil {
			return nil, mapNotFound(err)
		}
		products, err := s.repo.ProductsByID(ctx, tx, ids)
		if err != nil {
			return nil, err
		}
		items := make([]*model.OrderItem, 0, len(lines))
		for _, l := range lines {
			p, ok := products[l.ProductID]
			if !ok || !p.IsAvailable {
				return nil, ErrNotFound
			}
			status := model.ItemPlaced
			if p.Station == model.StationReady {
				// no prep needed, goes straight to the runner
				status = model.ItemReady
			}
			items = append(items, &model.OrderItem{
				TableID:     tableID,
				ProductID:   p.ID,
				ProductName: p.Name,
				UnitPrice:   p.Price,
				Station:     p.Station,
				Quantity:    l.Quantity,
				Notes:       l.Notes,
				Status:      status,
			})
		}
		if err := s.repo.CreateItems(ctx, tx, items); err != nil {
			return nil, err
		}
		all, err := s.repo.ItemsForTable(ctx, tx, tableID)
		if err != nil {
			return nil, err
		}
		total := runningTotal(all)
		status := table.Status
		if status == model.TableAvailable || status == model.TableReserved {
			// first order seats the table, reserved or not
			status = model.TableOccupied
		}
		newVersion, err := s.repo.UpdateTable(ctx, tx, tableID, status, total, table.Version)
		if err != nil {
			return nil, err
		}
		updated = *table
		updated.Status, updated.CurrentTotal, updated.Version = status, total, newVersion

		evts := placedEvents(tableID, newVersion, items)
		evts = append(evts, tableUpdatedEvent(updated))
		return s.stampOutbox(ctx, tx, evts)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// MarkItemReady is the station command: PLACED -> READY, addressed back to the
// waiters so someone runs the plate.
func (s *TableService) MarkItemReady(ctx context.Context, actor Actor, itemID uint64) (*model.OrderItem, error) {
	station := actor.Role.station()
	if station == "" && actor.Role != RoleAdmin {
		return nil, ErrForbidden
	}
	probe, err := s.repo.GetItem(ctx, s.repo.DB(ctx), itemID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if station != "" && probe.Station != station {
		return nil, ErrForbidden
	}

	var out model.OrderItem
	err = s.runLocked(ctx, "mark_item_ready", probe.TableID, func(tx *gorm.DB) ([]event.Event, error) {
		item, err := s.repo.GetItem(ctx, tx, itemID)
		if err != nil {
			return nil, mapNotFound(err)
		}
		if item.Status != model.ItemPlaced {
			return nil, ErrInvalidTransition
		}
		if err := s.repo.UpdateItemStatus(ctx, tx, itemID, model.ItemPlaced, model.ItemReady, nil); err != nil {
			return nil, err
		}
		table, _, total, err := s.reloadTable(ctx, tx, item.TableID)
		if err != nil {
			return nil, err
		}
		newVersion, err := s.repo.UpdateTable(ctx, tx, table.ID, table.Status, total, table.Version)
		if err != nil {
			return nil, err
		}
		out = *item
		out.Status = model.ItemReady
		updated := *table
		updated.CurrentTotal, updated.Version = total, newVersion

		evts := []event.Event{itemReadyEvent(out, table.Number, newVersion), tableUpdatedEvent(updated)}
		return s.stampOutbox(ctx, tx, evts)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkItemDelivered closes the item's journey: READY -> DELIVERED.
func (s *TableService) MarkItemDelivered(ctx context.Context, actor Actor, itemID uint64) (*model.OrderItem, error) {
	if !actor.Role.canPlaceOrDeliver() {
		return nil, ErrForbidden
	}
	probe, err := s.repo.GetItem(ctx, s.repo.DB(ctx), itemID)
	if err != nil {
		return nil, mapNotFound(err)
	}

	var out model.OrderItem
	err = s.runLocked(ctx, "mark_item_delivered", probe.TableID, func(tx *gorm.DB) ([]event.Event, error) {
		item, err := s.repo.GetItem(ctx, tx, itemID)
		if err != nil {
			return nil, mapNotFound(err)
		}
		if item.Status != model.ItemReady {
			return nil, ErrInvalidTransition
		}
		if err := s.repo.UpdateItemStatus(ctx, tx, itemID, model.ItemReady, model.ItemDelivered, nil); err != nil {
			return nil, err
		}
		table, _, total, err := s.reloadTable(ctx, tx, item.TableID)
		if err != nil {
			return nil, err
		}
		newVersion, err := s.repo.UpdateTable(ctx, tx, table.ID, table.Status, total, table.Version)
		if err != nil {
			return nil, err
		}
		out = *item
		out.Status = model.ItemDelivered
		updated := *table
		updated.CurrentTotal, updated.Version = total, newVersion

		return s.stampOutbox(ctx, tx, []event.Event{tableUpdatedEvent(updated)})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// VoidItem cancels a PLACED or READY item; delivered items stay on the bill.
func (s *TableService) VoidItem(ctx context.Context, actor Actor, itemID uint64, reason string) (*model.OrderItem, error) {
	if !actor.Role.canVoid() {
		return nil, ErrForbidden
	}
	probe, err := s.repo.GetItem(ctx, s.repo.DB(ctx), itemID)
	if err != nil {
		return nil, mapNotFound(err)
	}

	var out model.OrderItem
	err = s.runLocked(ctx, "void_item", probe.TableID, func(tx *gorm.DB) ([]event.Event, error) {
		item, err := s.repo.GetItem(ctx, tx, itemID)
		if err != nil {
			return nil, mapNotFound(err)
		}
		if !item.Open() {
			return nil, ErrInvalidTransition
		}
		if err := s.repo.UpdateItemStatus(ctx, tx, itemID, item.Status, model.ItemVoided, &reason); err != nil {
			return nil, err
		}
		table, _, total, err := s.reloadTable(ctx, tx, item.TableID)
		if err != nil {
			return nil, err
		}
		newVersion, err := s.repo.UpdateTable(ctx, tx, table.ID, table.Status, total, table.Version)
		if err != nil {
			return nil, err
		}
		out = *item
		out.Status = model.ItemVoided
		out.VoidReason = &reason
		updated := *table
		updated.CurrentTotal, updated.Version = total, newVersion

		return s.stampOutbox(ctx, tx, []event.Event{tableUpdatedEvent(updated)})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CloseTable settles the bill and frees the table. Refuses while any item is
// still PLACED or READY.
func (s *TableService) CloseTable(ctx context.Context, actor Actor, tableID uint64, paymentMethod string, discount decimal.Decimal) (*model.Closure, error) {
	if !actor.Role.canClose() {
		return nil, ErrForbidden
	}
	if discount.IsNegative() {
		return nil, ErrInvalidDiscount
	}

	var closure model.Closure
	err := s.runLocked(ctx, "close_table", tableID, func(tx *gorm.DB) ([]event.Event, error) {
		table, err := s.repo.GetTable(ctx, tx, tableID)
		if err != nil {
			return nil, mapNotFound(err)
		}
		if table.Status != model.TableOccupied {
			return nil, ErrInvalidTransition
		}
		open, err := s.repo.OpenItemCount(ctx, tx, tableID)
		if err != nil {
			return nil, err
		}
		if open > 0 {
			return nil, ErrOpenItemsExist
		}
		all, err := s.repo.ItemsForTable(ctx, tx, tableID)
		if err != nil {
			return nil, err
		}
		subtotal := runningTotal(all)
		feeAmount := subtotal.Mul(s.fee).Div(decimal.NewFromInt(100)).Round(2)
		if discount.GreaterThan(subtotal.Add(feeAmount)) {
			return nil, ErrInvalidDiscount
		}
		total := subtotal.Add(feeAmount).Sub(discount).Round(2)

		closure = model.Closure{
			TableID:       tableID,
			Subtotal:      subtotal,
			ServiceFee:    feeAmount,
			Discount:      discount,
			Total:         total,
			PaymentMethod: paymentMethod,
		}
		if err := s.repo.CreateClosure(ctx, tx, &closure); err != nil {
			return nil, err
		}
		newVersion, err := s.repo.UpdateTable(ctx, tx, tableID, model.TableAvailable, decimal.Zero, table.Version)
		if err != nil {
			return nil, err
		}
		updated := *table
		updated.Status = model.TableAvailable
		updated.CurrentTotal = decimal.Zero
		updated.Version = newVersion

		evts := []event.Event{tableClosedEvent(updated, closure), tableUpdatedEvent(updated)}
		return s.stampOutbox(ctx, tx, evts)
	})
	if err != nil {
		return nil, err
	}
	return &closure, nil
}

func (s *TableService) reloadTable(ctx context.Context, tx *gorm.DB, tableID uint64) (*model.Table, []model.OrderItem, decimal.Decimal, error) {
	table, err := s.repo.GetTable(ctx, tx, tableID)
	if err != nil {
		return nil, nil, decimal.Zero, mapNotFound(err)
	}
	all, err := s.repo.ItemsForTable(ctx, tx, tableID)
	if err != nil {
		return nil, nil, decimal.Zero, err
	}
	return table, all, runningTotal(all), nil
}

// ListTables returns the floor map.
func (s *TableService) ListTables(ctx context.Context) ([]model.Table, error) {
	return s.repo.ListTables(ctx)
}

// Snapshot returns the authoritative table view, through the redis cache when
// warm. This is the ResyncRequired recovery path.
func (s *TableService) Snapshot(ctx context.Context, tableID uint64) (*TableSnapshot, error) {
	if b, err := s.repo.GetCachedSnapshot(ctx, tableID); err == nil {
		var snap TableSnapshot
		if json.Unmarshal(b, &snap) == nil {
			return &snap, nil
		}
	}
	table, err := s.repo.GetTable(ctx, s.repo.DB(ctx), tableID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	items, err := s.repo.ItemsForTable(ctx, s.repo.DB(ctx), tableID)
	if err != nil {
		return nil, err
	}
	snap := &TableSnapshot{Table: *table, Items: items}
	if b, err := json.Marshal(snap); err == nil {
		if cerr := s.repo.CacheSnapshot(ctx, tableID, b); cerr != nil {
			s.log.Debugw("snapshot cache write failed", "table", tableID, "error", cerr)
		}
	}
	return snap, nil
}

// StationQueue lists what a KDS screen still has to cook.
func (s *TableService) StationQueue(ctx context.Context, station string) ([]model.OrderItem, error) {
	if station != model.StationKitchen && station != model.StationBar {
		return nil, ErrNotFound
	}
	return s.repo.StationQueue(ctx, station)
}

// ListProducts is the menu read used by waiter screens.
func (s *TableService) ListProducts(ctx context.Context) ([]model.Product, error) {
	return s.repo.ListProducts(ctx)
}
