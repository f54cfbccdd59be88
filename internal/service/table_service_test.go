package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mirantepos/table-service/internal/event"
	"github.com/mirantepos/table-service/internal/fanout"
	"github.com/mirantepos/table-service/internal/model"
	"github.com/mirantepos/table-service/internal/repo"
)

const (
	prodBeer  uint64 = 1 // BAR, 10.00
	prodSteak uint64 = 2 // KITCHEN, 20.00
	prodWater uint64 = 3 // READY, 6.00
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.Table{}, &model.Product{}, &model.OrderItem{}, &model.Closure{}, &model.OutboxEvent{}))

	assert.NoError(t, db.Create(&model.Table{ID: 12, Number: 12, Status: model.TableAvailable, CurrentTotal: decimal.Zero}).Error)
	assert.NoError(t, db.Create(&[]model.Product{
		{ID: prodBeer, Name: "Chopp Pilsen", Price: decimal.NewFromInt(10), Station: model.StationBar, IsAvailable: true},
		{ID: prodSteak, Name: "Picanha na Chapa", Price: decimal.NewFromInt(20), Station: model.StationKitchen, IsAvailable: true},
		{ID: prodWater, Name: "Água Mineral", Price: decimal.NewFromInt(6), Station: model.StationReady, IsAvailable: true},
	}).Error)
	return db
}

func newTestService(t *testing.T) (*TableService, *fanout.Broker, context.Context) {
	t.Helper()
	rdb, _ := redismock.NewClientMock()
	log := zap.NewNop().Sugar()
	repository := repo.NewRepository(newTestDB(t), rdb, &kafka.Writer{}, log)
	broker := fanout.NewBroker(64, time.Minute, log)
	svc := NewTableService(repository, broker, 10, 500*time.Millisecond, log)
	return svc, broker, context.Background()
}

func join(t *testing.T, b *fanout.Broker, ch event.Channel) *fanout.Session {
	t.Helper()
	sess := fanout.NewSession(string(ch)+"-test", 16)
	assert.NoError(t, b.Subscribe(sess, ch, nil))
	return sess
}

func drain(sess *fanout.Session) []event.Event {
	var out []event.Event
	for {
		select {
		case e := <-sess.C:
			out = append(out, e)
		default:
			return out
		}
	}
}

var (
	waiter  = Actor{ID: "w1", Role: RoleWaiter}
	barman  = Actor{ID: "b1", Role: RoleBar}
	cook    = Actor{ID: "k1", Role: RoleKitchen}
	cashier = Actor{ID: "c1", Role: RoleCashier}
)

func TestTableService_FullFlow(t *testing.T) {
	svc, broker, ctx := newTestService(t)
	kitchenSess := join(t, broker, event.ChanKitchen)
	barSess := join(t, broker, event.ChanBar)
	waiterSess := join(t, broker, event.ChanWaiters)
	cashierSess := join(t, broker, event.ChanCashiers)

	// waiter opens table 12 with two beers
	table, err := svc.OpenOrAddItems(ctx, waiter, 12, []OrderLine{{ProductID: prodBeer, Quantity: 2}})
	assert.NoError(t, err)
	assert.Equal(t, model.TableOccupied, table.Status)
	assert.Equal(t, "20.00", table.CurrentTotal.StringFixed(2))
	assert.Equal(t, uint64(1), table.Version)

	// bar hears about its line, kitchen hears nothing
	barEvents := drain(barSess)
	assert.Len(t, barEvents, 1)
	assert.Equal(t, event.ItemsPlaced, barEvents[0].Type)
	assert.Equal(t, uint64(1), barEvents[0].Version)
	assert.Empty(t, drain(kitchenSess))

	// waiters and cashiers both see the new running total
	wEvents := drain(waiterSess)
	assert.Len(t, wEvents, 1)
	assert.Equal(t, event.TableUpdated, wEvents[0].Type)
	cEvents := drain(cashierSess)
	assert.Len(t, cEvents, 1)
	assert.Equal(t, event.TableUpdated, cEvents[0].Type)

	var item model.OrderItem
	assert.NoError(t, svc.repo.DB(ctx).Where("table_id = ?", 12).First(&item).Error)
	assert.Equal(t, model.ItemPlaced, item.Status)
	assert.Equal(t, 2, item.Quantity)

	// bar marks the beers ready
	ready, err := svc.MarkItemReady(ctx, barman, item.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.ItemReady, ready.Status)

	wEvents = drain(waiterSess)
	assert.Len(t, wEvents, 2)
	assert.Equal(t, event.ItemReady, wEvents[0].Type)
	assert.Equal(t, event.TableUpdated, wEvents[1].Type)
	assert.Equal(t, uint64(2), wEvents[0].Version)
	cEvents = drain(cashierSess)
	assert.Len(t, cEvents, 1)
	assert.Equal(t, event.TableUpdated, cEvents[0].Type)

	// close-out refused while the item is still READY
	_, err = svc.CloseTable(ctx, cashier, 12, model.PayPix, decimal.Zero)
	assert.ErrorIs(t, err, ErrOpenItemsExist)
	snap, err := svc.Snapshot(ctx, 12)
	assert.NoError(t, err)
	assert.Equal(t, model.TableOccupied, snap.Table.Status)

	// waiter runs the plate, cashier closes with a 5.00 discount:
	// 20.00 + 10% fee - 5.00 = 17.00
	_, err = svc.MarkItemDelivered(ctx, waiter, item.ID)
	assert.NoError(t, err)
	closure, err := svc.CloseTable(ctx, cashier, 12, model.PayPix, decimal.NewFromInt(5))
	assert.NoError(t, err)
	assert.Equal(t, "20.00", closure.Subtotal.StringFixed(2))
	assert.Equal(t, "2.00", closure.ServiceFee.StringFixed(2))
	assert.Equal(t, "17.00", closure.Total.StringFixed(2))
	assert.Equal(t, model.PayPix, closure.PaymentMethod)

	tables, err := svc.ListTables(ctx)
	assert.NoError(t, err)
	assert.Equal(t, model.TableAvailable, tables[0].Status)
	assert.Equal(t, "0.00", tables[0].CurrentTotal.StringFixed(2))

	// versions climbed one per command: open, ready, delivered, close
	assert.Equal(t, uint64(4), tables[0].Version)

	// waiters saw TableClosed and the reset
	wTypes := []event.Type{}
	for _, e := range drain(waiterSess) {
		wTypes = append(wTypes, e.Type)
	}
	assert.Contains(t, wTypes, event.TableClosed)
}

func TestOpenOrAddItems_MixedStations(t *testing.T) {
	svc, broker, ctx := newTestService(t)
	kitchenSess := join(t, broker, event.ChanKitchen)
	barSess := join(t, broker, event.ChanBar)

	table, err := svc.OpenOrAddItems(ctx, waiter, 12, []OrderLine{
		{ProductID: prodSteak, Quantity: 1, Notes: "mal passada"},
		{ProductID: prodBeer, Quantity: 1},
		{ProductID: prodWater, Quantity: 1},
	})
	assert.NoError(t, err)
	// one version bump for the whole batch
	assert.Equal(t, uint64(1), table.Version)
	assert.Equal(t, "36.00", table.CurrentTotal.StringFixed(2))

	kEvents := drain(kitchenSess)
	assert.Len(t, kEvents, 1)
	assert.Equal(t, model.StationKitchen, kEvents[0].Station)
	bEvents := drain(barSess)
	assert.Len(t, bEvents, 1)
	assert.Equal(t, model.StationBar, bEvents[0].Station)

	// the no-prep water is already READY, nothing for a station to do
	var water model.OrderItem
	assert.NoError(t, svc.repo.DB(ctx).Where("product_id = ?", prodWater).First(&water).Error)
	assert.Equal(t, model.ItemReady, water.Status)
}

func TestOpenOrAddItems_SeatsReservedTable(t *testing.T) {
	svc, _, ctx := newTestService(t)
	assert.NoError(t, svc.repo.DB(ctx).Create(&model.Table{ID: 14, Number: 14, Status: model.TableReserved, CurrentTotal: decimal.Zero}).Error)

	table, err := svc.OpenOrAddItems(ctx, waiter, 14, []OrderLine{{ProductID: prodWater, Quantity: 1}})
	assert.NoError(t, err)
	assert.Equal(t, model.TableOccupied, table.Status)

	// and the seated reservation can run its full course to close-out
	var item model.OrderItem
	assert.NoError(t, svc.repo.DB(ctx).Where("table_id = ?", 14).First(&item).Error)
	_, err = svc.MarkItemDelivered(ctx, waiter, item.ID)
	assert.NoError(t, err)
	_, err = svc.CloseTable(ctx, cashier, 14, model.PayCash, decimal.Zero)
	assert.NoError(t, err)
}

func TestRoleChecks(t *testing.T) {
	svc, _, ctx := newTestService(t)

	_, err := svc.OpenOrAddItems(ctx, cook, 12, []OrderLine{{ProductID: prodSteak, Quantity: 1}})
	assert.ErrorIs(t, err, ErrForbidden)

	table, err := svc.OpenOrAddItems(ctx, waiter, 12, []OrderLine{{ProductID: prodSteak, Quantity: 1}})
	assert.NoError(t, err)
	assert.Equal(t, model.TableOccupied, table.Status)

	var item model.OrderItem
	assert.NoError(t, svc.repo.DB(ctx).Where("table_id = ?", 12).First(&item).Error)

	// barman cannot ready a kitchen item, waiter cannot ready anything
	_, err = svc.MarkItemReady(ctx, barman, item.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.MarkItemReady(ctx, waiter, item.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.MarkItemReady(ctx, cook, item.ID)
	assert.NoError(t, err)

	// waiter cannot close a table
	_, err = svc.MarkItemDelivered(ctx, waiter, item.ID)
	assert.NoError(t, err)
	_, err = svc.CloseTable(ctx, waiter, 12, model.PayCash, decimal.Zero)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestItemTransitions_ForwardOnly(t *testing.T) {
	svc, _, ctx := newTestService(t)

	_, err := svc.OpenOrAddItems(ctx, waiter, 12, []OrderLine{{ProductID: prodSteak, Quantity: 1}})
	assert.NoError(t, err)
	var item model.OrderItem
	assert.NoError(t, svc.repo.DB(ctx).Where("table_id = ?", 12).First(&item).Error)

	// cannot deliver straight from PLACED
	_, err = svc.MarkItemDelivered(ctx, waiter, item.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.MarkItemReady(ctx, cook, item.ID)
	assert.NoError(t, err)
	// ready twice is not a transition
	_, err = svc.MarkItemReady(ctx, cook, item.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.MarkItemDelivered(ctx, waiter, item.ID)
	assert.NoError(t, err)
	// delivered items stay on the bill
	_, err = svc.VoidItem(ctx, waiter, item.ID, "too late")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestVoidItem_RecomputesTotal(t *testing.T) {
	svc, _, ctx := newTestService(t)

	_, err := svc.OpenOrAddItems(ctx, waiter, 12, []OrderLine{
		{ProductID: prodSteak, Quantity: 1},
		{ProductID: prodBeer, Quantity: 2},
	})
	assert.NoError(t, err)

	var steak model.OrderItem
	assert.NoError(t, svc.repo.DB(ctx).Where("product_id = ?", prodSteak).First(&steak).Error)

	voided, err := svc.VoidItem(ctx, waiter, steak.ID, "cliente desistiu")
	assert.NoError(t, err)
	assert.Equal(t, model.ItemVoided, voided.Status)
	assert.Equal(t, "cliente desistiu", *voided.VoidReason)

	snap, err := svc.Snapshot(ctx, 12)
	assert.NoError(t, err)
	assert.Equal(t, "20.00", snap.Table.CurrentTotal.StringFixed(2))

	// running total always equals the sum of non-voided subtotals
	sum := decimal.Zero
	for _, it := range snap.Items {
		if it.Status != model.ItemVoided {
			sum = sum.Add(it.Subtotal())
		}
	}
	assert.True(t, snap.Table.CurrentTotal.Equal(sum))
}

func TestCloseTable_DiscountRules(t *testing.T) {
	svc, _, ctx := newTestService(t)

	_, err := svc.OpenOrAddItems(ctx, waiter, 12, []OrderLine{{ProductID: prodBeer, Quantity: 2}})
	assert.NoError(t, err)
	var item model.OrderItem
	assert.NoError(t, svc.repo.DB(ctx).Where("table_id = ?", 12).First(&item).Error)
	_, err = svc.MarkItemReady(ctx, barman, item.ID)
	assert.NoError(t, err)
	_, err = svc.MarkItemDelivered(ctx, waiter, item.ID)
	assert.NoError(t, err)

	_, err = svc.CloseTable(ctx, cashier, 12, model.PayCash, decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, ErrInvalidDiscount)
	// 20.00 + 2.00 fee = 22.00 is the ceiling
	_, err = svc.CloseTable(ctx, cashier, 12, model.PayCash, decimal.NewFromFloat(22.01))
	assert.ErrorIs(t, err, ErrInvalidDiscount)

	closure, err := svc.CloseTable(ctx, cashier, 12, model.PayCash, decimal.NewFromInt(22))
	assert.NoError(t, err)
	assert.Equal(t, "0.00", closure.Total.StringFixed(2))
}

func TestCloseTable_OnAvailableTable(t *testing.T) {
	svc, _, ctx := newTestService(t)
	_, err := svc.CloseTable(ctx, cashier, 12, model.PayCash, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestOpenOrAddItems_Validation(t *testing.T) {
	svc, _, ctx := newTestService(t)

	_, err := svc.OpenOrAddItems(ctx, waiter, 12, nil)
	assert.ErrorIs(t, err, ErrEmptyOrder)
	_, err = svc.OpenOrAddItems(ctx, waiter, 12, []OrderLine{{ProductID: prodBeer, Quantity: 0}})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = svc.OpenOrAddItems(ctx, waiter, 12, []OrderLine{{ProductID: 999, Quantity: 1}})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.OpenOrAddItems(ctx, waiter, 404, []OrderLine{{ProductID: prodBeer, Quantity: 1}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOutbox_RowPerEvent(t *testing.T) {
	svc, _, ctx := newTestService(t)

	_, err := svc.OpenOrAddItems(ctx, waiter, 12, []OrderLine{
		{ProductID: prodSteak, Quantity: 1},
		{ProductID: prodBeer, Quantity: 1},
	})
	assert.NoError(t, err)

	// two ItemsPlaced (kitchen + bar) plus one TableUpdated
	var rows []model.OutboxEvent
	assert.NoError(t, svc.repo.DB(ctx).Order("id").Find(&rows).Error)
	assert.Len(t, rows, 3)
	for _, row := range rows {
		assert.Equal(t, uint64(12), row.AggregateID)
		assert.Equal(t, uint64(1), row.Version)
		assert.False(t, row.Processed)
	}
}
