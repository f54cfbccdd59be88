package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mirantepos/table-service/internal/model"
)

// ErrVersionConflict is returned when a guarded update finds the table version
// moved underneath it. The service retries the whole command once.
var ErrVersionConflict = errors.New("version conflict")

// RepositoryInterface restricts Repo methods (unit test mocks).
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	GetTable(ctx context.Context, tx *gorm.DB, tableID uint64) (*model.Table, error)
	ListTables(ctx context.Context) ([]model.Table, error)
	UpdateTable(ctx context.Context, tx *gorm.DB, tableID uint64, status string, total decimal.Decimal, oldVersion uint64) (uint64, error)
	CreateItems(ctx context.Context, tx *gorm.DB, items []*model.OrderItem) error
	GetItem(ctx context.Context, tx *gorm.DB, itemID uint64) (*model.OrderItem, error)
	UpdateItemStatus(ctx context.Context, tx *gorm.DB, itemID uint64, from, to string, reason *string) error
	ItemsForTable(ctx context.Context, tx *gorm.DB, tableID uint64) ([]model.OrderItem, error)
	OpenItemCount(ctx context.Context, tx *gorm.DB, tableID uint64) (int64, error)
	StationQueue(ctx context.Context, station string) ([]model.OrderItem, error)
	ProductsByID(ctx context.Context, tx *gorm.DB, ids []uint64) (map[uint64]model.Product, error)
	ListProducts(ctx context.Context) ([]model.Product, error)
	CreateClosure(ctx context.Context, tx *gorm.DB, c *model.Closure) error
	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
	CacheSnapshot(ctx context.Context, tableID uint64, payload []byte) error
	GetCachedSnapshot(ctx context.Context, tableID uint64) ([]byte, error)
	DropCachedSnapshot(ctx context.Context, tableID uint64) error
}

// Repository implements RepositoryInterface.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

func (r *Repository) GetTable(ctx context.Context, tx *gorm.DB, tableID uint64) (*model.Table, error) {
	var t model.Table
	if err := tx.WithContext(ctx).Where("id = ?", tableID).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repository) ListTables(ctx context.Context) ([]model.Table, error) {
	var ts []model.Table
	err := r.db.WithContext(ctx).Order("number").Find(&ts).Error
	return ts, err
}

// UpdateTable rewrites status/total and bumps the version, guarded by the old
// version. Returns the new version; ErrVersionConflict if the row moved.
func (r *Repository) UpdateTable(ctx context.Context, tx *gorm.DB, tableID uint64, status string, total decimal.Decimal, oldVersion uint64) (uint64, error) {
	res := tx.WithContext(ctx).
		Model(&model.Table{}).
		Where("id = ? AND version = ?", tableID, oldVersion).
		Updates(map[string]interface{}{
			"status":        status,
			"current_total": total,
			"version":       oldVersion + 1,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrVersionConflict
	}
	return oldVersion + 1, nil
}

func (r *Repository) CreateItems(ctx context.Context, tx *gorm.DB, items []*model.OrderItem) error {
	return tx.WithContext(ctx).Create(items).Error
}

func (r *Repository) GetItem(ctx context.Context, tx *gorm.DB, itemID uint64) (*model.OrderItem, error) {
	var it model.OrderItem
	if err := tx.WithContext(ctx).Where("id = ?", itemID).First(&it).Error; err != nil {
		return nil, err
	}
	return &it, nil
}

// UpdateItemStatus moves an item from exactly `from` to `to`; the guard makes
// the forward-only rule race-proof even without the table lock.
func (r *Repository) UpdateItemStatus(ctx context.Context, tx *gorm.DB, itemID uint64, from, to string, reason *string) error {
	updates := map[string]interface{}{"status": to}
	if reason != nil {
		updates["void_reason"] = reason
	}
	res := tx.WithContext(ctx).
		Model(&model.OrderItem{}).
		Where("id = ? AND status = ?", itemID, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (r *Repository) ItemsForTable(ctx context.Context, tx *gorm.DB, tableID uint64) ([]model.OrderItem, error) {
	var items []model.OrderItem
	err := tx.WithContext(ctx).Where("table_id = ?", tableID).Order("created_at").Find(&items).Error
	return items, err
}

func (r *Repository) OpenItemCount(ctx context.Context, tx *gorm.DB, tableID uint64) (int64, error) {
	var n int64
	err := tx.WithContext(ctx).
		Model(&model.OrderItem{}).
		Where("table_id = ? AND status IN ?", tableID, []string{model.ItemPlaced, model.ItemReady}).
		Count(&n).Error
	return n, err
}

// StationQueue lists PLACED items a KDS screen must cook, oldest first.
func (r *Repository) StationQueue(ctx context.Context, station string) ([]model.OrderItem, error) {
	var items []model.OrderItem
	err := r.db.WithContext(ctx).
		Where("station = ? AND status = ?", station, model.ItemPlaced).
		Order("created_at").
		Find(&items).Error
	return items, err
}

func (r *Repository) ProductsByID(ctx context.Context, tx *gorm.DB, ids []uint64) (map[uint64]model.Product, error) {
	var ps []model.Product
	if err := tx.WithContext(ctx).Where("id IN ?", ids).Find(&ps).Error; err != nil {
		return nil, err
	}
	out := make(map[uint64]model.Product, len(ps))
	for _, p := range ps {
		out[p.ID] = p
	}
	return out, nil
}

func (r *Repository) ListProducts(ctx context.Context) ([]model.Product, error) {
	var ps []model.Product
	err := r.db.WithContext(ctx).Order("name").Find(&ps).Error
	return ps, err
}

func (r *Repository) CreateClosure(ctx context.Context, tx *gorm.DB, c *model.Closure) error {
	return tx.WithContext(ctx).Create(c).Error
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed=false").Order("created_at").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id=?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka, keyed by table so per-table order survives
// partitioning.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("table-%d", evt.AggregateID)),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

// CacheSnapshot stores a marshaled table snapshot for the resync read path.
func (r *Repository) CacheSnapshot(ctx context.Context, tableID uint64, payload []byte) error {
	return r.rdb.Set(ctx, fmt.Sprintf("table:%d", tableID), payload, 5*time.Minute).Err()
}

func (r *Repository) GetCachedSnapshot(ctx context.Context, tableID uint64) ([]byte, error) {
	return r.rdb.Get(ctx, fmt.Sprintf("table:%d", tableID)).Bytes()
}

// DropCachedSnapshot invalidates after a mutation; the next read rebuilds.
func (r *Repository) DropCachedSnapshot(ctx context.Context, tableID uint64) error {
	return r.rdb.Del(ctx, fmt.Sprintf("table:%d", tableID)).Err()
}
