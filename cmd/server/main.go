package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/mirantepos/table-service/internal/config"
	"github.com/mirantepos/table-service/internal/fanout"
	"github.com/mirantepos/table-service/internal/logger"
	"github.com/mirantepos/table-service/internal/model"
	"github.com/mirantepos/table-service/internal/repo"
	"github.com/mirantepos/table-service/internal/service"
	httptransport "github.com/mirantepos/table-service/internal/transport/http"
)

func main() {
	// 1. load config
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "internal/config/config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger("table-server")
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(&model.Table{}, &model.Product{}, &model.OrderItem{}, &model.Closure{}, &model.OutboxEvent{}); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}
	if err := seed(gdb, cfg.Service.SeedTables); err != nil {
		log.Fatalf("seed: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. kafka writer
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	// 6. repo, broker, engine
	repository := repo.NewRepository(gdb, rdb, kw, log)
	broker := fanout.NewBroker(cfg.Replay.Capacity, time.Duration(cfg.Replay.TTLSeconds)*time.Second, log)
	svc := service.NewTableService(repository, broker, cfg.Service.FeePercent,
		time.Duration(cfg.Service.LockWaitMS)*time.Millisecond, log)

	// 7. gin router
	router := httptransport.NewRouter(svc, broker, cfg.RateLimit, log)

	// 8. serve
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("table-server listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("listen: %v", err)
	}
}

// seed creates the floor map and a starter menu on first boot.
func seed(db *gorm.DB, tables int) error {
	var count int64
	if err := db.Model(&model.Table{}).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 && tables > 0 {
		rows := make([]model.Table, 0, tables)
		for i := 1; i <= tables; i++ {
			rows = append(rows, model.Table{Number: i, Status: model.TableAvailable, CurrentTotal: decimal.Zero})
		}
		if err := db.Create(&rows).Error; err != nil {
			return err
		}
	}
	if err := db.Model(&model.Product{}).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		menu := []model.Product{
			{Name: "Picanha na Chapa", Price: decimal.NewFromFloat(89.90), Station: model.StationKitchen, IsAvailable: true},
			{Name: "Batata Frita", Price: decimal.NewFromFloat(24.00), Station: model.StationKitchen, IsAvailable: true},
			{Name: "Caipirinha", Price: decimal.NewFromFloat(18.00), Station: model.StationBar, IsAvailable: true},
			{Name: "Chopp Pilsen", Price: decimal.NewFromFloat(10.00), Station: model.StationBar, IsAvailable: true},
			{Name: "Água Mineral", Price: decimal.NewFromFloat(6.00), Station: model.StationReady, IsAvailable: true},
		}
		if err := db.Create(&menu).Error; err != nil {
			return err
		}
	}
	return nil
}
