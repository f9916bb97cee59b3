package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"swapchain/core/events"
	"swapchain/observability"
)

const (
	defaultQueueSize = 1024
	defaultLimit     = 100
	maxLimit         = 1000
)

// Record is a committed event as persisted by the indexer.
type Record struct {
	Seq        uint64            `gorm:"primaryKey;autoIncrement" json:"seq"`
	ID         string            `gorm:"uniqueIndex;size:36" json:"id"`
	Type       string            `gorm:"index;size:64" json:"type"`
	OrderHash  string            `gorm:"index;size:66" json:"orderHash,omitempty"`
	Attributes map[string]string `gorm:"serializer:json" json:"attributes"`
	IndexedAt  time.Time         `json:"indexedAt"`
}

// TableName keeps the table name stable across struct renames.
func (Record) TableName() string { return "escrow_events" }

// Filter narrows a Query.
type Filter struct {
	OrderHash string
	Type      string
	Limit     int
}

// Open connects to the sqlite database at dsn.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("indexer: database path required")
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open database: %w", err)
	}
	return db, nil
}

// Indexer is an events.Emitter that persists committed events. Emit never
// blocks the caller: events that do not fit the queue are dropped and counted.
type Indexer struct {
	db      *gorm.DB
	queue   chan events.Event
	dropped atomic.Uint64
	metrics *observability.IndexerMetrics
	logger  *slog.Logger
	now     func() time.Time
}

// New migrates the schema and returns an indexer with the given queue size.
func New(db *gorm.DB, queueSize int) (*Indexer, error) {
	if db == nil {
		return nil, fmt.Errorf("indexer: database required")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Indexer{
		db:      db,
		queue:   make(chan events.Event, queueSize),
		metrics: observability.Indexer(),
		logger:  slog.Default(),
		now:     time.Now,
	}, nil
}

// Emit implements events.Emitter.
func (i *Indexer) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	select {
	case i.queue <- evt:
		i.metrics.SetQueueDepth(len(i.queue))
	default:
		i.dropped.Add(1)
		i.metrics.RecordDropped()
	}
}

// Dropped returns how many events were discarded.
func (i *Indexer) Dropped() uint64 { return i.dropped.Load() }

// Run persists queued events until ctx is cancelled, then drains what is left
// in the queue.
func (i *Indexer) Run(ctx context.Context) {
	for {
		select {
		case evt := <-i.queue:
			i.persist(evt)
		case <-ctx.Done():
			for {
				select {
				case evt := <-i.queue:
					i.persist(evt)
				default:
					return
				}
			}
		}
	}
}

func (i *Indexer) persist(evt events.Event) {
	rendered := events.Render(evt)
	record := Record{
		ID:         uuid.NewString(),
		Type:       rendered.Type,
		OrderHash:  rendered.OrderHash(),
		Attributes: rendered.Attributes,
		IndexedAt:  i.now().UTC(),
	}
	if err := i.db.Create(&record).Error; err != nil {
		i.dropped.Add(1)
		i.metrics.RecordDropped()
		i.logger.Error("index event", slog.String("type", record.Type), slog.String("error", err.Error()))
		return
	}
	i.metrics.RecordIndexed(record.Type)
	i.metrics.SetQueueDepth(len(i.queue))
}

// Query returns indexed events in commit order.
func (i *Indexer) Query(ctx context.Context, filter Filter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	query := i.db.WithContext(ctx).Model(&Record{})
	if hash := strings.ToLower(strings.TrimSpace(filter.OrderHash)); hash != "" {
		query = query.Where("order_hash = ?", hash)
	}
	if eventType := strings.TrimSpace(filter.Type); eventType != "" {
		query = query.Where("type = ?", eventType)
	}
	var records []Record
	if err := query.Order("seq ASC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("indexer: query: %w", err)
	}
	return records, nil
}
