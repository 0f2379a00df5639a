package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"datalayr/core/events"
	"datalayr/core/types"
	"datalayr/observability/metrics"
)

const (
	queueSize    = 1024
	maxBatch     = 256
	defaultLimit = 100
	maxLimit     = 1000
)

// ErrClosed is returned by operations on a closed indexer.
var ErrClosed = errors.New("indexer: closed")

// Filter narrows an event query. Zero values match everything; ToHeight is
// inclusive.
type Filter struct {
	Module     string
	Type       string
	FromHeight uint64
	ToHeight   uint64
	Limit      int
}

// Indexer persists published events to a SQL database. It implements
// events.Emitter; writes happen on a background worker so a slow database
// never stalls the ledger.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan events.Envelope
	done   chan struct{}
}

// Open connects to dsn. postgres:// and postgresql:// URLs select Postgres;
// anything else is treated as a SQLite DSN.
func Open(dsn string, logger *slog.Logger) (*Indexer, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("indexer: dsn required")
	}
	db, err := gorm.Open(dialector(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open database: %w", err)
	}
	return New(db, logger)
}

func dialector(dsn string) gorm.Dialector {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

// New migrates the schema on db and starts the write worker.
func New(db *gorm.DB, logger *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, errors.New("indexer: nil database")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	idx := &Indexer{
		db:     db,
		logger: logger,
		queue:  make(chan events.Envelope, queueSize),
		done:   make(chan struct{}),
	}
	go idx.run()
	return idx, nil
}

// Emit queues envelopes for persistence. Other events are ignored.
func (i *Indexer) Emit(evt events.Event) {
	env, ok := evt.(events.Envelope)
	if !ok {
		return
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return
	}
	select {
	case i.queue <- env:
	default:
		metrics.DataLayr().ObserveDropped("indexer")
		i.logger.Warn("indexer queue full; event dropped",
			slog.Uint64("height", env.Height),
			slog.Uint64("seq", env.Seq),
			slog.String("type", env.Type))
	}
}

func (i *Indexer) run() {
	defer close(i.done)
	for env := range i.queue {
		batch := []events.Envelope{env}
	drain:
		for len(batch) < maxBatch {
			select {
			case next, ok := <-i.queue:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		if err := i.Store(context.Background(), batch...); err != nil {
			i.logger.Error("index events", slog.Int("count", len(batch)), slog.Any("error", err))
		}
	}
}

// Store writes envelopes synchronously, replacing rows at the same
// height and sequence.
func (i *Indexer) Store(ctx context.Context, envs ...events.Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	records := make([]EventRecord, 0, len(envs))
	for _, env := range envs {
		attrs := map[string]string{}
		if env.Payload != nil && env.Payload.Attributes != nil {
			attrs = env.Payload.Attributes
		}
		encoded, err := json.Marshal(attrs)
		if err != nil {
			return fmt.Errorf("indexer: encode attributes: %w", err)
		}
		records = append(records, EventRecord{
			Height:     env.Height,
			Seq:        env.Seq,
			Module:     types.ModuleOf(env.Type),
			Type:       env.Type,
			Attributes: string(encoded),
		})
	}
	return i.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "height"}, {Name: "seq"}},
		DoUpdates: clause.AssignmentColumns([]string{"module", "type", "attributes", "created_at"}),
	}).Create(&records).Error
}

// Query returns matching events ordered by position. Limit defaults to 100
// and is capped at 1000.
func (i *Indexer) Query(ctx context.Context, filter Filter) ([]EventRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return i.find(ctx, filter, limit)
}

func (i *Indexer) find(ctx context.Context, filter Filter, limit int) ([]EventRecord, error) {
	q := i.db.WithContext(ctx).Model(&EventRecord{})
	if m := strings.TrimSpace(filter.Module); m != "" {
		q = q.Where("module = ?", m)
	}
	if t := strings.TrimSpace(filter.Type); t != "" {
		q = q.Where("type = ?", t)
	}
	if filter.FromHeight > 0 {
		q = q.Where("height >= ?", filter.FromHeight)
	}
	if filter.ToHeight > 0 {
		q = q.Where("height <= ?", filter.ToHeight)
	}
	q = q.Order("height ASC").Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []EventRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("indexer: query: %w", err)
	}
	return out, nil
}

// Close stops accepting events, flushes the queue and closes the database.
func (i *Indexer) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return ErrClosed
	}
	i.closed = true
	close(i.queue)
	i.mu.Unlock()

	<-i.done
	sqlDB, err := i.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
