package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/emilythestrangee/wapoll-forum/backend/internal/models"
)

const (
	defaultNotifyChannel = "wapoll_envelopes"
	defaultPageSize      = 500
	listenerPingInterval = 90 * time.Second

	undefinedTable = "42P01"
)

var _ Transport = (*Postgres)(nil)

// Postgres runs the network over a shared database. Publishing inserts an
// envelope row and notifies listeners; history is the envelope table read in
// id order.
type Postgres struct {
	db  *gorm.DB
	dsn string
	log *zap.Logger

	channel      string
	pageSize     int
	buffer       int
	minReconnect time.Duration
	maxReconnect time.Duration

	ready atomic.Bool
}

// PostgresOption configures a Postgres transport.
type PostgresOption func(*Postgres)

// WithPageSize sets how many envelopes each history page loads.
func WithPageSize(n int) PostgresOption {
	return func(p *Postgres) {
		if n > 0 {
			p.pageSize = n
		}
	}
}

// WithNotifyChannel overrides the LISTEN/NOTIFY channel name.
func WithNotifyChannel(name string) PostgresOption {
	return func(p *Postgres) {
		p.channel = name
	}
}

// WithListenerBuffer sets how many envelopes a subscription may queue.
func WithListenerBuffer(n int) PostgresOption {
	return func(p *Postgres) {
		p.buffer = n
	}
}

// NewPostgres uses db for reads and writes. dsn opens the dedicated
// connection each subscription listens on.
func NewPostgres(db *gorm.DB, dsn string, log *zap.Logger, opts ...PostgresOption) *Postgres {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Postgres{
		db:           db,
		dsn:          dsn,
		log:          log,
		channel:      defaultNotifyChannel,
		pageSize:     defaultPageSize,
		buffer:       defaultSubscriberBuffer,
		minReconnect: time.Second,
		maxReconnect: time.Minute,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ready pings the database until it answers.
func (p *Postgres) Ready(ctx context.Context) error {
	if p.ready.Load() {
		return nil
	}
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}

	backoff := 250 * time.Millisecond
	for {
		err := sqlDB.PingContext(ctx)
		if err == nil {
			p.ready.Store(true)
			return nil
		}
		p.log.Warn("database not reachable yet", zap.Error(err), zap.Duration("retry_in", backoff))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}

func (p *Postgres) Publish(ctx context.Context, topic string, payload []byte) error {
	if !p.ready.Load() {
		return ErrNotReady
	}

	env := models.Envelope{
		Topic:       topic,
		Payload:     payload,
		Fingerprint: strconv.FormatUint(xxhash.Sum64(payload), 16),
		SentAt:      time.Now().UnixNano(),
	}
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&env).Error; err != nil {
			return err
		}
		return tx.Exec("SELECT pg_notify(?, ?)", p.channel, strconv.FormatInt(env.ID, 10)).Error
	})
	if err != nil {
		var pgErr *pgconn.PgError
		switch {
		case errors.As(err, &pgErr) && pgErr.Code == undefinedTable:
			p.log.Error("envelope table missing, run migrations", zap.String("topic", topic))
		case pgErr != nil:
			p.log.Warn("envelope insert rejected",
				zap.String("topic", topic),
				zap.String("sqlstate", pgErr.Code),
				zap.String("detail", pgErr.Message),
			)
		}
		return &PublishError{Topic: topic, Err: err}
	}
	return nil
}

func (p *Postgres) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if !p.ready.Load() {
		return nil, ErrNotReady
	}

	// Only envelopes published after this point are live.
	lastID, err := p.maxID(ctx, topic)
	if err != nil {
		return nil, err
	}

	listener := pq.NewListener(p.dsn, p.minReconnect, p.maxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			p.log.Warn("listener connection lost", zap.String("topic", topic), zap.Error(err))
		case pq.ListenerEventReconnected:
			p.log.Info("listener reconnected", zap.String("topic", topic))
		}
	})
	if err := listener.Listen(p.channel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("listen on %s: %w", p.channel, err)
	}

	fetchCtx, cancelFetch := context.WithCancel(context.Background())
	sub := newSubscription(topic, p.buffer, func() {
		cancelFetch()
		_ = listener.Close()
	})
	sub.goProducer(func() {
		p.listen(fetchCtx, sub, listener, topic, lastID)
	})
	sub.cancelOn(ctx)
	return sub, nil
}

// listen turns notifications into envelope deliveries. A notification only
// signals that rows newer than lastID exist, so lost notifications and
// reconnects (signalled by a nil notification) are covered by the next fetch.
func (p *Postgres) listen(ctx context.Context, sub *subscription, listener *pq.Listener, topic string, lastID int64) {
	ping := time.NewTicker(listenerPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-sub.done:
			return
		case n, ok := <-listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				p.log.Info("backfilling after listener reconnect", zap.String("topic", topic), zap.Int64("after_id", lastID))
			}
			next, err := p.deliverAfter(ctx, sub, topic, lastID)
			if err != nil {
				if ctx.Err() == nil {
					p.log.Warn("fetching notified envelopes failed", zap.String("topic", topic), zap.Error(err))
				}
				continue
			}
			lastID = next
		case <-ping.C:
			if err := listener.Ping(); err != nil {
				p.log.Warn("listener ping failed", zap.String("topic", topic), zap.Error(err))
			}
		}
	}
}

func (p *Postgres) deliverAfter(ctx context.Context, sub *subscription, topic string, after int64) (int64, error) {
	err := p.page(ctx, topic, after, func(env models.Envelope) error {
		if !sub.push(envelopeMessage(env)) {
			return context.Canceled
		}
		after = env.ID
		return nil
	})
	return after, err
}

func (p *Postgres) QueryHistory(ctx context.Context, topic string, fn func(Message) error) error {
	if !p.ready.Load() {
		return ErrNotReady
	}
	return p.page(ctx, topic, 0, func(env models.Envelope) error {
		return fn(envelopeMessage(env))
	})
}

// page walks the envelopes of topic with id > after in id order, one page at
// a time.
func (p *Postgres) page(ctx context.Context, topic string, after int64, fn func(models.Envelope) error) error {
	for {
		var envelopes []models.Envelope
		err := p.db.WithContext(ctx).
			Where("topic = ? AND id > ?", topic, after).
			Order("id").
			Limit(p.pageSize).
			Find(&envelopes).Error
		if err != nil {
			return fmt.Errorf("query envelopes: %w", err)
		}

		for _, env := range envelopes {
			if err := fn(env); err != nil {
				return err
			}
			after = env.ID
		}
		if len(envelopes) < p.pageSize {
			return nil
		}
	}
}

func (p *Postgres) maxID(ctx context.Context, topic string) (int64, error) {
	var id int64
	err := p.db.WithContext(ctx).
		Model(&models.Envelope{}).
		Where("topic = ?", topic).
		Select("COALESCE(MAX(id), 0)").
		Scan(&id).Error
	if err != nil {
		return 0, fmt.Errorf("read latest envelope id: %w", err)
	}
	return id, nil
}

func envelopeMessage(env models.Envelope) Message {
	return Message{
		Topic:     env.Topic,
		Payload:   env.Payload,
		Timestamp: env.SentAt,
	}
}
