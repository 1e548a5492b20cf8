// Package forum keeps the local post metadata and exposes the consumer API
// for reading tallies and casting votes.
package forum

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/emilythestrangee/wapoll-forum/backend/internal/ledger"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/transport"
	"github.com/emilythestrangee/wapoll-forum/backend/internal/wire"
)

// VoteQuestion is the question carried by single-vote envelopes.
const VoteQuestion = "Vote on Post"

var (
	ErrInvalidSubject  = errors.New("subject title and content are required")
	ErrSubjectExists   = errors.New("subject already exists")
	ErrSubjectNotFound = errors.New("subject not found")
	ErrIDsExhausted    = errors.New("subject ids exhausted")
)

// Subject is a votable post. Tally is read from the ledger when the value is
// built and is not kept in sync afterwards.
type Subject struct {
	ID        int32     `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tally     int64     `json:"tally"`
	CreatedAt time.Time `json:"created_at"`
}

type entry struct {
	title     string
	content   string
	createdAt time.Time
	seq       uint64
}

type Registry struct {
	ledger    *ledger.Ledger
	transport transport.Transport
	topic     string
	ready     func() bool
	log       *zap.Logger
	now       func() time.Time

	mu       sync.RWMutex
	subjects map[int32]entry
	nextID   int32
	seq      uint64
}

type Option func(*Registry)

// WithTopic overrides the content topic votes are published on.
func WithTopic(topic string) Option {
	return func(r *Registry) {
		r.topic = topic
	}
}

// WithReadyCheck makes CastVote fail fast with transport.ErrNotReady, without
// touching the ledger, while fn reports false.
func WithReadyCheck(fn func() bool) Option {
	return func(r *Registry) {
		r.ready = fn
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) {
		r.log = log
	}
}

func NewRegistry(l *ledger.Ledger, t transport.Transport, opts ...Option) *Registry {
	r := &Registry{
		ledger:    l,
		transport: t,
		topic:     wire.ContentTopic,
		ready:     func() bool { return true },
		log:       zap.NewNop(),
		now:       time.Now,
		subjects:  make(map[int32]entry),
		nextID:    1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateSubject registers a post under the next free id.
func (r *Registry) CreateSubject(title, content string) (Subject, error) {
	title, content, err := normalize(title, content)
	if err != nil {
		return Subject{}, err
	}

	r.mu.Lock()
	for {
		if _, taken := r.subjects[r.nextID]; !taken {
			break
		}
		if r.nextID == math.MaxInt32 {
			r.mu.Unlock()
			return Subject{}, ErrIDsExhausted
		}
		r.nextID++
	}
	id := r.nextID
	if r.nextID < math.MaxInt32 {
		r.nextID++
	}
	e := r.addLocked(id, title, content)
	r.mu.Unlock()

	r.log.Info("subject created", zap.Int32("post_id", id))
	return r.subject(id, e), nil
}

// RegisterSubject registers a post under an id chosen by the caller, such as
// one agreed with other peers out of band. Votes already received for id
// show up in its tally immediately.
func (r *Registry) RegisterSubject(id int32, title, content string) (Subject, error) {
	title, content, err := normalize(title, content)
	if err != nil {
		return Subject{}, err
	}

	r.mu.Lock()
	if _, taken := r.subjects[id]; taken {
		r.mu.Unlock()
		return Subject{}, fmt.Errorf("%w: %d", ErrSubjectExists, id)
	}
	e := r.addLocked(id, title, content)
	if id >= r.nextID && id < math.MaxInt32 {
		r.nextID = id + 1
	}
	r.mu.Unlock()

	r.log.Info("subject registered", zap.Int32("post_id", id))
	return r.subject(id, e), nil
}

func (r *Registry) Subject(id int32) (Subject, error) {
	r.mu.RLock()
	e, ok := r.subjects[id]
	r.mu.RUnlock()
	if !ok {
		return Subject{}, fmt.Errorf("%w: %d", ErrSubjectNotFound, id)
	}
	return r.subject(id, e), nil
}

// Subjects lists every known post, newest first.
func (r *Registry) Subjects() []Subject {
	r.mu.RLock()
	ids := make([]int32, 0, len(r.subjects))
	entries := make(map[int32]entry, len(r.subjects))
	for id, e := range r.subjects {
		ids = append(ids, id)
		entries[id] = e
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool {
		return entries[ids[i]].seq > entries[ids[j]].seq
	})
	out := make([]Subject, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.subject(id, entries[id]))
	}
	return out
}

// CurrentTally returns the tally for id whether or not the post is known
// locally.
func (r *Registry) CurrentTally(id int32) int64 {
	return r.ledger.Tally(id)
}

// Pending returns the tally held for an id that has received votes but is
// not registered here yet.
func (r *Registry) Pending(id int32) (int64, bool) {
	r.mu.RLock()
	_, known := r.subjects[id]
	r.mu.RUnlock()
	if known || !r.ledger.Has(id) {
		return 0, false
	}
	return r.ledger.Tally(id), true
}

// CastVote applies a vote locally and publishes it. The local tally is
// updated before the publish and is kept when the publish fails; the
// returned tally reflects the local apply in both cases.
func (r *Registry) CastVote(ctx context.Context, id int32, dir ledger.Direction) (int64, error) {
	if !dir.Valid() {
		return 0, ledger.ErrInvalidDirection
	}
	r.mu.RLock()
	_, known := r.subjects[id]
	r.mu.RUnlock()
	if !known {
		return 0, fmt.Errorf("%w: %d", ErrSubjectNotFound, id)
	}
	if !r.ready() {
		return 0, transport.ErrNotReady
	}

	envelopeID, payload := VoteEnvelope(id, dir)

	// The identity of a UUID envelope does not depend on the payload or the
	// network timestamp, so the echo from the network matches it.
	if _, err := r.ledger.Apply(id, dir, wire.VoteIdentity(envelopeID, payload, 0, 0)); err != nil {
		return 0, err
	}
	tally := r.ledger.Tally(id)

	if err := r.transport.Publish(ctx, r.topic, payload); err != nil {
		r.log.Warn("vote applied locally but not published",
			zap.Int32("post_id", id),
			zap.Int32("vote", int32(dir)),
			zap.String("envelope_id", envelopeID),
			zap.Error(err),
		)
		return tally, err
	}

	r.log.Debug("vote cast",
		zap.Int32("post_id", id),
		zap.Int32("vote", int32(dir)),
		zap.String("envelope_id", envelopeID),
	)
	return tally, nil
}

// VoteEnvelope encodes a single vote under a fresh envelope id.
func VoteEnvelope(id int32, dir ledger.Direction) (envelopeID string, payload []byte) {
	envelopeID = wire.NewEnvelopeID()
	payload = wire.Encode(wire.PollMessage{
		ID:       envelopeID,
		Question: VoteQuestion,
		Votes:    []wire.Vote{{PostID: id, Vote: int32(dir)}},
	})
	return envelopeID, payload
}

// OnTallyChanged calls fn after every accepted vote for id, local or remote.
func (r *Registry) OnTallyChanged(id int32, fn func(ledger.TallyChange)) (cancel func()) {
	return r.ledger.OnTallyChanged(id, fn)
}

func (r *Registry) addLocked(id int32, title, content string) entry {
	r.seq++
	e := entry{
		title:     title,
		content:   content,
		createdAt: r.now().UTC(),
		seq:       r.seq,
	}
	r.subjects[id] = e
	return e
}

func (r *Registry) subject(id int32, e entry) Subject {
	return Subject{
		ID:        id,
		Title:     e.title,
		Content:   e.content,
		Tally:     r.ledger.Tally(id),
		CreatedAt: e.createdAt,
	}
}

func normalize(title, content string) (string, string, error) {
	title = strings.TrimSpace(title)
	content = strings.TrimSpace(content)
	if title == "" || content == "" {
		return "", "", ErrInvalidSubject
	}
	return title, content, nil
}
