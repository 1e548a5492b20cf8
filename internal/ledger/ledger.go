// Package ledger aggregates vote deltas into per-subject tallies.
//
// The ledger is the single owner of tally state. Every merge, whether from a
// local cast, a history replay or the live stream, goes through Apply, and a
// vote identity is applied at most once for the lifetime of the process.
package ledger

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrInvalidDirection = errors.New("vote direction must be +1 or -1")
	ErrEmptyIdentity    = errors.New("vote identity must not be empty")
)

// Direction is the sign of a vote delta.
type Direction int32

const (
	Down Direction = -1
	Up   Direction = 1
)

func (d Direction) Valid() bool {
	return d == Up || d == Down
}

// Outcome reports what Apply did with a vote.
type Outcome int

const (
	Accepted Outcome = iota
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	}
	return "unknown"
}

// TallyChange is delivered to observers after an accepted vote.
type TallyChange struct {
	SubjectID int32
	Tally     int64
	Delta     Direction
	Identity  string
}

type observer struct {
	id int64
	fn func(TallyChange)
}

type Ledger struct {
	mu        sync.Mutex
	tallies   map[int32]int64
	applied   map[string]struct{}
	observers map[int32][]observer
	nextObsID int64

	// notifyMu keeps observer callbacks in mutation order without holding mu
	// while they run.
	notifyMu sync.Mutex

	metrics *metrics
}

// New creates an empty ledger. Metrics are registered on reg when it is not
// nil.
func New(reg prometheus.Registerer) (*Ledger, error) {
	m, err := newMetrics(reg)
	if err != nil {
		return nil, err
	}
	return &Ledger{
		tallies:   make(map[int32]int64),
		applied:   make(map[string]struct{}),
		observers: make(map[int32][]observer),
		metrics:   m,
	}, nil
}

// Apply merges one vote. A vote whose identity was already applied is a
// Duplicate and changes nothing. Votes for subjects nobody has created yet
// are kept under their id.
//
// Observer callbacks run before Apply returns and must not call Apply.
func (l *Ledger) Apply(subjectID int32, dir Direction, identity string) (Outcome, error) {
	if !dir.Valid() {
		l.metrics.rejected.Inc()
		return 0, ErrInvalidDirection
	}
	if identity == "" {
		l.metrics.rejected.Inc()
		return 0, ErrEmptyIdentity
	}

	l.mu.Lock()
	if _, ok := l.applied[identity]; ok {
		l.mu.Unlock()
		l.metrics.duplicate.Inc()
		return Duplicate, nil
	}
	l.applied[identity] = struct{}{}
	l.tallies[subjectID] += int64(dir)
	change := TallyChange{
		SubjectID: subjectID,
		Tally:     l.tallies[subjectID],
		Delta:     dir,
		Identity:  identity,
	}
	observers := append([]observer(nil), l.observers[subjectID]...)
	l.metrics.identities.Set(float64(len(l.applied)))

	l.notifyMu.Lock()
	l.mu.Unlock()
	for _, o := range observers {
		o.fn(change)
	}
	l.notifyMu.Unlock()

	l.metrics.accepted.Inc()
	return Accepted, nil
}

// Tally returns the sum of accepted deltas for subjectID.
func (l *Ledger) Tally(subjectID int32) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tallies[subjectID]
}

// Has reports whether any vote for subjectID has been accepted.
func (l *Ledger) Has(subjectID int32) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.tallies[subjectID]
	return ok
}

// Applied reports whether identity has been applied.
func (l *Ledger) Applied(identity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.applied[identity]
	return ok
}

// Len returns the number of applied vote identities.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.applied)
}

// Snapshot copies every tally.
func (l *Ledger) Snapshot() map[int32]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[int32]int64, len(l.tallies))
	for id, tally := range l.tallies {
		out[id] = tally
	}
	return out
}

// OnTallyChanged calls fn after every accepted vote for subjectID. The
// returned function removes the observer; it is safe to call more than once.
func (l *Ledger) OnTallyChanged(subjectID int32, fn func(TallyChange)) (cancel func()) {
	l.mu.Lock()
	l.nextObsID++
	id := l.nextObsID
	l.observers[subjectID] = append(l.observers[subjectID], observer{id: id, fn: fn})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		obs := l.observers[subjectID]
		for i, o := range obs {
			if o.id == id {
				l.observers[subjectID] = append(obs[:i:i], obs[i+1:]...)
				break
			}
		}
		if len(l.observers[subjectID]) == 0 {
			delete(l.observers, subjectID)
		}
	}
}
