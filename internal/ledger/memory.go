package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/club-events/internal/model"
)

type ratingKey struct{ eventID, userID uint64 }

// MemoryStore is an in-process Store.  Each event has its own lock, a
// one-slot channel so that waiting for it honours context cancellation.
// Writes made through a Tx are staged and applied together only when the
// callback succeeds and the context is still live.
type MemoryStore struct {
	mu      sync.Mutex
	locks   map[uint64]chan struct{}
	events  map[uint64]model.Event
	regs    map[uint64]model.Registration
	byEvent map[uint64][]uint64
	ratings map[ratingKey]model.Rating
	topics  map[uint64][]uint64

	nextEventID  uint64
	nextRegID    uint64
	nextRatingID uint64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:   make(map[uint64]chan struct{}),
		events:  make(map[uint64]model.Event),
		regs:    make(map[uint64]model.Registration),
		byEvent: make(map[uint64][]uint64),
		ratings: make(map[ratingKey]model.Rating),
		topics:  make(map[uint64][]uint64),
	}
}

// PutEvent stores ev, assigning an id when ev.ID is zero, and returns it.
func (s *MemoryStore) PutEvent(ev model.Event) model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == 0 {
		s.nextEventID++
		ev.ID = s.nextEventID
	} else if ev.ID > s.nextEventID {
		s.nextEventID = ev.ID
	}
	if ev.Status == "" {
		ev.Status = model.EventStatusOpen
	}
	s.events[ev.ID] = ev
	return ev
}

// Event returns a copy of the stored event.
func (s *MemoryStore) Event(id uint64) (model.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	return ev, ok
}

// Registrations returns every registration of the event in creation order.
func (s *MemoryStore) Registrations(eventID uint64) []model.Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byEvent[eventID]
	out := make([]model.Registration, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.regs[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Rating returns the stored rating of (eventID, userID).
func (s *MemoryStore) Rating(eventID, userID uint64) (model.Rating, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.ratings[ratingKey{eventID, userID}]
	return r, ok
}

// Interests returns the interest ids linked to the event.
func (s *MemoryStore) Interests(eventID uint64) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.topics[eventID]...)
}

func (s *MemoryStore) lockFor(eventID uint64) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[eventID]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[eventID] = l
	}
	return l
}

func (s *MemoryStore) WithEvent(ctx context.Context, eventID uint64, fn func(ctx context.Context, tx Tx) error) error {
	lock := s.lockFor(eventID)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lock }()

	s.mu.Lock()
	ev, ok := s.events[eventID]
	s.mu.Unlock()
	if !ok || ev.DeletedAt != nil {
		return ErrEventNotFound
	}

	tx := &memTx{store: s, event: ev, cancelled: map[uint64]time.Time{}, attended: map[uint64]time.Time{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.apply(tx)
	return nil
}

func (s *MemoryStore) ActiveCount(ctx context.Context, eventID uint64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok || ev.DeletedAt != nil {
		return 0, ErrEventNotFound
	}
	return ev.ActiveCount, nil
}

func (s *MemoryStore) apply(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := s.events[tx.event.ID]
	ev.ActiveCount += tx.delta
	for _, p := range tx.patches {
		ev.Apply(p)
		if p.InterestIDs != nil {
			s.topics[ev.ID] = append([]uint64(nil), p.InterestIDs...)
		}
	}
	s.events[ev.ID] = ev

	for id, at := range tx.cancelled {
		r := s.regs[id]
		r.Status = model.RegistrationCancelled
		at := at
		r.CancelledAt = &at
		s.regs[id] = r
	}
	for id, at := range tx.attended {
		r := s.regs[id]
		r.IsAttended = true
		at := at
		r.AttendedOn = &at
		s.regs[id] = r
	}
	for _, r := range tx.inserted {
		s.regs[r.ID] = *r
		s.byEvent[r.EventID] = append(s.byEvent[r.EventID], r.ID)
	}
	for _, r := range tx.rated {
		k := ratingKey{r.EventID, r.UserID}
		s.ratings[k] = *r
	}
}

// memTx stages writes until the unit of work is applied.  Ids are handed
// out when a row is staged, so a discarded unit of work leaves a gap in
// the sequence the same way an auto-increment column does.
type memTx struct {
	store     *MemoryStore
	event     model.Event
	inserted  []*model.Registration
	cancelled map[uint64]time.Time
	attended  map[uint64]time.Time
	delta     int
	patches   []model.EventPatch
	rated     []*model.Rating
}

func (t *memTx) Event() model.Event { return t.event }

func (t *memTx) ActiveRegistration(ctx context.Context, userID uint64) (*model.Registration, error) {
	for _, r := range t.inserted {
		if r.UserID == userID && r.IsActive() {
			cp := *r
			return &cp, nil
		}
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, id := range t.store.byEvent[t.event.ID] {
		r := t.store.regs[id]
		if r.UserID != userID || !r.IsActive() {
			continue
		}
		if _, gone := t.cancelled[id]; gone {
			continue
		}
		return &r, nil
	}
	return nil, nil
}

func (t *memTx) InsertRegistration(ctx context.Context, reg *model.Registration) error {
	t.store.mu.Lock()
	t.store.nextRegID++
	reg.ID = t.store.nextRegID
	t.store.mu.Unlock()
	cp := *reg
	t.inserted = append(t.inserted, &cp)
	return nil
}

func (t *memTx) CancelRegistration(ctx context.Context, regID uint64, at time.Time) error {
	for _, r := range t.inserted {
		if r.ID == regID {
			r.Status = model.RegistrationCancelled
			r.CancelledAt = &at
			return nil
		}
	}
	t.cancelled[regID] = at
	return nil
}

func (t *memTx) AdjustActiveCount(ctx context.Context, delta int) error {
	t.delta += delta
	t.event.ActiveCount += delta
	return nil
}

func (t *memTx) UpdateEvent(ctx context.Context, p model.EventPatch) error {
	t.patches = append(t.patches, p)
	t.event.Apply(p)
	return nil
}

func (t *memTx) RegistrationByTicket(ctx context.Context, ticketID string) (*model.Registration, error) {
	for _, r := range t.inserted {
		if r.TicketID == ticketID {
			cp := *r
			return &cp, nil
		}
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, id := range t.store.byEvent[t.event.ID] {
		r := t.store.regs[id]
		if r.TicketID != ticketID {
			continue
		}
		if at, ok := t.cancelled[id]; ok {
			r.Status = model.RegistrationCancelled
			r.CancelledAt = &at
		}
		if at, ok := t.attended[id]; ok {
			r.IsAttended = true
			r.AttendedOn = &at
		}
		return &r, nil
	}
	return nil, nil
}

func (t *memTx) MarkAttended(ctx context.Context, regID uint64, at time.Time) error {
	for _, r := range t.inserted {
		if r.ID == regID {
			r.IsAttended = true
			r.AttendedOn = &at
			return nil
		}
	}
	t.attended[regID] = at
	return nil
}

func (t *memTx) UpsertRating(ctx context.Context, r *model.Rating) error {
	t.store.mu.Lock()
	if prev, ok := t.store.ratings[ratingKey{r.EventID, r.UserID}]; ok {
		r.ID = prev.ID
		r.CreatedAt = prev.CreatedAt
	} else {
		t.store.nextRatingID++
		r.ID = t.store.nextRatingID
	}
	t.store.mu.Unlock()
	cp := *r
	t.rated = append(t.rated, &cp)
	return nil
}
