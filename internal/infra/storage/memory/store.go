package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domainbooking "hotelsaga/internal/domain/booking"
	domainsaga "hotelsaga/internal/domain/saga"
)

// FaultPoint names a store operation that tests can make fail.
type FaultPoint string

const (
	FaultBookingSave FaultPoint = "booking.save"
	FaultOutboxSave  FaultPoint = "outbox.save"
	FaultOutboxRearm FaultPoint = "outbox.rearm"
	FaultCommit      FaultPoint = "commit"
	FaultMarkStatus  FaultPoint = "outbox.mark_status"
	FaultDispatch    FaultPoint = "outbox.dispatchable"
)

// Store keeps bookings and outbox rows in memory. Units of work stage their
// writes and apply them atomically on Commit; a unit holds the lock of every
// booking it reads until it ends.
type Store struct {
	mu       sync.Mutex
	bookings map[domainbooking.BookingID]*domainbooking.Booking
	rows     map[string]*domainsaga.OutboxMessage
	seq      map[string]int64
	next     int64
	locks    map[domainbooking.BookingID]chan struct{}
	faults   map[FaultPoint]error
}

func NewStore() *Store {
	return &Store{
		bookings: make(map[domainbooking.BookingID]*domainbooking.Booking),
		rows:     make(map[string]*domainsaga.OutboxMessage),
		seq:      make(map[string]int64),
		locks:    make(map[domainbooking.BookingID]chan struct{}),
		faults:   make(map[FaultPoint]error),
	}
}

// InjectFault makes every later call at point fail with err until cleared.
func (s *Store) InjectFault(point FaultPoint, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[point] = err
}

func (s *Store) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.faults)
}

func (s *Store) fault(point FaultPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faults[point]
}

// Booking returns a committed copy of the booking.
func (s *Store) Booking(id domainbooking.BookingID) (*domainbooking.Booking, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

// Rows returns committed copies of every row of the saga, oldest first.
func (s *Store) Rows(sagaID domainsaga.SagaID) []*domainsaga.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domainsaga.OutboxMessage
	for _, row := range s.rows {
		if row.SagaID == sagaID {
			out = append(out, row.Clone())
		}
	}
	s.sortLocked(out)
	return out
}

// PutBooking stores b directly, outside of any unit of work.
func (s *Store) PutBooking(b *domainbooking.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := b.Clone()
	if c.Version == 0 {
		c.Version = 1
	}
	s.bookings[c.ID] = c
}

// PutOutbox stores row directly, outside of any unit of work.
func (s *Store) PutOutbox(row *domainsaga.OutboxMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := row.Clone()
	if c.Version == 0 {
		c.Version = 1
	}
	s.insertLocked(c)
}

func (s *Store) insertLocked(row *domainsaga.OutboxMessage) {
	if _, ok := s.seq[row.ID]; !ok {
		s.next++
		s.seq[row.ID] = s.next
	}
	s.rows[row.ID] = row
}

func (s *Store) sortLocked(rows []*domainsaga.OutboxMessage) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return s.order(rows[i].ID) < s.order(rows[j].ID)
	})
}

func (s *Store) order(id string) int64 {
	if n, ok := s.seq[id]; ok {
		return n
	}
	return 1<<62 - 1
}

func (s *Store) lock(ctx context.Context, id domainbooking.BookingID) error {
	s.mu.Lock()
	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	s.mu.Unlock()
	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) unlock(id domainbooking.BookingID) {
	s.mu.Lock()
	ch := s.locks[id]
	s.mu.Unlock()
	<-ch
}

func (s *Store) Dispatchable(ctx context.Context, q domainsaga.DispatchQuery) ([]*domainsaga.OutboxMessage, error) {
	if err := s.fault(FaultDispatch); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domainsaga.OutboxMessage
	for _, row := range s.rows {
		switch row.OutboxStatus {
		case domainsaga.OutboxStarted:
			if row.NextAttemptAt.After(q.Now) {
				continue
			}
		case domainsaga.OutboxProcessing:
			if !row.ClaimedAt.Before(q.StaleBefore) {
				continue
			}
		default:
			continue
		}
		out = append(out, row.Clone())
	}
	s.sortLocked(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) MarkStatus(ctx context.Context, upd domainsaga.StatusUpdate) (bool, error) {
	if err := s.fault(FaultMarkStatus); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[upd.ID]
	if !ok || !upd.Matches(row) {
		return false, nil
	}
	upd.Apply(row)
	return true, nil
}

func (s *Store) Failed(ctx context.Context, limit int) ([]*domainsaga.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domainsaga.OutboxMessage
	for _, row := range s.rows {
		if row.OutboxStatus == domainsaga.OutboxFailed {
			out = append(out, row.Clone())
		}
	}
	s.sortLocked(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Requeue(ctx context.Context, id string, now time.Time) (*domainsaga.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || row.OutboxStatus != domainsaga.OutboxFailed {
		return nil, domainsaga.ErrOutboxNotFound
	}
	domainsaga.StatusUpdate{To: domainsaga.OutboxStarted, NextAttemptAt: now}.Apply(row)
	row.Generation++
	return row.Clone(), nil
}

var _ domainsaga.DispatchStore = (*Store)(nil)
