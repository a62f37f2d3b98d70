package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"hotelsaga/internal/app/uow"
	domainbooking "hotelsaga/internal/domain/booking"
	domainsaga "hotelsaga/internal/domain/saga"
)

var ErrUnitClosed = errors.New("memory: unit of work already finished")

// Begin starts a unit of work over the store.
func (s *Store) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Unit{
		store:    s,
		readOnly: opts.ReadOnly,
		bookings: make(map[domainbooking.BookingID]*domainbooking.Booking),
		rows:     make(map[string]*domainsaga.OutboxMessage),
		base:     make(map[string]int64),
		inserted: make(map[string]bool),
		rearmed:  make(map[string]bool),
	}, nil
}

// Unit stages booking and outbox writes until Commit.
type Unit struct {
	store    *Store
	readOnly bool
	held     []domainbooking.BookingID
	bookings map[domainbooking.BookingID]*domainbooking.Booking
	rows     map[string]*domainsaga.OutboxMessage
	base     map[string]int64
	inserted map[string]bool
	rearmed  map[string]bool
	done     bool
}

func (u *Unit) Bookings() domainbooking.Repository {
	return unitBookings{u}
}

func (u *Unit) Outbox() domainsaga.OutboxRepository {
	return unitOutbox{u}
}

func (u *Unit) Commit(ctx context.Context) error {
	if u.done {
		return ErrUnitClosed
	}
	defer u.finish()
	if err := u.store.fault(FaultCommit); err != nil {
		return err
	}
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range u.bookings {
		current := int64(0)
		if stored, ok := s.bookings[id]; ok {
			current = stored.Version
		}
		if current != u.base["booking:"+string(id)] {
			return fmt.Errorf("%w: booking %s", domainbooking.ErrConcurrentUpdate, id)
		}
	}
	touched := make(map[domainsaga.SagaID]bool)
	for id, row := range u.rows {
		touched[row.SagaID] = true
		stored, ok := s.rows[id]
		if u.inserted[id] {
			if ok {
				return fmt.Errorf("%w: row %s exists", domainsaga.ErrConcurrentUpdate, id)
			}
			continue
		}
		if !ok || stored.Version != u.base[id] {
			return fmt.Errorf("%w: row %s", domainsaga.ErrConcurrentUpdate, id)
		}
	}
	if err := u.checkLiveLocked(touched); err != nil {
		return err
	}
	for id, b := range u.bookings {
		s.bookings[id] = b.Clone()
	}
	for id, row := range u.rows {
		if u.inserted[id] {
			s.insertLocked(row.Clone())
			continue
		}
		stored := s.rows[id]
		domainsaga.CopySagaFields(stored, row)
		if u.rearmed[id] {
			domainsaga.CopyDispatchFields(stored, row)
			stored.Generation++
		}
	}
	return nil
}

func (u *Unit) Rollback(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.finish()
	return nil
}

func (u *Unit) finish() {
	u.done = true
	for _, id := range u.held {
		u.store.unlock(id)
	}
	u.held = nil
}

func (u *Unit) acquire(ctx context.Context, id domainbooking.BookingID) error {
	if u.readOnly || slices.Contains(u.held, id) {
		return nil
	}
	if err := u.store.lock(ctx, id); err != nil {
		return err
	}
	u.held = append(u.held, id)
	return nil
}

// checkLiveLocked enforces one live row per (saga, step) on the merged view.
func (u *Unit) checkLiveLocked(sagas map[domainsaga.SagaID]bool) error {
	type key struct {
		saga domainsaga.SagaID
		step domainsaga.StepType
	}
	live := make(map[key]string)
	for _, row := range u.mergedLocked(func(r *domainsaga.OutboxMessage) bool { return sagas[r.SagaID] }) {
		if !row.SagaStatus.Live() {
			continue
		}
		k := key{row.SagaID, row.Step}
		if other, ok := live[k]; ok {
			return fmt.Errorf("%w: %s rows %s and %s", domainsaga.ErrDuplicateLiveStep, row.Step, other, row.ID)
		}
		live[k] = row.ID
	}
	return nil
}

// mergedLocked returns committed rows overlaid with staged ones, oldest first.
func (u *Unit) mergedLocked(keep func(*domainsaga.OutboxMessage) bool) []*domainsaga.OutboxMessage {
	s := u.store
	var out []*domainsaga.OutboxMessage
	for id, row := range s.rows {
		if staged, ok := u.rows[id]; ok {
			row = staged
		}
		if keep(row) {
			out = append(out, row.Clone())
		}
	}
	for id, row := range u.rows {
		if u.inserted[id] && keep(row) {
			out = append(out, row.Clone())
		}
	}
	s.sortLocked(out)
	return out
}

type unitBookings struct {
	u *Unit
}

func (r unitBookings) ByID(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	if r.u.done {
		return nil, ErrUnitClosed
	}
	if err := r.u.acquire(ctx, id); err != nil {
		return nil, err
	}
	if b, ok := r.u.bookings[id]; ok {
		return b.Clone(), nil
	}
	if b, ok := r.u.store.Booking(id); ok {
		return b, nil
	}
	return nil, fmt.Errorf("%w: %s", domainbooking.ErrBookingNotFound, id)
}

func (r unitBookings) Save(ctx context.Context, b *domainbooking.Booking) error {
	if r.u.done {
		return ErrUnitClosed
	}
	if err := r.u.store.fault(FaultBookingSave); err != nil {
		return err
	}
	if err := r.u.acquire(ctx, b.ID); err != nil {
		return err
	}
	current := int64(0)
	if staged, ok := r.u.bookings[b.ID]; ok {
		current = staged.Version
	} else if stored, ok := r.u.store.Booking(b.ID); ok {
		current = stored.Version
	}
	if b.Version != current {
		return fmt.Errorf("%w: booking %s at version %d, have %d", domainbooking.ErrConcurrentUpdate, b.ID, current, b.Version)
	}
	if _, ok := r.u.bookings[b.ID]; !ok {
		r.u.base["booking:"+string(b.ID)] = current
	}
	b.Version++
	r.u.bookings[b.ID] = b.Clone()
	return nil
}

type unitOutbox struct {
	u *Unit
}

func (r unitOutbox) view(sagaID domainsaga.SagaID) []*domainsaga.OutboxMessage {
	s := r.u.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return r.u.mergedLocked(func(row *domainsaga.OutboxMessage) bool { return row.SagaID == sagaID })
}

func (r unitOutbox) FindBySagaAndStatus(ctx context.Context, sagaID domainsaga.SagaID, step domainsaga.StepType, statuses ...domainsaga.SagaStatus) (*domainsaga.OutboxMessage, error) {
	if r.u.done {
		return nil, ErrUnitClosed
	}
	rows := r.view(sagaID)
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Step == step && rows[i].HasStatus(statuses...) {
			return rows[i], nil
		}
	}
	return nil, domainsaga.ErrOutboxNotFound
}

func (r unitOutbox) BySaga(ctx context.Context, sagaID domainsaga.SagaID) ([]*domainsaga.OutboxMessage, error) {
	if r.u.done {
		return nil, ErrUnitClosed
	}
	return r.view(sagaID), nil
}

func (r unitOutbox) Save(ctx context.Context, msg *domainsaga.OutboxMessage) error {
	if r.u.done {
		return ErrUnitClosed
	}
	if err := r.u.store.fault(FaultOutboxSave); err != nil {
		return err
	}
	if msg.ID == "" {
		return errors.New("memory: outbox row id required")
	}
	staged, isStaged := r.u.rows[msg.ID]
	if msg.Version == 0 {
		if isStaged || r.stored(msg.ID) != nil {
			return fmt.Errorf("%w: row %s exists", domainsaga.ErrConcurrentUpdate, msg.ID)
		}
		msg.Version = 1
		r.u.rows[msg.ID] = msg.Clone()
		r.u.inserted[msg.ID] = true
		return nil
	}
	current := staged
	if !isStaged {
		current = r.stored(msg.ID)
	}
	if current == nil {
		return fmt.Errorf("%w: %s", domainsaga.ErrOutboxNotFound, msg.ID)
	}
	if current.Version != msg.Version {
		return fmt.Errorf("%w: row %s at version %d, have %d", domainsaga.ErrConcurrentUpdate, msg.ID, current.Version, msg.Version)
	}
	if !isStaged {
		r.u.base[msg.ID] = current.Version
	}
	msg.Version++
	if isStaged {
		if r.u.inserted[msg.ID] {
			r.u.rows[msg.ID] = msg.Clone()
			return nil
		}
		domainsaga.CopySagaFields(staged, msg)
		return nil
	}
	r.u.rows[msg.ID] = msg.Clone()
	return nil
}

func (r unitOutbox) Rearm(ctx context.Context, msg *domainsaga.OutboxMessage) error {
	if r.u.done {
		return ErrUnitClosed
	}
	if err := r.u.store.fault(FaultOutboxRearm); err != nil {
		return err
	}
	staged, ok := r.u.rows[msg.ID]
	if !ok {
		return fmt.Errorf("%w: row %s must be saved before rearm", domainsaga.ErrOutboxNotFound, msg.ID)
	}
	domainsaga.CopyDispatchFields(staged, msg)
	r.u.rearmed[msg.ID] = true
	return nil
}

func (r unitOutbox) stored(id string) *domainsaga.OutboxMessage {
	s := r.u.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		return row.Clone()
	}
	return nil
}

var (
	_ uow.UoWFactory              = (*Store)(nil)
	_ uow.UnitOfWork              = (*Unit)(nil)
	_ domainbooking.Repository    = unitBookings{}
	_ domainsaga.OutboxRepository = unitOutbox{}
)
