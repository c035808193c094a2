package registration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/jbp/intake/internal/platform/db"
)

// fakeStore mimics the PostgreSQL store: NextSequence locks the period's
// counter until the transaction ends, counter increments only become visible
// on commit, and the identifier and (period, sequence) are unique.
type fakeStore struct {
	mu       sync.Mutex
	counters map[Period]int
	rows     map[PatientIdentifier]PatientRow
	locks    map[Period]*sync.Mutex

	calls   atomic.Int64
	commits atomic.Int64

	// beforeInsert may fail an insert; it is called with the row about to be written.
	beforeInsert func(row PatientRow) error
	pingErr      error
	txErr        error
}

type fakeTxKey struct{}

type fakeTx struct {
	held     []*sync.Mutex
	heldFor  map[Period]bool
	counters map[Period]int
	rows     []PatientRow
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		counters: map[Period]int{},
		rows:     map[PatientIdentifier]PatientRow{},
		locks:    map[Period]*sync.Mutex{},
	}
}

func (s *fakeStore) seed(rows ...PatientRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.rows[r.Identifier] = r
		if r.Sequence > s.counters[r.Period] {
			s.counters[r.Period] = r.Sequence
		}
	}
}

func (s *fakeStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.calls.Add(1)
	if s.txErr != nil {
		return s.txErr
	}
	tx := &fakeTx{heldFor: map[Period]bool{}, counters: map[Period]int{}}
	defer func() {
		for _, l := range tx.held {
			l.Unlock()
		}
	}()

	if err := fn(context.WithValue(ctx, fakeTxKey{}, tx)); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *fakeStore) commit(tx *fakeTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	taken := map[string]bool{}
	for _, r := range s.rows {
		taken[fmt.Sprintf("%s/%d", r.Period, r.Sequence)] = true
	}
	for _, r := range tx.rows {
		key := fmt.Sprintf("%s/%d", r.Period, r.Sequence)
		if _, dup := s.rows[r.Identifier]; dup || taken[key] {
			return fmt.Errorf("%w: duplicate %s", db.ErrConflict, r.Identifier)
		}
		taken[key] = true
	}
	for p, v := range tx.counters {
		s.counters[p] = v
	}
	for _, r := range tx.rows {
		s.rows[r.Identifier] = r
	}
	s.commits.Add(1)
	return nil
}

func (s *fakeStore) NextSequence(ctx context.Context, p Period) (int, error) {
	s.calls.Add(1)
	tx, ok := ctx.Value(fakeTxKey{}).(*fakeTx)
	if !ok {
		return 0, errors.New("NextSequence outside transaction")
	}

	if !tx.heldFor[p] {
		s.mu.Lock()
		l, ok := s.locks[p]
		if !ok {
			l = &sync.Mutex{}
			s.locks[p] = l
		}
		s.mu.Unlock()
		l.Lock()
		tx.held = append(tx.held, l)
		tx.heldFor[p] = true
	}

	cur, staged := tx.counters[p]
	if !staged {
		s.mu.Lock()
		cur = s.counters[p]
		for _, r := range s.rows {
			if r.Period == p && r.Sequence > cur {
				cur = r.Sequence
			}
		}
		s.mu.Unlock()
	}
	tx.counters[p] = cur + 1
	return cur + 1, nil
}

func (s *fakeStore) InsertPatient(ctx context.Context, row PatientRow) error {
	s.calls.Add(1)
	tx, ok := ctx.Value(fakeTxKey{}).(*fakeTx)
	if !ok {
		return errors.New("InsertPatient outside transaction")
	}
	if s.beforeInsert != nil {
		if err := s.beforeInsert(row); err != nil {
			return err
		}
	}
	tx.rows = append(tx.rows, row)
	return nil
}

func (s *fakeStore) GetPatient(_ context.Context, id PatientIdentifier) (*PatientRow, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, fmt.Errorf("get patient %s: %w", id, db.ErrNotFound)
	}
	return &r, nil
}

func (s *fakeStore) ListPatients(_ context.Context, limit, offset int) ([]PatientRow, int, error) {
	s.calls.Add(1)
	if s.pingErr != nil {
		return nil, 0, s.pingErr
	}
	all := s.all()
	sort.Slice(all, func(i, j int) bool { return all[i].Identifier > all[j].Identifier })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *fakeStore) Ping(context.Context) error {
	return s.pingErr
}

func (s *fakeStore) all() []PatientRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PatientRow, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	return out
}

func (s *fakeStore) counter(p Period) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[p]
}
