package testhelpers

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/tenantguard/pkg/database"
)

// ErrInjected is returned by FakeStore for failures requested with FailNextBind,
// FailNextClear and FailNextAcquire.
var ErrInjected = errors.New("fakestore: injected failure")

// FakeStore is an in-memory stand-in for a PostgreSQL server with row-level security,
// fronted by a fixed-size pool. It implements database.ConnPool.
//
// Each connection carries its own session settings, which persist across checkouts
// exactly as set_config(..., false) does on a real server. Rows are filtered by the
// same rules the migrations install, so an unbound connection sees nothing.
//
// Only the statements issued by this module are understood.
type FakeStore struct {
	slots chan struct{}

	mu      sync.Mutex
	idle    []*FakeConn
	conns   map[uint32]*FakeConn
	notes   []fakeNote
	members []fakeMember
	closed  bool

	nextID    atomic.Uint32
	opened    atomic.Int64
	discarded atomic.Int64
	acquires  atomic.Int64
	failBind    atomic.Int32
	failClear   atomic.Int32
	failAcquire atomic.Int32
	bindDelay   atomic.Int64
}

type fakeNote struct {
	id        uuid.UUID
	orgID     uuid.UUID
	createdBy *uuid.UUID
	body      string
	createdAt time.Time
}

type fakeMember struct {
	orgID     uuid.UUID
	userID    uuid.UUID
	role      string
	createdAt time.Time
}

// NewFakeStore creates a store whose pool holds at most size connections.
func NewFakeStore(size int) *FakeStore {
	return &FakeStore{
		slots: make(chan struct{}, size),
		conns: make(map[uint32]*FakeConn),
	}
}

// SeedNote inserts a note without any policy check, as a migration would.
func (s *FakeStore) SeedNote(orgID uuid.UUID, body string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.notes = append(s.notes, fakeNote{id: id, orgID: orgID, body: body, createdAt: time.Now()})
	return id
}

// AddMember records a membership without any policy check.
func (s *FakeStore) AddMember(orgID, userID uuid.UUID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = append(s.members, fakeMember{orgID: orgID, userID: userID, role: role, createdAt: time.Now()})
}

// FailNextBind makes the next n context binds fail.
func (s *FakeStore) FailNextBind(n int) { s.failBind.Store(int32(n)) }

// FailNextClear makes the next n context clears fail.
func (s *FakeStore) FailNextClear(n int) { s.failClear.Store(int32(n)) }

// FailNextAcquire makes the next n checkouts fail the way an unreachable server
// does, without waiting for a slot.
func (s *FakeStore) FailNextAcquire(n int) { s.failAcquire.Store(int32(n)) }

// DelayNextBind makes the next context bind take d, or until its context ends.
func (s *FakeStore) DelayNextBind(d time.Duration) { s.bindDelay.Store(int64(d)) }

// Opened is the number of physical connections ever created.
func (s *FakeStore) Opened() int64 { return s.opened.Load() }

// Discarded is the number of connections removed from circulation.
func (s *FakeStore) Discarded() int64 { return s.discarded.Load() }

// Acquires is the number of successful checkouts.
func (s *FakeStore) Acquires() int64 { return s.acquires.Load() }

// InUse is the number of connections currently checked out.
func (s *FakeStore) InUse() int { return len(s.slots) }

// Session returns the settings currently held by connection id.
func (s *FakeStore) Session(id uint32) (Session, bool) {
	s.mu.Lock()
	c, ok := s.conns[id]
	s.mu.Unlock()
	if !ok {
		return Session{}, false
	}
	return c.session(), true
}

// Acquire implements database.ConnPool. It blocks until a slot is free or ctx ends.
func (s *FakeStore) Acquire(ctx context.Context) (database.PooledConn, error) {
	if takeFailure(&s.failAcquire) {
		return nil, fmt.Errorf("dial tcp 127.0.0.1:5432: connect: connection refused: %w", ErrInjected)
	}

	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		<-s.slots
		return nil, errors.New("fakestore: pool closed")
	}

	var c *FakeConn
	if n := len(s.idle); n > 0 {
		c = s.idle[n-1]
		s.idle = s.idle[:n-1]
	} else {
		c = &FakeConn{store: s, id: s.nextID.Add(1)}
		s.conns[c.id] = c
		s.opened.Add(1)
	}
	c.mu.Lock()
	c.checkedOut = true
	c.mu.Unlock()
	s.acquires.Add(1)
	return c, nil
}

// Saturated implements database.ConnPool.
func (s *FakeStore) Saturated() bool {
	return len(s.slots) >= cap(s.slots)
}

// Close implements database.ConnPool.
func (s *FakeStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.idle = nil
}

// Session is the RLS-relevant state of one connection.
type Session struct {
	OrgID      string
	UserID     string
	SuperAdmin string
}

// Cleared reports whether the session is in the fail-closed state.
func (s Session) Cleared() bool {
	return s.OrgID == "" && s.UserID == "" && s.SuperAdmin != "true"
}

func (s Session) visible(orgID uuid.UUID) bool {
	if s.SuperAdmin == "true" {
		return true
	}
	return s.OrgID != "" && s.OrgID == orgID.String()
}

// FakeConn is one physical connection of a FakeStore.
type FakeConn struct {
	store *FakeStore
	id    uint32

	mu         sync.Mutex
	sess       Session
	checkedOut bool
	dead       bool
}

func (c *FakeConn) session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// ID implements database.PooledConn.
func (c *FakeConn) ID() uint32 { return c.id }

// Release implements database.PooledConn.
func (c *FakeConn) Release() {
	c.mu.Lock()
	if !c.checkedOut {
		c.mu.Unlock()
		panic("fakestore: release of connection not checked out")
	}
	c.checkedOut = false
	c.mu.Unlock()

	s := c.store
	s.mu.Lock()
	if !s.closed {
		s.idle = append(s.idle, c)
	}
	s.mu.Unlock()
	<-s.slots
}

// Discard implements database.PooledConn.
func (c *FakeConn) Discard(ctx context.Context) {
	c.mu.Lock()
	if !c.checkedOut {
		c.mu.Unlock()
		panic("fakestore: discard of connection not checked out")
	}
	c.checkedOut = false
	c.dead = true
	c.mu.Unlock()

	c.store.discarded.Add(1)
	<-c.store.slots
}

func (c *FakeConn) usable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dead {
		return errors.New("fakestore: conn closed")
	}
	if !c.checkedOut {
		return errors.New("fakestore: statement on connection not checked out")
	}
	return nil
}

// Exec implements database.Querier.
func (c *FakeConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	rows, err := c.run(ctx, sql, args)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return pgconn.NewCommandTag(rows.tag), nil
}

// Query implements database.Querier.
func (c *FakeConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	rows, err := c.run(ctx, sql, args)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// QueryRow implements database.Querier.
func (c *FakeConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	rows, err := c.run(ctx, sql, args)
	if err != nil {
		return &fakeRows{err: err}
	}
	return &singleRow{rows: rows}
}

func (c *FakeConn) run(ctx context.Context, sql string, args []any) (*fakeRows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.usable(); err != nil {
		return nil, err
	}

	q := strings.Join(strings.Fields(sql), " ")
	s := c.store

	switch {
	case strings.Contains(q, "set_config") && len(args) == 3:
		if d := time.Duration(s.bindDelay.Swap(0)); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if takeFailure(&s.failBind) {
			return nil, ErrInjected
		}
		c.mu.Lock()
		c.sess = Session{OrgID: args[0].(string), UserID: args[1].(string), SuperAdmin: args[2].(string)}
		c.mu.Unlock()
		return &fakeRows{tag: "SELECT 1", data: [][]any{{"", "", ""}}}, nil

	case strings.Contains(q, "set_config") && len(args) == 0:
		if takeFailure(&s.failClear) {
			return nil, ErrInjected
		}
		c.mu.Lock()
		c.sess = Session{SuperAdmin: "false"}
		c.mu.Unlock()
		return &fakeRows{tag: "SELECT 1", data: [][]any{{"", "", ""}}}, nil

	case strings.Contains(q, "current_setting"):
		sess := c.session()
		return &fakeRows{tag: "SELECT 1", data: [][]any{{sess.OrgID, sess.UserID, sess.SuperAdmin}}}, nil

	case q == "SELECT 1":
		return &fakeRows{tag: "SELECT 1", data: [][]any{{1}}}, nil

	case strings.HasPrefix(q, "INSERT INTO notes"):
		return c.insertNote(args)

	case strings.Contains(q, "FROM notes"):
		return c.selectNotes(q, args)

	case strings.Contains(q, "FROM organization_members"):
		return c.selectMembers(q, args)
	}

	return nil, fmt.Errorf("fakestore: unsupported statement: %s", q)
}

func takeFailure(counter *atomic.Int32) bool {
	for {
		n := counter.Load()
		if n <= 0 {
			return false
		}
		if counter.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

func (c *FakeConn) insertNote(args []any) (*fakeRows, error) {
	orgID := args[0].(uuid.UUID)
	createdBy, _ := args[1].(*uuid.UUID)
	body := args[2].(string)

	if !c.session().visible(orgID) {
		return nil, &pgconn.PgError{
			Code:    "42501",
			Message: `new row violates row-level security policy for table "notes"`,
		}
	}

	n := fakeNote{id: uuid.New(), orgID: orgID, createdBy: createdBy, body: body, createdAt: time.Now()}
	s := c.store
	s.mu.Lock()
	s.notes = append(s.notes, n)
	s.mu.Unlock()
	return &fakeRows{tag: "INSERT 0 1", data: [][]any{noteValues(n)}}, nil
}

func (c *FakeConn) selectNotes(q string, args []any) (*fakeRows, error) {
	sess := c.session()
	s := c.store
	s.mu.Lock()
	var visible []fakeNote
	for _, n := range s.notes {
		if sess.visible(n.orgID) {
			visible = append(visible, n)
		}
	}
	s.mu.Unlock()

	switch {
	case strings.Contains(q, "count(*)"):
		return &fakeRows{tag: "SELECT 1", data: [][]any{{int64(len(visible))}}}, nil
	case strings.Contains(q, "WHERE id = $1"):
		id := args[0].(uuid.UUID)
		for _, n := range visible {
			if n.id == id {
				return &fakeRows{tag: "SELECT 1", data: [][]any{noteValues(n)}}, nil
			}
		}
		return &fakeRows{tag: "SELECT 0"}, nil
	}

	data := make([][]any, 0, len(visible))
	for i := len(visible) - 1; i >= 0; i-- {
		data = append(data, noteValues(visible[i]))
	}
	return &fakeRows{tag: fmt.Sprintf("SELECT %d", len(data)), data: data}, nil
}

func (c *FakeConn) selectMembers(q string, args []any) (*fakeRows, error) {
	sess := c.session()
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var data [][]any
	for _, m := range s.members {
		if !sess.visible(m.orgID) && (sess.UserID == "" || sess.UserID != m.userID.String()) {
			continue
		}
		switch {
		case strings.Contains(q, "org_id = $1 AND user_id = $2"):
			if m.orgID == args[0].(uuid.UUID) && m.userID == args[1].(uuid.UUID) {
				data = append(data, []any{m.role})
			}
		case strings.Contains(q, "user_id = $1"):
			if m.userID == args[0].(uuid.UUID) {
				data = append(data, []any{m.orgID, m.userID, m.role, m.createdAt})
			}
		}
	}
	return &fakeRows{tag: fmt.Sprintf("SELECT %d", len(data)), data: data}, nil
}

func noteValues(n fakeNote) []any {
	return []any{n.id, n.orgID, n.createdBy, n.body, n.createdAt}
}

// fakeRows implements pgx.Rows over materialized values.
type fakeRows struct {
	tag  string
	data [][]any
	pos  int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag(r.tag) }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.err != nil || r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Values() ([]any, error) {
	if r.pos == 0 || r.pos > len(r.data) {
		return nil, errors.New("fakestore: no current row")
	}
	return r.data[r.pos-1], nil
}

func (r *fakeRows) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	values, err := r.Values()
	if err != nil {
		return err
	}
	return scanInto(values, dest)
}

// singleRow implements pgx.Row.
type singleRow struct {
	rows *fakeRows
}

func (r *singleRow) Scan(dest ...any) error {
	if !r.rows.Next() {
		if r.rows.err != nil {
			return r.rows.err
		}
		return pgx.ErrNoRows
	}
	return r.rows.Scan(dest...)
}

func scanInto(values []any, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("fakestore: scan expected %d destinations, got %d", len(values), len(dest))
	}
	for i, d := range dest {
		dv := reflect.ValueOf(d)
		if dv.Kind() != reflect.Pointer || dv.IsNil() {
			return fmt.Errorf("fakestore: destination %d is not a pointer", i)
		}
		target := dv.Elem()
		if values[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		sv := reflect.ValueOf(values[i])
		switch {
		case sv.Type().AssignableTo(target.Type()):
			target.Set(sv)
		case sv.Kind() == reflect.Pointer && sv.IsNil():
			target.Set(reflect.Zero(target.Type()))
		case sv.Kind() == reflect.Pointer && sv.Elem().Type().AssignableTo(target.Type()):
			target.Set(sv.Elem())
		case sv.Type().ConvertibleTo(target.Type()):
			target.Set(sv.Convert(target.Type()))
		default:
			return fmt.Errorf("fakestore: cannot scan %T into %s", values[i], target.Type())
		}
	}
	return nil
}

var (
	_ database.ConnPool   = (*FakeStore)(nil)
	_ database.PooledConn = (*FakeConn)(nil)
	_ pgx.Rows            = (*fakeRows)(nil)
)
