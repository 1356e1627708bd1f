package postgres

// Schema:
//
//	CREATE TABLE users (
//	    id         TEXT PRIMARY KEY,
//	    name       TEXT NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE events (
//	    id               TEXT PRIMARY KEY,
//	    name             TEXT NOT NULL,
//	    capacity         INT NOT NULL,
//	    waitlist_enabled BOOLEAN NOT NULL,
//	    waitlist_seq     BIGINT NOT NULL DEFAULT 0,
//	    version          BIGINT NOT NULL DEFAULT 1,
//	    created_at       TIMESTAMPTZ NOT NULL,
//	    updated_at       TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE event_members (
//	    event_id TEXT NOT NULL REFERENCES events(id),
//	    user_id  TEXT NOT NULL REFERENCES users(id),
//	    kind     TEXT NOT NULL CHECK (kind IN ('registered', 'waitlisted')),
//	    seq      BIGINT NOT NULL DEFAULT 0,
//	    PRIMARY KEY (event_id, user_id)
//	);
//	CREATE INDEX event_members_user_kind_idx ON event_members (user_id, kind);

import (
	"context"
	"errors"

	"github.com/geocoder89/waitroom/internal/domain/event"
	"github.com/geocoder89/waitroom/internal/domain/user"
	"github.com/geocoder89/waitroom/internal/observability"
	"github.com/geocoder89/waitroom/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func New(pool *pgxpool.Pool, prom *observability.Prom) *Store {
	return &Store{
		pool: pool,
		prom: prom,
	}
}

func (s *Store) observe(op string, fn func() error) error {
	if s.prom != nil {

		return s.prom.ObserveStore(op, fn)
	}
	return fn()
}

func (s *Store) CreateUser(ctx context.Context, u user.User) (err error) {
	err = s.observe("users.create", func() error {
		_, e := s.pool.Exec(ctx,
			`INSERT INTO users (id, name, created_at) VALUES ($1, $2, $3)`,
			u.ID, u.Name, u.CreatedAt)
		return e
	})

	if err != nil {
		if IsUniqueViolation(err) {
			err = user.ErrDuplicate
		}
		return
	}

	return
}

func (s *Store) GetUser(ctx context.Context, id string) (u user.User, err error) {
	err = s.observe("users.get", func() error {
		return s.pool.QueryRow(ctx,
			`SELECT id, name, created_at FROM users WHERE id = $1`, id,
		).Scan(&u.ID, &u.Name, &u.CreatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = user.ErrNotFound
		}

		u = user.User{}
		return
	}

	return
}

func (s *Store) CreateEvent(ctx context.Context, e event.Event) (err error) {
	err = s.observe("events.create", func() error {
		_, execErr := s.pool.Exec(ctx,
			`INSERT INTO events (id, name, capacity, waitlist_enabled, waitlist_seq, version, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, 1, $6, $7)`,
			e.ID, e.Name, e.Capacity, e.WaitlistEnabled, e.WaitlistSeq, e.CreatedAt, e.UpdatedAt)
		return execErr
	})

	if err != nil {
		if IsUniqueViolation(err) {
			err = event.ErrDuplicate
		}
		return
	}

	return
}

func (s *Store) GetEvent(ctx context.Context, id string) (event.Event, error) {
	var e event.Event

	err := s.observe("events.get", func() error {
		getErr := s.pool.QueryRow(ctx,
			`SELECT id, name, capacity, waitlist_enabled, waitlist_seq, version, created_at, updated_at
			 FROM events WHERE id = $1`, id,
		).Scan(&e.ID, &e.Name, &e.Capacity, &e.WaitlistEnabled, &e.WaitlistSeq, &e.Version, &e.CreatedAt, &e.UpdatedAt)

		if getErr != nil {
			return getErr
		}

		return s.loadMembers(ctx, &e)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return event.Event{}, event.ErrNotFound
		}
		return event.Event{}, err
	}

	return e, nil
}

// CompareAndSwapEvent bumps the version row-condition first; if another writer
// got there, the UPDATE matches nothing and the caller retries from a fresh
// snapshot. Membership rows change in the same transaction.
func (s *Store) CompareAndSwapEvent(ctx context.Context, expectedVersion int64, next event.Event) (err error) {
	err = s.observe("events.cas", func() error {
		tx, txErr := s.pool.BeginTx(ctx, pgx.TxOptions{})
		if txErr != nil {
			return txErr
		}

		defer func() { _ = tx.Rollback(ctx) }()

		tag, execErr := tx.Exec(ctx,
			`UPDATE events
			 SET waitlist_seq = $3,
			     version = $2 + 1,
			     updated_at = NOW()
			 WHERE id = $1 AND version = $2`,
			next.ID, expectedVersion, next.WaitlistSeq)
		if execErr != nil {
			return execErr
		}

		if tag.RowsAffected() == 0 {
			var dummy string
			checkErr := tx.QueryRow(ctx, `SELECT id FROM events WHERE id = $1`, next.ID).Scan(&dummy)

			if errors.Is(checkErr, pgx.ErrNoRows) {
				return event.ErrNotFound
			}
			if checkErr != nil {
				return checkErr
			}
			return store.ErrVersionConflict
		}

		if applyErr := s.applyMembers(ctx, tx, next); applyErr != nil {
			return applyErr
		}

		return tx.Commit(ctx)
	})

	return
}

func (s *Store) EventsByMember(ctx context.Context, userID string, kind store.MembershipKind) ([]event.Event, error) {
	var out []event.Event

	err := s.observe("events.by_member", func() error {
		rows, qErr := s.pool.Query(ctx,
			`SELECT e.id, e.name, e.capacity, e.waitlist_enabled, e.waitlist_seq, e.version, e.created_at, e.updated_at
			 FROM events e
			 JOIN event_members m ON m.event_id = e.id
			 WHERE m.user_id = $1 AND m.kind = $2
			 ORDER BY e.id ASC`,
			userID, string(kind))
		if qErr != nil {
			return qErr
		}

		defer rows.Close()

		out = make([]event.Event, 0)

		for rows.Next() {
			var e event.Event
			scanErr := rows.Scan(&e.ID, &e.Name, &e.Capacity, &e.WaitlistEnabled, &e.WaitlistSeq, &e.Version, &e.CreatedAt, &e.UpdatedAt)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, e)
		}

		if rows.Err() != nil {
			return rows.Err()
		}

		for i := range out {
			if loadErr := s.loadMembers(ctx, &out[i]); loadErr != nil {
				return loadErr
			}
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) loadMembers(ctx context.Context, e *event.Event) error {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, kind, seq
		 FROM event_members
		 WHERE event_id = $1
		 ORDER BY kind ASC, seq ASC, user_id ASC`,
		e.ID)
	if err != nil {
		return err
	}

	defer rows.Close()

	e.Registered = make([]string, 0)
	e.Waitlist = make([]event.WaitlistEntry, 0)

	for rows.Next() {
		var userID, kind string
		var seq int64

		if err := rows.Scan(&userID, &kind, &seq); err != nil {
			return err
		}

		if kind == string(store.KindRegistered) {
			e.Registered = append(e.Registered, userID)
		} else {
			e.Waitlist = append(e.Waitlist, event.WaitlistEntry{UserID: userID, Seq: seq})
		}
	}

	return rows.Err()
}

// applyMembers diffs the committed membership rows against the next snapshot.
// A register/unregister touches at most two rows, so the diff avoids rewriting
// the whole membership on every swap.
func (s *Store) applyMembers(ctx context.Context, tx pgx.Tx, next event.Event) error {
	type member struct {
		kind string
		seq  int64
	}

	current := make(map[string]member)

	rows, err := tx.Query(ctx,
		`SELECT user_id, kind, seq FROM event_members WHERE event_id = $1 FOR UPDATE`, next.ID)
	if err != nil {
		return err
	}

	for rows.Next() {
		var userID, kind string
		var seq int64
		if err := rows.Scan(&userID, &kind, &seq); err != nil {
			rows.Close()
			return err
		}
		current[userID] = member{kind: kind, seq: seq}
	}
	rows.Close()

	if rows.Err() != nil {
		return rows.Err()
	}

	desired := make(map[string]member, len(next.Registered)+len(next.Waitlist))
	for _, id := range next.Registered {
		desired[id] = member{kind: string(store.KindRegistered)}
	}
	for _, w := range next.Waitlist {
		desired[w.UserID] = member{kind: string(store.KindWaitlisted), seq: w.Seq}
	}

	for userID, cur := range current {
		want, keep := desired[userID]
		if keep && want == cur {
			continue
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM event_members WHERE event_id = $1 AND user_id = $2`,
			next.ID, userID); err != nil {
			return err
		}
	}

	for userID, want := range desired {
		if cur, ok := current[userID]; ok && cur == want {
			continue
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO event_members (event_id, user_id, kind, seq) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (event_id, user_id) DO UPDATE SET kind = $3, seq = $4`,
			next.ID, userID, want.kind, want.seq); err != nil {
			return err
		}
	}

	return nil
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
