package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/geocoder89/waitroom/internal/domain/event"
	"github.com/geocoder89/waitroom/internal/domain/user"
	"github.com/geocoder89/waitroom/internal/store"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

// Store keeps users and events as JSON documents and the membership index as
// redis sets. The conditional write maps onto WATCH/MULTI/EXEC: any concurrent
// write to the event key between snapshot read and EXEC aborts the transaction.
type Store struct {
	redisdb *redis.Client
}

func New(cfg Config) *Store {
	redisdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	return &Store{redisdb: redisdb}
}

func userKey(id string) string  { return "user:" + id }
func eventKey(id string) string { return "event:" + id }

func memberKey(kind store.MembershipKind, userID string) string {
	return "member:" + string(kind) + ":" + userID
}

func (s *Store) CreateUser(ctx context.Context, u user.User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}

	ok, err := s.redisdb.SetNX(ctx, userKey(u.ID), raw, 0).Result()
	if err != nil {
		return err
	}

	if !ok {
		return user.ErrDuplicate
	}

	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	raw, err := s.redisdb.Get(ctx, userKey(id)).Bytes()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}

	var u user.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return user.User{}, err
	}

	return u, nil
}

func (s *Store) CreateEvent(ctx context.Context, e event.Event) error {
	e.Version = 1

	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}

	ok, err := s.redisdb.SetNX(ctx, eventKey(e.ID), raw, 0).Result()
	if err != nil {
		return err
	}

	if !ok {
		return event.ErrDuplicate
	}

	return nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (event.Event, error) {
	raw, err := s.redisdb.Get(ctx, eventKey(id)).Bytes()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return event.Event{}, event.ErrNotFound
		}
		return event.Event{}, err
	}

	var e event.Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return event.Event{}, err
	}

	return e, nil
}

func (s *Store) CompareAndSwapEvent(ctx context.Context, expectedVersion int64, next event.Event) error {
	key := eventKey(next.ID)

	err := s.redisdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return event.ErrNotFound
			}
			return err
		}

		var cur event.Event
		if err := json.Unmarshal(raw, &cur); err != nil {
			return err
		}

		if cur.Version != expectedVersion {
			return store.ErrVersionConflict
		}

		committed := next.Clone()
		committed.Version = expectedVersion + 1
		committed.UpdatedAt = time.Now().UTC()

		doc, err := json.Marshal(committed)
		if err != nil {
			return err
		}

		// document and index move together inside one MULTI/EXEC
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, doc, 0)
			applyIndexDiff(ctx, pipe, cur, committed)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return store.ErrVersionConflict
	}

	return err
}

func (s *Store) EventsByMember(ctx context.Context, userID string, kind store.MembershipKind) ([]event.Event, error) {
	ids, err := s.redisdb.SMembers(ctx, memberKey(kind, userID)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]event.Event, 0, len(ids))

	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, eventKey(id))
	}

	raws, err := s.redisdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	for _, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue
		}

		var e event.Event
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// this ping function checks redis connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.redisdb.Ping(ctx).Err()
}

// this closes the client
func (s *Store) Close() error {
	return s.redisdb.Close()
}

func applyIndexDiff(ctx context.Context, pipe redis.Pipeliner, cur, next event.Event) {
	curReg := toSet(cur.Registered)
	nextReg := toSet(next.Registered)
	curWait := toSet(cur.WaitlistUserIDs())
	nextWait := toSet(next.WaitlistUserIDs())

	for userID := range curReg {
		if _, ok := nextReg[userID]; !ok {
			pipe.SRem(ctx, memberKey(store.KindRegistered, userID), cur.ID)
		}
	}
	for userID := range nextReg {
		if _, ok := curReg[userID]; !ok {
			pipe.SAdd(ctx, memberKey(store.KindRegistered, userID), cur.ID)
		}
	}
	for userID := range curWait {
		if _, ok := nextWait[userID]; !ok {
			pipe.SRem(ctx, memberKey(store.KindWaitlisted, userID), cur.ID)
		}
	}
	for userID := range nextWait {
		if _, ok := curWait[userID]; !ok {
			pipe.SAdd(ctx, memberKey(store.KindWaitlisted, userID), cur.ID)
		}
	}
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
