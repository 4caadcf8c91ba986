package client

import (
	"strconv"

	"github.com/tidwall/buntdb"
	"github.com/tripwish/triproom/internal/types"
)

// SessionStore is the storage behind the suppression ledger. It lives for
// the session: entries survive component remounts but not a session
// restart.
type SessionStore interface {
	Put(key string) error
	Delete(key string) error
	Contains(key string) (bool, error)
	Close() error
}

// BuntSessionStore keeps session-scoped keys in an in-memory buntdb
// database.
type BuntSessionStore struct {
	db *buntdb.DB
}

func NewBuntSessionStore() (*BuntSessionStore, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, err
	}
	return &BuntSessionStore{db: db}, nil
}

func (s *BuntSessionStore) Put(key string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, "1", nil)
		return err
	})
}

func (s *BuntSessionStore) Delete(key string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

func (s *BuntSessionStore) Contains(key string) (bool, error) {
	found := false
	err := s.db.View(func(tx *buntdb.Tx) error {
		_, err := tx.Get(key)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func (s *BuntSessionStore) Close() error {
	return s.db.Close()
}

const suppressKeyPrefix = "suppress:"

// SuppressionLedger masks entity ids whose removal was requested locally so
// a stale snapshot or late echo cannot visually undo the delete. It is a
// client-side affordance guard, not a durability guarantee; the server
// remains the source of truth after the session ends.
type SuppressionLedger struct {
	store SessionStore
}

func NewSuppressionLedger(store SessionStore) *SuppressionLedger {
	return &SuppressionLedger{store: store}
}

func suppressKey(id int64) string {
	return suppressKeyPrefix + strconv.FormatInt(id, 10)
}

// Suppress records a local delete intent for an id. Entries never expire
// within the session.
func (l *SuppressionLedger) Suppress(id int64) error {
	return l.store.Put(suppressKey(id))
}

// Unsuppress removes an id from the ledger. Nothing calls this
// automatically; it exists for explicit reinstatement.
func (l *SuppressionLedger) Unsuppress(id int64) error {
	return l.store.Delete(suppressKey(id))
}

func (l *SuppressionLedger) IsSuppressed(id int64) bool {
	found, err := l.store.Contains(suppressKey(id))
	if err != nil {
		return false
	}
	return found
}

// FilterWants drops suppressed entries from an incoming snapshot. Every
// server snapshot must pass through here before being merged or rendered.
func (l *SuppressionLedger) FilterWants(items []types.WantItem) []types.WantItem {
	out := make([]types.WantItem, 0, len(items))
	for _, item := range items {
		if l.IsSuppressed(item.WantId) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// FilterIds drops suppressed ids from a plain id list.
func (l *SuppressionLedger) FilterIds(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if l.IsSuppressed(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}
