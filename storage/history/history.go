// Package history remembers the servers this client connected to, for
// "reconnect to last server" style features.
package history

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/linchenxuan/netclient/log"
)

var _bucket = []byte("servers")

var _encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("history: store closed")

// Config holds the store settings.
type Config struct {
	Enable    bool   `mapstructure:"enable"`
	Path      string `mapstructure:"path"`      // Database file.
	MaxItems  int    `mapstructure:"maxItems"`  // Oldest entries beyond this count are pruned.
	TimeoutMs int    `mapstructure:"timeoutMs"` // Time to wait for the file lock.
}

// GetName returns the configuration key for Config.
func (c *Config) GetName() string {
	return "history"
}

// Validate fills in defaults.
func (c *Config) Validate() error {
	if !c.Enable {
		return nil
	}
	if c.Path == "" {
		return errors.New("history path cannot be empty")
	}
	if c.MaxItems <= 0 {
		c.MaxItems = 32
	}
	if c.TimeoutMs <= 0 {
		c.TimeoutMs = 1000
	}
	return nil
}

// Entry is one remembered server.
type Entry struct {
	Address       string    `cbor:"1,keyasint"`
	RootURL       string    `cbor:"2,keyasint"`
	LastConnected time.Time `cbor:"3,keyasint"`
	Count         uint32    `cbor:"4,keyasint"`
}

// Store is a bbolt backed server history keyed by address.
type Store struct {
	db       *bolt.DB
	maxItems int
}

// Open opens or creates the database at cfg.Path.
func Open(cfg *Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid history config: %w", err)
	}
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", cfg.Path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(_bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history %s: %w", cfg.Path, err)
	}
	return &Store{db: db, maxItems: cfg.MaxItems}, nil
}

// Record notes a successful connection to addr at the given time.
func (s *Store) Record(addr, rootURL string, at time.Time) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(_bucket)
		e := Entry{Address: addr}
		if raw := b.Get([]byte(addr)); raw != nil {
			if err := cbor.Unmarshal(raw, &e); err != nil {
				log.Warn().Str("addr", addr).Err(err).Msg("history entry unreadable, overwriting")
				e = Entry{Address: addr}
			}
		}
		if rootURL != "" {
			e.RootURL = rootURL
		}
		e.LastConnected = at.UTC()
		e.Count++

		raw, err := _encMode.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode history entry: %w", err)
		}
		if err := b.Put([]byte(addr), raw); err != nil {
			return err
		}
		return s.prune(b)
	})
}

// prune drops the oldest entries above maxItems.
func (s *Store) prune(b *bolt.Bucket) error {
	if s.maxItems <= 0 {
		return nil
	}
	entries, err := readAll(b)
	if err != nil || len(entries) <= s.maxItems {
		return err
	}
	for _, e := range entries[s.maxItems:] {
		if err := b.Delete([]byte(e.Address)); err != nil {
			return err
		}
	}
	return nil
}

// readAll returns every entry, most recent first.
func readAll(b *bolt.Bucket) ([]Entry, error) {
	var out []Entry
	err := b.ForEach(func(k, v []byte) error {
		var e Entry
		if err := cbor.Unmarshal(v, &e); err != nil {
			log.Warn().Str("addr", string(k)).Err(err).Msg("skip unreadable history entry")
			return nil
		}
		out = append(out, e)
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastConnected.After(out[j].LastConnected)
	})
	return out, err
}

// List returns up to limit entries, most recent first. A non-positive limit
// returns everything.
func (s *Store) List(limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	var out []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = readAll(tx.Bucket(_bucket))
		return err
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Last returns the most recently connected server.
func (s *Store) Last() (Entry, bool, error) {
	entries, err := s.List(1)
	if err != nil || len(entries) == 0 {
		return Entry{}, false, err
	}
	return entries[0], true, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
