// Package store — хранение кэша тёплого старта в BoltDB, чтобы он
// переживал перезапуск демона.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"go.etcd.io/bbolt"

	"github.com/shiwa/lockstep/internal/timesync"
)

var (
	bucketSync = []byte("sync")
	keyWarm    = []byte("warm_cache")
)

// ErrCorrupt — запись в базе имеет неверный размер.
var ErrCorrupt = errors.New("store: corrupt warm cache record")

// warmRecordSize: offset int64, drift float64 bits, saved_at unix ms.
const warmRecordSize = 24

// Bolt реализует timesync.WarmStore.
type Bolt struct {
	db  *bbolt.DB
	now func() time.Time
}

var _ timesync.WarmStore = (*Bolt)(nil)

// Option — опция Open.
type Option func(*Bolt)

// WithWallClock подменяет настенные часы (для тестов).
func WithWallClock(now func() time.Time) Option { return func(b *Bolt) { b.now = now } }

// Open открывает (или создаёт) базу по пути path.
func Open(path string, opts ...Option) (*Bolt, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	b := &Bolt{db: db, now: time.Now}
	for _, o := range opts {
		o(b)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSync)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init store buckets: %w", err)
	}
	return b, nil
}

// Close закрывает базу.
func (b *Bolt) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Path — путь к файлу базы.
func (b *Bolt) Path() string { return b.db.Path() }

// SaveWarm сохраняет кэш вместе с настенным временем сохранения.
// CachedAtMs (монотонное) не сохраняется: после перезапуска оно бессмысленно.
func (b *Bolt) SaveWarm(c timesync.WarmCache) error {
	rec := make([]byte, warmRecordSize)
	binary.BigEndian.PutUint64(rec[0:], uint64(c.OffsetUs))
	binary.BigEndian.PutUint64(rec[8:], math.Float64bits(c.DriftUsPerMs))
	binary.BigEndian.PutUint64(rec[16:], uint64(b.now().UnixMilli()))

	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketSync).Put(keyWarm, rec); err != nil {
			return fmt.Errorf("save warm cache: %w", err)
		}
		return nil
	})
}

// LoadWarm читает кэш и его возраст. ok=false, если кэша нет.
// Запись из будущего (часы перевели назад) считается свежей.
func (b *Bolt) LoadWarm() (c timesync.WarmCache, age time.Duration, ok bool, err error) {
	err = b.db.View(func(tx *bbolt.Tx) error {
		rec := tx.Bucket(bucketSync).Get(keyWarm)
		if rec == nil {
			return nil
		}
		if len(rec) != warmRecordSize {
			return ErrCorrupt
		}
		c.OffsetUs = int64(binary.BigEndian.Uint64(rec[0:]))
		c.DriftUsPerMs = math.Float64frombits(binary.BigEndian.Uint64(rec[8:]))
		savedAt := time.UnixMilli(int64(binary.BigEndian.Uint64(rec[16:])))
		age = b.now().Sub(savedAt)
		if age < 0 {
			age = 0
		}
		ok = true
		return nil
	})
	if err != nil {
		return timesync.WarmCache{}, 0, false, fmt.Errorf("load warm cache: %w", err)
	}
	return c, age, ok, nil
}

// ClearWarm удаляет сохранённый кэш.
func (b *Bolt) ClearWarm() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSync).Delete(keyWarm)
	})
}
