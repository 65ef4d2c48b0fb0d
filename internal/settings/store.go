package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/router-for-me/chatgate/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type view struct {
	values    map[string][]byte
	updatedAt time.Time
}

// Snapshot is the in-memory copy of the settings table. Readers never block;
// a refresh swaps in a whole new view.
type Snapshot struct {
	v atomic.Pointer[view]
}

// NewSnapshot returns a snapshot holding no values.
func NewSnapshot() *Snapshot {
	s := &Snapshot{}
	s.v.Store(&view{values: map[string][]byte{}})
	return s
}

// Store swaps in values. Keys are trimmed and blank keys dropped.
func (s *Snapshot) Store(updatedAt time.Time, values map[string]json.RawMessage) {
	next := &view{values: make(map[string][]byte, len(values)), updatedAt: updatedAt.UTC()}
	for k, raw := range values {
		if k = strings.TrimSpace(k); k != "" {
			next.values[k] = bytes.Clone(raw)
		}
	}
	s.v.Store(next)
}

// UpdatedAt is the newest row timestamp seen by the last refresh.
func (s *Snapshot) UpdatedAt() time.Time {
	if cur := s.current(); cur != nil {
		return cur.updatedAt
	}
	return time.Time{}
}

// Value returns a private copy of the JSON stored under key.
func (s *Snapshot) Value(key string) (json.RawMessage, bool) {
	cur := s.current()
	if cur == nil {
		return nil, false
	}
	raw, ok := cur.values[strings.TrimSpace(key)]
	if !ok {
		return nil, false
	}
	return bytes.Clone(raw), true
}

func (s *Snapshot) current() *view {
	if s == nil {
		return nil
	}
	return s.v.Load()
}

// Refresh loads the settings table into snap. Until the first call, Value
// finds nothing and callers use their file defaults. Rows that cannot be read
// or hold invalid JSON are logged and left out of the snapshot.
func Refresh(ctx context.Context, db *gorm.DB, snap *Snapshot) error {
	switch {
	case db == nil:
		return errors.New("settings: nil db")
	case snap == nil:
		return errors.New("settings: nil snapshot")
	}

	rows, errRows := db.WithContext(ctx).Model(&models.Setting{}).Rows()
	if errRows != nil {
		return fmt.Errorf("settings: load: %w", errRows)
	}
	defer func() { _ = rows.Close() }()

	values := make(map[string]json.RawMessage)
	var newest time.Time
	for rows.Next() {
		var row models.Setting
		if errScan := db.ScanRows(rows, &row); errScan != nil {
			log.WithError(errScan).Warn("settings: skipping unreadable row")
			continue
		}
		if !json.Valid([]byte(row.Value)) {
			log.WithField("key", row.Key).Warn("settings: skipping row with invalid json")
			continue
		}
		values[row.Key] = json.RawMessage(row.Value)
		if row.UpdatedAt.After(newest) {
			newest = row.UpdatedAt
		}
	}
	if errIter := rows.Err(); errIter != nil {
		return fmt.Errorf("settings: load: %w", errIter)
	}
	snap.Store(newest, values)
	return nil
}

// Put stores value under key as JSON, replacing any existing row.
func Put(ctx context.Context, db *gorm.DB, key string, value any, now time.Time) error {
	if key = strings.TrimSpace(key); key == "" {
		return errors.New("settings: empty key")
	}
	encoded, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return fmt.Errorf("settings: encode %s: %w", key, errMarshal)
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&models.Setting{Key: key, Value: string(encoded), UpdatedAt: now.UTC()}).Error
}
