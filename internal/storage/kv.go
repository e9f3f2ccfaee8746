package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/quantumlife/worktrail/internal/core"
)

// Top-level keys of the persisted layout.
const (
	KeyActivities          = "activities"
	KeySettings            = "settings"
	KeyFocusSessions       = "focusSessions"
	KeyProjectMappings     = "projectMappings"
	KeyURLProjectMappings  = "urlProjectMappings"
	KeyJiraProjectMappings = "jiraProjectMappings"
	KeyMeetingMappings     = "meetingMappings"
	KeyCustomTags          = "customTags"
	KeyProjects            = "projects"
	KeyActivityTypes       = "activityTypes"
	KeyVersion             = "version"
)

// Sealer encrypts values at rest. The key name is bound as additional data
// so a value cannot be moved to another key.
type Sealer interface {
	Seal(plaintext, additional []byte) ([]byte, error)
	Open(data, additional []byte) ([]byte, error)
}

// KV is the key/value layer. Every Set is a single committed statement.
type KV struct {
	db     *DB
	sealer Sealer
}

// NewKV creates a key/value layer. A nil sealer stores plaintext.
func NewKV(db *DB, sealer Sealer) *KV {
	return &KV{db: db, sealer: sealer}
}

func storeErr(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", core.ErrStore, op, key, err)
}

func corruptErr(key string, err error) error {
	return fmt.Errorf("%w: %s: %w", core.ErrCorrupt, key, err)
}

// Get decodes the value under key into dst. It reports false when the key
// is absent.
func (kv *KV) Get(key string, dst interface{}) (bool, error) {
	var raw []byte
	var sealed bool
	err := kv.db.conn.QueryRow("SELECT value, sealed FROM kv WHERE key = ?", key).Scan(&raw, &sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("get", key, err)
	}
	if err := kv.decode(key, raw, sealed, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (kv *KV) decode(key string, raw []byte, sealed bool, dst interface{}) error {
	data := raw
	if sealed {
		if kv.sealer == nil {
			return corruptErr(key, errors.New("value is encrypted but no key is configured"))
		}
		plain, err := kv.sealer.Open(raw, []byte(key))
		if err != nil {
			return corruptErr(key, err)
		}
		data = plain
	}
	if err := sonic.Unmarshal(data, dst); err != nil {
		return corruptErr(key, err)
	}
	return nil
}

func (kv *KV) encode(key string, v interface{}) ([]byte, bool, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, false, fmt.Errorf("encode %s: %w", key, err)
	}
	if kv.sealer == nil {
		return data, false, nil
	}
	sealed, err := kv.sealer.Seal(data, []byte(key))
	if err != nil {
		return nil, false, storeErr("seal", key, err)
	}
	return sealed, true, nil
}

// Set encodes v and writes it under key.
func (kv *KV) Set(key string, v interface{}) error {
	value, sealed, err := kv.encode(key, v)
	if err != nil {
		return err
	}
	_, err = kv.db.conn.Exec(`
		INSERT INTO kv (key, value, sealed, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, sealed = excluded.sealed, updated_at = excluded.updated_at
	`, key, value, sealed, time.Now().UTC())
	if err != nil {
		return storeErr("set", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (kv *KV) Delete(key string) error {
	if _, err := kv.db.conn.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return storeErr("delete", key, err)
	}
	return nil
}

// Keys lists every key in the table.
func (kv *KV) Keys() ([]string, error) {
	rows, err := kv.db.conn.Query("SELECT key FROM kv ORDER BY key")
	if err != nil {
		return nil, storeErr("list", "keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, storeErr("list", "keys", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Verify decodes every live value and returns the first corruption found.
// Quarantined values are skipped.
func (kv *KV) Verify() error {
	rows, err := kv.db.conn.Query("SELECT key, value, sealed FROM kv WHERE key NOT LIKE '%.corrupt-%'")
	if err != nil {
		return storeErr("verify", "kv", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var raw []byte
		var sealed bool
		if err := rows.Scan(&key, &raw, &sealed); err != nil {
			return storeErr("verify", "kv", err)
		}
		var v interface{}
		if err := kv.decode(key, raw, sealed, &v); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Quarantine moves the raw value of key aside to "<key>.corrupt-<unix>" so
// the key can be rewritten from scratch. It returns the quarantine key.
func (kv *KV) Quarantine(key string) (string, error) {
	aside := fmt.Sprintf("%s.corrupt-%d", key, time.Now().UnixNano())
	err := kv.db.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO kv (key, value, sealed, updated_at)
			SELECT ?, value, sealed, updated_at FROM kv WHERE key = ?
		`, aside, key); err != nil {
			return err
		}
		_, err := tx.Exec("DELETE FROM kv WHERE key = ?", key)
		return err
	})
	if err != nil {
		return "", storeErr("quarantine", key, err)
	}
	return aside, nil
}
