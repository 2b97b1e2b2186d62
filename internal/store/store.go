// Package store persists local session state: the enterprise token cache and
// the direct identity session. Values are JSON documents in a bbolt file.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketEnterprise = []byte("enterprise")
	bucketDirect     = []byte("direct")
	keyCurrent       = []byte("current")
)

// ErrNotFound is returned when no value has been saved.
var ErrNotFound = errors.New("not found")

// EnterpriseRecord is the cached enterprise account and its tokens.
type EnterpriseRecord struct {
	Subject      string    `json:"subject"`
	Name         string    `json:"name"`
	Username     string    `json:"username"`
	TenantID     string    `json:"tenant_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
	IDToken      string    `json:"id_token,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
}

// DirectRecord is a direct identity-service session.
type DirectRecord struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	SavedAt      time.Time `json:"saved_at"`
}

// Store is a bbolt-backed session store. It is safe for concurrent use.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the store at path.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("state path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketEnterprise, bucketDirect} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying file.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveEnterprise replaces the cached enterprise record.
func (s *Store) SaveEnterprise(ctx context.Context, rec *EnterpriseRecord) error {
	if rec == nil {
		return errors.New("record is required")
	}
	rec.SavedAt = time.Now().UTC()
	return s.put(bucketEnterprise, rec)
}

// LoadEnterprise returns the cached enterprise record or ErrNotFound.
func (s *Store) LoadEnterprise(ctx context.Context) (*EnterpriseRecord, error) {
	var rec EnterpriseRecord
	if err := s.get(bucketEnterprise, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ClearEnterprise removes the cached enterprise record.
func (s *Store) ClearEnterprise(ctx context.Context) error {
	return s.clear(bucketEnterprise)
}

// SaveDirect replaces the stored direct session.
func (s *Store) SaveDirect(ctx context.Context, rec *DirectRecord) error {
	if rec == nil {
		return errors.New("record is required")
	}
	rec.SavedAt = time.Now().UTC()
	return s.put(bucketDirect, rec)
}

// LoadDirect returns the stored direct session or ErrNotFound.
func (s *Store) LoadDirect(ctx context.Context) (*DirectRecord, error) {
	var rec DirectRecord
	if err := s.get(bucketDirect, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ClearDirect removes the stored direct session.
func (s *Store) ClearDirect(ctx context.Context) error {
	return s.clear(bucketDirect)
}

// ClearAll removes every stored session in one transaction.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketEnterprise, bucketDirect} {
			if err := tx.Bucket(name).Delete(keyCurrent); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) put(bucket []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(keyCurrent, data)
	})
}

func (s *Store) get(bucket []byte, v any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get(keyCurrent)
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, v)
	})
}

func (s *Store) clear(bucket []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete(keyCurrent)
	})
}
