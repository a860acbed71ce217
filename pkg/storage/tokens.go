package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/lightdaemon/lightd/pkg/lightderr"
	"github.com/lightdaemon/lightd/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketTokens = []byte("tokens")

// BoltTokenStore is the tokens.db-backed TokenStore.
type BoltTokenStore struct {
	db *bolt.DB
}

// NewBoltTokenStore opens (creating if absent) tokens.db under dataDir.
func NewBoltTokenStore(dataDir string) (*BoltTokenStore, error) {
	db, err := openBucket(filepath.Join(dataDir, "tokens.db"), bucketTokens)
	if err != nil {
		return nil, err
	}
	return &BoltTokenStore{db: db}, nil
}

func (s *BoltTokenStore) Put(tok *types.TokenRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(tok)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTokens).Put([]byte(tok.Token), data)
	})
}

func (s *BoltTokenStore) Get(token string) (*types.TokenRecord, error) {
	var tok types.TokenRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTokens).Get([]byte(token))
		if data == nil {
			return lightderr.New(lightderr.NotFound, fmt.Sprintf("token %s not found", token))
		}
		return json.Unmarshal(data, &tok)
	})
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

func (s *BoltTokenStore) List() ([]*types.TokenRecord, error) {
	var out []*types.TokenRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTokens).ForEach(func(k, v []byte) error {
			var tok types.TokenRecord
			if err := json.Unmarshal(v, &tok); err != nil {
				return err
			}
			out = append(out, &tok)
			return nil
		})
	})
	return out, err
}

func (s *BoltTokenStore) Delete(token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTokens).Delete([]byte(token))
	})
}

func (s *BoltTokenStore) Close() error { return s.db.Close() }
