package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/lightdaemon/lightd/pkg/lightderr"
	"github.com/lightdaemon/lightd/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketPorts = []byte("ports")

// BoltPortStore is the network.db-backed PortStore.
type BoltPortStore struct {
	db *bolt.DB
}

// NewBoltPortStore opens (creating if absent) network.db under dataDir.
func NewBoltPortStore(dataDir string) (*BoltPortStore, error) {
	db, err := openBucket(filepath.Join(dataDir, "network.db"), bucketPorts)
	if err != nil {
		return nil, err
	}
	return &BoltPortStore{db: db}, nil
}

func (s *BoltPortStore) Put(port *types.NetworkPort) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(port)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPorts).Put([]byte(port.ID), data)
	})
}

func (s *BoltPortStore) Get(id string) (*types.NetworkPort, error) {
	var port types.NetworkPort
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPorts).Get([]byte(id))
		if data == nil {
			return lightderr.New(lightderr.NotFound, fmt.Sprintf("port %s not found", id))
		}
		return json.Unmarshal(data, &port)
	})
	if err != nil {
		return nil, err
	}
	return &port, nil
}

func (s *BoltPortStore) List() ([]*types.NetworkPort, error) {
	var out []*types.NetworkPort
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPorts).ForEach(func(k, v []byte) error {
			var port types.NetworkPort
			if err := json.Unmarshal(v, &port); err != nil {
				return err
			}
			out = append(out, &port)
			return nil
		})
	})
	return out, err
}

func (s *BoltPortStore) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPorts).Delete([]byte(id))
	})
}

func (s *BoltPortStore) Close() error { return s.db.Close() }
