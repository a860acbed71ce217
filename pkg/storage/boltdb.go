package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/lightdaemon/lightd/pkg/lightderr"
	"github.com/lightdaemon/lightd/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketContainers = []byte("containers")

// BoltContainerStore is the containers.db-backed ContainerStore.
type BoltContainerStore struct {
	db *bolt.DB
}

// NewBoltContainerStore opens (creating if absent) containers.db under
// dataDir and preloads its bucket.
func NewBoltContainerStore(dataDir string) (*BoltContainerStore, error) {
	db, err := openBucket(filepath.Join(dataDir, "containers.db"), bucketContainers)
	if err != nil {
		return nil, err
	}
	return &BoltContainerStore{db: db}, nil
}

func (s *BoltContainerStore) Put(state *types.ContainerState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketContainers).Put([]byte(state.InternalID), data)
	})
}

func (s *BoltContainerStore) Get(internalID string) (*types.ContainerState, error) {
	var state types.ContainerState
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketContainers).Get([]byte(internalID))
		if data == nil {
			return lightderr.New(lightderr.NotFound, fmt.Sprintf("container %s not found", internalID))
		}
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *BoltContainerStore) List() ([]*types.ContainerState, error) {
	var out []*types.ContainerState
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContainers).ForEach(func(k, v []byte) error {
			var state types.ContainerState
			if err := json.Unmarshal(v, &state); err != nil {
				return err
			}
			out = append(out, &state)
			return nil
		})
	})
	return out, err
}

func (s *BoltContainerStore) Delete(internalID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContainers).Delete([]byte(internalID))
	})
}

func (s *BoltContainerStore) Close() error { return s.db.Close() }

// openBucket opens a bbolt database at path and ensures each given bucket
// exists, per the open question decision to preload buckets synchronously
// during daemon boot.
func openBucket(path string, buckets ...[]byte) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, lightderr.Wrap(lightderr.IO, fmt.Sprintf("open %s", path), err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, lightderr.Wrap(lightderr.IO, fmt.Sprintf("init buckets in %s", path), err)
	}
	return db, nil
}
