package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/lightdaemon/lightd/pkg/lightderr"
	"github.com/lightdaemon/lightd/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketRules = []byte("rules")
	bucketDDoS  = []byte("ddos")
)

// BoltFirewallStore is the firewall.db-backed FirewallStore.
type BoltFirewallStore struct {
	db *bolt.DB
}

// NewBoltFirewallStore opens (creating if absent) firewall.db under
// dataDir.
func NewBoltFirewallStore(dataDir string) (*BoltFirewallStore, error) {
	db, err := openBucket(filepath.Join(dataDir, "firewall.db"), bucketRules, bucketDDoS)
	if err != nil {
		return nil, err
	}
	return &BoltFirewallStore{db: db}, nil
}

func (s *BoltFirewallStore) PutRule(rule *types.FirewallRule) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rule)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRules).Put([]byte(rule.ID), data)
	})
}

func (s *BoltFirewallStore) GetRule(id string) (*types.FirewallRule, error) {
	var rule types.FirewallRule
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRules).Get([]byte(id))
		if data == nil {
			return lightderr.New(lightderr.NotFound, fmt.Sprintf("firewall rule %s not found", id))
		}
		return json.Unmarshal(data, &rule)
	})
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *BoltFirewallStore) ListRules() ([]*types.FirewallRule, error) {
	var out []*types.FirewallRule
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRules).ForEach(func(k, v []byte) error {
			var rule types.FirewallRule
			if err := json.Unmarshal(v, &rule); err != nil {
				return err
			}
			out = append(out, &rule)
			return nil
		})
	})
	return out, err
}

func (s *BoltFirewallStore) DeleteRule(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRules).Delete([]byte(id))
	})
}

func (s *BoltFirewallStore) PutDDoS(containerID string, ddos *types.DDoSProtection) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(ddos)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketDDoS).Put([]byte(containerID), data)
	})
}

func (s *BoltFirewallStore) GetDDoS(containerID string) (*types.DDoSProtection, error) {
	var ddos types.DDoSProtection
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDDoS).Get([]byte(containerID))
		if data == nil {
			return lightderr.New(lightderr.NotFound, fmt.Sprintf("ddos config for %s not found", containerID))
		}
		return json.Unmarshal(data, &ddos)
	})
	if err != nil {
		return nil, err
	}
	return &ddos, nil
}

func (s *BoltFirewallStore) DeleteDDoS(containerID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDDoS).Delete([]byte(containerID))
	})
}

func (s *BoltFirewallStore) Close() error { return s.db.Close() }
