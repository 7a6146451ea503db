package store

import (
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/medbridge-hq/medbridge-verifier/pkg/models"
)

const (
	intentKeyPrefix = "intent_"
	grantKeyPrefix  = "grant_"
)

// LevelDBStore is a LevelDB-backed Store implementation
type LevelDBStore struct {
	db *leveldb.DB
}

var _ Store = (*LevelDBStore)(nil)

// NewLevelDBStore opens (or creates) a LevelDB database at the given path
func NewLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %v", path, err)
	}
	return &LevelDBStore{db: db}, nil
}

func (s *LevelDBStore) put(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(key), data, nil)
}

func (s *LevelDBStore) get(key string, out interface{}) error {
	data, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal(data, out)
}

// CreateIntent stores a new payment intent
func (s *LevelDBStore) CreateIntent(intent *models.PaymentIntent) error {
	return s.put(intentKeyPrefix+intent.ID, intent)
}

// GetIntent returns the intent with the given id
func (s *LevelDBStore) GetIntent(id string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := s.get(intentKeyPrefix+id, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// GetActiveIntent scans for the non-terminal intent for the pair
func (s *LevelDBStore) GetActiveIntent(evaluationRef, payerWallet string) (*models.PaymentIntent, error) {
	var found *models.PaymentIntent
	err := s.scanIntents(func(intent *models.PaymentIntent) bool {
		if intent.EvaluationRef == evaluationRef && intent.PayerWallet == payerWallet && !intent.IsTerminal() {
			found = intent
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// UpdateIntent overwrites a stored intent
func (s *LevelDBStore) UpdateIntent(intent *models.PaymentIntent) error {
	if _, err := s.GetIntent(intent.ID); err != nil {
		return err
	}
	return s.put(intentKeyPrefix+intent.ID, intent)
}

// ListIntentsByStatus returns all intents with the given status
func (s *LevelDBStore) ListIntentsByStatus(status models.IntentStatus) ([]*models.PaymentIntent, error) {
	var result []*models.PaymentIntent
	err := s.scanIntents(func(intent *models.PaymentIntent) bool {
		if intent.Status == status {
			result = append(result, intent)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *LevelDBStore) scanIntents(visit func(*models.PaymentIntent) bool) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(intentKeyPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		var intent models.PaymentIntent
		if err := json.Unmarshal(iter.Value(), &intent); err != nil {
			return fmt.Errorf("corrupt intent record %s: %v", string(iter.Key()), err)
		}
		if !visit(&intent) {
			break
		}
	}
	return iter.Error()
}

// CreateGrant stores a new access grant
func (s *LevelDBStore) CreateGrant(grant *models.AccessGrant) error {
	return s.put(grantKeyPrefix+grant.ID, grant)
}

// GetGrant returns the grant with the given id
func (s *LevelDBStore) GetGrant(id string) (*models.AccessGrant, error) {
	var grant models.AccessGrant
	if err := s.get(grantKeyPrefix+id, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

// GetActiveGrant scans for the active grant for the pair
func (s *LevelDBStore) GetActiveGrant(evaluationRef, granteeID string) (*models.AccessGrant, error) {
	var found *models.AccessGrant
	err := s.scanGrants(func(grant *models.AccessGrant) bool {
		if grant.EvaluationRef == evaluationRef && grant.GranteeID == granteeID && grant.Status == models.GrantStatusActive {
			found = grant
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// UpdateGrant overwrites a stored grant
func (s *LevelDBStore) UpdateGrant(grant *models.AccessGrant) error {
	if _, err := s.GetGrant(grant.ID); err != nil {
		return err
	}
	return s.put(grantKeyPrefix+grant.ID, grant)
}

// ListGrantsByStatus returns all grants with the given status
func (s *LevelDBStore) ListGrantsByStatus(status models.GrantStatus) ([]*models.AccessGrant, error) {
	var result []*models.AccessGrant
	err := s.scanGrants(func(grant *models.AccessGrant) bool {
		if grant.Status == status {
			result = append(result, grant)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *LevelDBStore) scanGrants(visit func(*models.AccessGrant) bool) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(grantKeyPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		var grant models.AccessGrant
		if err := json.Unmarshal(iter.Value(), &grant); err != nil {
			return fmt.Errorf("corrupt grant record %s: %v", string(iter.Key()), err)
		}
		if !visit(&grant) {
			break
		}
	}
	return iter.Error()
}

// Close closes the underlying database
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
