package store

import (
	"sync"

	"github.com/medbridge-hq/medbridge-verifier/pkg/models"
)

// MemoryStore is an in-memory Store implementation. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	intents map[string]*models.PaymentIntent
	grants  map[string]*models.AccessGrant
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		intents: make(map[string]*models.PaymentIntent),
		grants:  make(map[string]*models.AccessGrant),
	}
}

func copyIntent(intent *models.PaymentIntent) *models.PaymentIntent {
	clone := *intent
	return &clone
}

func copyGrant(grant *models.AccessGrant) *models.AccessGrant {
	clone := *grant
	clone.DownloadHistory = append([]models.DownloadRecord(nil), grant.DownloadHistory...)
	return &clone
}

// CreateIntent stores a new payment intent
func (s *MemoryStore) CreateIntent(intent *models.PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[intent.ID] = copyIntent(intent)
	return nil
}

// GetIntent returns the intent with the given id
func (s *MemoryStore) GetIntent(id string) (*models.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	intent, ok := s.intents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyIntent(intent), nil
}

// GetActiveIntent returns the non-terminal intent for the pair
func (s *MemoryStore) GetActiveIntent(evaluationRef, payerWallet string) (*models.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, intent := range s.intents {
		if intent.EvaluationRef == evaluationRef && intent.PayerWallet == payerWallet && !intent.IsTerminal() {
			return copyIntent(intent), nil
		}
	}
	return nil, ErrNotFound
}

// UpdateIntent overwrites a stored intent
func (s *MemoryStore) UpdateIntent(intent *models.PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.intents[intent.ID]; !ok {
		return ErrNotFound
	}
	s.intents[intent.ID] = copyIntent(intent)
	return nil
}

// ListIntentsByStatus returns all intents with the given status
func (s *MemoryStore) ListIntentsByStatus(status models.IntentStatus) ([]*models.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*models.PaymentIntent
	for _, intent := range s.intents {
		if intent.Status == status {
			result = append(result, copyIntent(intent))
		}
	}
	return result, nil
}

// CreateGrant stores a new access grant
func (s *MemoryStore) CreateGrant(grant *models.AccessGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[grant.ID] = copyGrant(grant)
	return nil
}

// GetGrant returns the grant with the given id
func (s *MemoryStore) GetGrant(id string) (*models.AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	grant, ok := s.grants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyGrant(grant), nil
}

// GetActiveGrant returns the active grant for the pair
func (s *MemoryStore) GetActiveGrant(evaluationRef, granteeID string) (*models.AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, grant := range s.grants {
		if grant.EvaluationRef == evaluationRef && grant.GranteeID == granteeID && grant.Status == models.GrantStatusActive {
			return copyGrant(grant), nil
		}
	}
	return nil, ErrNotFound
}

// UpdateGrant overwrites a stored grant
func (s *MemoryStore) UpdateGrant(grant *models.AccessGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[grant.ID]; !ok {
		return ErrNotFound
	}
	s.grants[grant.ID] = copyGrant(grant)
	return nil
}

// ListGrantsByStatus returns all grants with the given status
func (s *MemoryStore) ListGrantsByStatus(status models.GrantStatus) ([]*models.AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*models.AccessGrant
	for _, grant := range s.grants {
		if grant.Status == status {
			result = append(result, copyGrant(grant))
		}
	}
	return result, nil
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error {
	return nil
}
