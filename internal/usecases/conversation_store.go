package usecases

import (
	"sync"

	"tokobot/internal/entities"
)

// CustomerRepo is the durable side of the conversation store.
type CustomerRepo interface {
	GetOrCreate(address, nameHint string) (*entities.Customer, bool, error)
	GetByAddress(address string) (*entities.Customer, error)
	GetConversation(customerID int64) (entities.ConversationState, entities.ConvContext, error)
	SetState(customerID int64, state entities.ConversationState, cctx entities.ConvContext) error
	SetContext(customerID int64, cctx entities.ConvContext) error
	AdjustLeadScore(customerID int64, delta int) (int, error)
	SetName(customerID int64, name string) error
	RecomputeTag(customerID int64) (string, error)
	SetSubscribed(customerID int64, subscribed bool) error
	RecordOrder(customerID int64, total float64) error
}

// ConversationStore fronts the customer repository with an in-process cache of
// conversation state. All conversation-visible mutations go through here;
// handlers never keep their own copy across a dispatch cycle.
type ConversationStore struct {
	repo CustomerRepo

	mu    sync.RWMutex
	cache map[int64]*cachedConversation
}

type cachedConversation struct {
	state entities.ConversationState
	cctx  entities.ConvContext
}

func NewConversationStore(repo CustomerRepo) *ConversationStore {
	return &ConversationStore{
		repo:  repo,
		cache: make(map[int64]*cachedConversation),
	}
}

// GetOrCreate upserts a customer and reports whether it is brand new. The
// dispatcher uses created to force name registration.
func (s *ConversationStore) GetOrCreate(address, nameHint string) (*entities.Customer, bool, error) {
	c, created, err := s.repo.GetOrCreate(address, nameHint)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.mu.Lock()
		s.cache[c.ID] = &cachedConversation{state: entities.StateMenu}
		s.mu.Unlock()
	}
	return c, created, nil
}

func (s *ConversationStore) Customer(address string) (*entities.Customer, error) {
	return s.repo.GetByAddress(address)
}

// GetState returns current state and context, read-through cached.
func (s *ConversationStore) GetState(customerID int64) (entities.ConversationState, entities.ConvContext, error) {
	s.mu.RLock()
	if e, ok := s.cache[customerID]; ok {
		s.mu.RUnlock()
		return e.state, e.cctx, nil
	}
	s.mu.RUnlock()

	state, cctx, err := s.repo.GetConversation(customerID)
	if err != nil {
		return "", entities.ConvContext{}, err
	}
	s.mu.Lock()
	s.cache[customerID] = &cachedConversation{state: state, cctx: cctx}
	s.mu.Unlock()
	return state, cctx, nil
}

// SetState replaces state and context wholesale. Context never merges across
// transitions; a handler wanting to carry a field forward copies it
// explicitly.
func (s *ConversationStore) SetState(customerID int64, state entities.ConversationState, cctx entities.ConvContext) error {
	if err := s.repo.SetState(customerID, state, cctx); err != nil {
		s.invalidate(customerID)
		return err
	}
	s.mu.Lock()
	s.cache[customerID] = &cachedConversation{state: state, cctx: cctx}
	s.mu.Unlock()
	return nil
}

// SetContext mutates context in place while keeping the current state, e.g.
// recording an order note during checkout.
func (s *ConversationStore) SetContext(customerID int64, cctx entities.ConvContext) error {
	if err := s.repo.SetContext(customerID, cctx); err != nil {
		s.invalidate(customerID)
		return err
	}
	s.mu.Lock()
	if e, ok := s.cache[customerID]; ok {
		e.cctx = cctx
	}
	s.mu.Unlock()
	return nil
}

// invalidate drops the cache entry after a failed durable write. Handlers
// mutate context sub-structs through shared pointers before persisting, so
// after a write failure the cached copy can hold changes the database never
// saw; the next GetState re-reads the durable row instead.
func (s *ConversationStore) invalidate(customerID int64) {
	s.mu.Lock()
	delete(s.cache, customerID)
	s.mu.Unlock()
}

// AdjustLeadScore adds delta, flooring at zero. Never errors on negative
// results.
func (s *ConversationStore) AdjustLeadScore(customerID int64, delta int) (int, error) {
	return s.repo.AdjustLeadScore(customerID, delta)
}

func (s *ConversationStore) SetName(customerID int64, name string) error {
	return s.repo.SetName(customerID, name)
}

func (s *ConversationStore) RecomputeTag(customerID int64) (string, error) {
	return s.repo.RecomputeTag(customerID)
}

func (s *ConversationStore) SetSubscribed(customerID int64, subscribed bool) error {
	return s.repo.SetSubscribed(customerID, subscribed)
}

func (s *ConversationStore) RecordOrder(customerID int64, total float64) error {
	return s.repo.RecordOrder(customerID, total)
}
