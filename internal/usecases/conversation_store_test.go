package usecases

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokobot/internal/entities"
)

var errPersist = errors.New("connection reset")

func TestConversationStoreCreateSeedsCache(t *testing.T) {
	repo := newMemCustomerRepo()
	store := NewConversationStore(repo)

	c, created, err := store.GetOrCreate("628111", "")
	require.NoError(t, err)
	assert.True(t, created)

	state, cctx, err := store.GetState(c.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StateMenu, state)
	assert.True(t, cctx.IsEmpty())
	assert.Zero(t, repo.conversationReads, "a freshly created conversation must be served from cache")
}

func TestConversationStoreReadThrough(t *testing.T) {
	repo := newMemCustomerRepo()
	c, _, err := repo.GetOrCreate("628111", "Alice")
	require.NoError(t, err)
	require.NoError(t, repo.SetState(c.ID, entities.StateAIChat, entities.ConvContext{}))

	// A store created after the fact (e.g. process restart) has a cold cache.
	store := NewConversationStore(repo)

	state, _, err := store.GetState(c.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StateAIChat, state)
	assert.Equal(t, 1, repo.conversationReads)

	_, _, err = store.GetState(c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.conversationReads, "second read must hit the cache")
}

func TestConversationStoreSetStateWritesThrough(t *testing.T) {
	repo := newMemCustomerRepo()
	store := NewConversationStore(repo)
	c, _, err := store.GetOrCreate("628111", "Alice")
	require.NoError(t, err)

	cctx := entities.ConvContext{Catalog: &entities.CatalogContext{Categories: []string{"Coffee"}}}
	require.NoError(t, store.SetState(c.ID, entities.StateBrowsingCatalog, cctx))

	// Durable copy is current...
	repoState, repoCtx, err := repo.GetConversation(c.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StateBrowsingCatalog, repoState)
	require.NotNil(t, repoCtx.Catalog)
	assert.Equal(t, []string{"Coffee"}, repoCtx.Catalog.Categories)

	// ...and so is the cached one, with no extra storage read.
	reads := repo.conversationReads
	state, gotCtx, err := store.GetState(c.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StateBrowsingCatalog, state)
	require.NotNil(t, gotCtx.Catalog)
	assert.Equal(t, reads, repo.conversationReads)
}

func TestConversationStoreTransitionReplacesContextWholesale(t *testing.T) {
	repo := newMemCustomerRepo()
	store := NewConversationStore(repo)
	c, _, err := store.GetOrCreate("628111", "Alice")
	require.NoError(t, err)

	browsing := entities.ConvContext{Category: &entities.CategoryContext{Category: "Coffee", ProductIDs: []int64{1, 2}}}
	require.NoError(t, store.SetState(c.ID, entities.StateBrowsingCategory, browsing))

	require.NoError(t, store.SetState(c.ID, entities.StateCheckout, entities.ConvContext{Checkout: &entities.CheckoutContext{}}))

	_, cctx, err := store.GetState(c.ID)
	require.NoError(t, err)
	assert.Nil(t, cctx.Category, "old state's context must not leak across a transition")
	assert.NotNil(t, cctx.Checkout)
}

func TestConversationStoreSetContextKeepsState(t *testing.T) {
	repo := newMemCustomerRepo()
	store := NewConversationStore(repo)
	c, _, err := store.GetOrCreate("628111", "Alice")
	require.NoError(t, err)

	require.NoError(t, store.SetState(c.ID, entities.StateCheckout, entities.ConvContext{Checkout: &entities.CheckoutContext{}}))
	require.NoError(t, store.SetContext(c.ID, entities.ConvContext{Checkout: &entities.CheckoutContext{Note: "ring the bell"}}))

	state, cctx, err := store.GetState(c.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StateCheckout, state)
	require.NotNil(t, cctx.Checkout)
	assert.Equal(t, "ring the bell", cctx.Checkout.Note)
}

func TestConversationStoreFailedWriteEvictsCacheEntry(t *testing.T) {
	repo := newMemCustomerRepo()
	store := NewConversationStore(repo)
	c, _, err := store.GetOrCreate("628111", "Alice")
	require.NoError(t, err)

	require.NoError(t, store.SetState(c.ID, entities.StateBrowsingCatalog,
		entities.ConvContext{Catalog: &entities.CatalogContext{Categories: []string{"Coffee"}}}))

	// Handlers mutate context through the shared sub-struct pointer and only
	// then persist, same as the search path does.
	_, cctx, err := store.GetState(c.ID)
	require.NoError(t, err)
	cctx.Catalog.SearchResultIDs = []int64{7}

	repo.failSetContext = errPersist
	require.Error(t, store.SetContext(c.ID, cctx))
	repo.failSetContext = nil

	// The next read must reflect the durable row, not the mutated cache copy.
	_, got, err := store.GetState(c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Catalog)
	assert.Empty(t, got.Catalog.SearchResultIDs, "cache must not outlive a failed durable write")
	assert.Equal(t, []string{"Coffee"}, got.Catalog.Categories)
}

func TestConversationStoreFailedStateWriteEvictsCacheEntry(t *testing.T) {
	repo := newMemCustomerRepo()
	store := NewConversationStore(repo)
	c, _, err := store.GetOrCreate("628111", "Alice")
	require.NoError(t, err)

	repo.failSetState = errPersist
	require.Error(t, store.SetState(c.ID, entities.StateAIChat, entities.ConvContext{}))
	repo.failSetState = nil

	state, _, err := store.GetState(c.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StateMenu, state, "state stays what the database holds")
}

func TestConversationStoreLeadScoreFloorsAtZero(t *testing.T) {
	repo := newMemCustomerRepo()
	store := NewConversationStore(repo)
	c, _, err := store.GetOrCreate("628111", "Alice")
	require.NoError(t, err)

	score, err := store.AdjustLeadScore(c.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, score)

	score, err = store.AdjustLeadScore(c.ID, -20)
	require.NoError(t, err)
	assert.Equal(t, 0, score, "lead score never goes negative")
}
