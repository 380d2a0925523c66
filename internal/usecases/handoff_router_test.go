package usecases

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokobot/internal/entities"
)

func newRouterFixture() (*HandoffRouter, *memHandoffRepo, *memAgentRepo) {
	agents := &memAgentRepo{}
	handoffs := &memHandoffRepo{agents: agents}
	return NewHandoffRouter(handoffs, agents, zerolog.Nop()), handoffs, agents
}

func TestAssignThenResolveRoundTrip(t *testing.T) {
	router, handoffs, agents := newRouterFixture()
	agents.add(&entities.Agent{ID: 1, Name: "Budi", Address: "628900", Active: true})

	h, err := router.Initiate(42, "needs help")
	require.NoError(t, err)
	assert.Equal(t, entities.HandoffPending, h.Status)
	assert.False(t, router.IsCustomerInSession("628111"), "pending handoff has no live session")

	agent, err := router.FindAvailableAgent()
	require.NoError(t, err)
	require.NotNil(t, agent)

	require.NoError(t, router.Assign(h.ID, agent, "628111"))

	assert.True(t, router.IsCustomerInSession("628111"))
	peer, ok := router.PeerOf("628111")
	require.True(t, ok)
	assert.Equal(t, "628900", peer)
	peer, ok = router.PeerOf("628900")
	require.True(t, ok)
	assert.Equal(t, "628111", peer)
	assert.Equal(t, 1, router.ActiveSessions())
	busy, _ := agents.GetByAddress("628900")
	assert.Equal(t, "628111", busy.CurrentCustomer)

	freed, err := router.Resolve("628900")
	require.NoError(t, err)
	assert.Equal(t, "628111", freed)

	// Indistinguishable from before assign: no index entries, agent idle.
	assert.False(t, router.IsCustomerInSession("628111"))
	_, ok = router.PeerOf("628900")
	assert.False(t, ok)
	assert.Equal(t, 0, router.ActiveSessions())
	idle, _ := agents.GetByAddress("628900")
	assert.Empty(t, idle.CurrentCustomer)
	assert.Empty(t, handoffs.byStatus(entities.HandoffActive))
}

func TestRestoreRebuildsLiveIndex(t *testing.T) {
	agents := &memAgentRepo{}
	handoffs := &memHandoffRepo{agents: agents}
	agents.add(&entities.Agent{ID: 1, Name: "Budi", Address: "628900", Active: true})

	// Seed storage with an active handoff as if a previous process assigned it.
	h, err := handoffs.Insert(42, "needs help")
	require.NoError(t, err)
	require.NoError(t, handoffs.Assign(h.ID, 1, "628111"))

	// A fresh router knows nothing until Restore.
	router := NewHandoffRouter(handoffs, agents, zerolog.Nop())
	assert.False(t, router.IsCustomerInSession("628111"))

	require.NoError(t, router.Restore())

	assert.True(t, router.IsCustomerInSession("628111"))
	peer, ok := router.PeerOf("628111")
	require.True(t, ok)
	assert.Equal(t, "628900", peer)
	peer, ok = router.PeerOf("628900")
	require.True(t, ok)
	assert.Equal(t, "628111", peer)
}

func TestFindAvailableAgentPrefersLongestIdle(t *testing.T) {
	router, _, agents := newRouterFixture()
	earlier := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Hour)

	agents.add(&entities.Agent{ID: 1, Name: "Ani", Address: "628901", Active: true, LastActiveAt: &later})
	agents.add(&entities.Agent{ID: 2, Name: "Budi", Address: "628902", Active: true, LastActiveAt: &earlier})
	agents.add(&entities.Agent{ID: 3, Name: "Citra", Address: "628903", Active: false})

	agent, err := router.FindAvailableAgent()
	require.NoError(t, err)
	require.NotNil(t, agent)
	assert.Equal(t, int64(2), agent.ID, "oldest last activity wins")

	// A never-active agent beats any timestamp.
	agents.add(&entities.Agent{ID: 4, Name: "Dewi", Address: "628904", Active: true})
	agent, err = router.FindAvailableAgent()
	require.NoError(t, err)
	assert.Equal(t, int64(4), agent.ID)

	// Two never-active agents tie-break on id ascending.
	agents.add(&entities.Agent{ID: 5, Name: "Eka", Address: "628905", Active: true})
	agent, err = router.FindAvailableAgent()
	require.NoError(t, err)
	assert.Equal(t, int64(4), agent.ID)
}

func TestFindAvailableAgentNoneFree(t *testing.T) {
	router, _, agents := newRouterFixture()
	agents.add(&entities.Agent{ID: 1, Name: "Budi", Address: "628900", Active: true, CurrentCustomer: "628111"})

	agent, err := router.FindAvailableAgent()
	require.NoError(t, err)
	assert.Nil(t, agent, "busy agents are not available")
}

func TestAssignFailureLeavesIndexUntouched(t *testing.T) {
	router, handoffs, agents := newRouterFixture()
	agents.add(&entities.Agent{ID: 1, Name: "Budi", Address: "628900", Active: true})

	h, err := router.Initiate(42, "needs help")
	require.NoError(t, err)

	handoffs.failAssign = errors.New("connection reset")
	agent, _ := router.FindAvailableAgent()
	err = router.Assign(h.ID, agent, "628111")
	require.Error(t, err)

	assert.False(t, router.IsCustomerInSession("628111"))
	assert.Equal(t, 0, router.ActiveSessions())
	idle, _ := agents.GetByAddress("628900")
	assert.Empty(t, idle.CurrentCustomer)
}

func TestResolveWithoutSessionIsNotAnError(t *testing.T) {
	router, _, agents := newRouterFixture()
	agents.add(&entities.Agent{ID: 1, Name: "Budi", Address: "628900", Active: true})

	freed, err := router.Resolve("628900")
	require.NoError(t, err)
	assert.Empty(t, freed)

	freed, err = router.ResolveByCustomer("628111")
	require.NoError(t, err)
	assert.Empty(t, freed)
}

func TestResolveByCustomerFreesAgentDurably(t *testing.T) {
	router, handoffs, agents := newRouterFixture()
	agents.add(&entities.Agent{ID: 1, Name: "Budi", Address: "628900", Active: true})

	h, err := router.Initiate(42, "needs help")
	require.NoError(t, err)
	agent, _ := router.FindAvailableAgent()
	require.NoError(t, router.Assign(h.ID, agent, "628111"))

	freedAgent, err := router.ResolveByCustomer("628111")
	require.NoError(t, err)
	assert.Equal(t, "628900", freedAgent)

	// Durable resolve happened too, not just the index drop.
	assert.Empty(t, handoffs.byStatus(entities.HandoffActive))
	idle, _ := agents.GetByAddress("628900")
	assert.Empty(t, idle.CurrentCustomer)
	assert.False(t, router.IsCustomerInSession("628111"))
}

func TestInitiateResolvesPreviousOpenHandoff(t *testing.T) {
	router, handoffs, _ := newRouterFixture()

	first, err := router.Initiate(42, "first ask")
	require.NoError(t, err)
	second, err := router.Initiate(42, "asked again")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	// Last request wins: exactly one open handoff per customer.
	pending := handoffs.byStatus(entities.HandoffPending)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)
}

func TestCustomerShardKeyMapsAgentToPeer(t *testing.T) {
	router, _, agents := newRouterFixture()
	agents.add(&entities.Agent{ID: 1, Name: "Budi", Address: "628900", Active: true})

	h, err := router.Initiate(42, "needs help")
	require.NoError(t, err)
	agent, _ := router.FindAvailableAgent()
	require.NoError(t, router.Assign(h.ID, agent, "628111"))

	assert.Equal(t, "628111", router.CustomerShardKey("628900"), "agent messages shard by their customer peer")
	assert.Equal(t, "628111", router.CustomerShardKey("628111"))
	assert.Equal(t, "628222", router.CustomerShardKey("628222"), "addresses without a session shard by themselves")
}
