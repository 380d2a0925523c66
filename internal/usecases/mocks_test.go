package usecases

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tokobot/internal/entities"
	"tokobot/internal/interfaces"
	"tokobot/internal/repository"
)

// In-memory collaborators shared by the tests in this package. They mirror the
// semantics of the real repositories, including the transactional side effects
// (assign marks the agent busy, resolve frees them).

type memCustomerRepo struct {
	mu     sync.Mutex
	nextID int64
	byAddr map[string]*entities.Customer
	byID   map[int64]*entities.Customer
	states map[int64]entities.ConversationState
	ctxs   map[int64]entities.ConvContext

	conversationReads int
	failSetState      error
	failSetContext    error
}

// copyCtx round-trips a context through JSON, the same decoupling the real
// repository gets from the JSONB column. Stored contexts never share pointers
// with the caller's copy.
func copyCtx(cctx entities.ConvContext) entities.ConvContext {
	b, _ := json.Marshal(cctx)
	var out entities.ConvContext
	_ = json.Unmarshal(b, &out)
	return out
}

func newMemCustomerRepo() *memCustomerRepo {
	return &memCustomerRepo{
		byAddr: make(map[string]*entities.Customer),
		byID:   make(map[int64]*entities.Customer),
		states: make(map[int64]entities.ConversationState),
		ctxs:   make(map[int64]entities.ConvContext),
	}
}

func (r *memCustomerRepo) GetOrCreate(address, nameHint string) (*entities.Customer, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byAddr[address]; ok {
		if c.Name == "" && nameHint != "" {
			c.Name = nameHint
		}
		c.LastSeenAt = time.Now()
		cp := *c
		return &cp, false, nil
	}
	r.nextID++
	c := &entities.Customer{
		ID:         r.nextID,
		Address:    address,
		Name:       nameHint,
		Tag:        entities.TagNew,
		Subscribed: true,
		CreatedAt:  time.Now(),
		LastSeenAt: time.Now(),
	}
	r.byAddr[address] = c
	r.byID[c.ID] = c
	r.states[c.ID] = entities.StateMenu
	r.ctxs[c.ID] = entities.ConvContext{}
	cp := *c
	return &cp, true, nil
}

func (r *memCustomerRepo) GetByAddress(address string) (*entities.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byAddr[address]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (r *memCustomerRepo) GetConversation(customerID int64) (entities.ConversationState, entities.ConvContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversationReads++
	return r.states[customerID], copyCtx(r.ctxs[customerID]), nil
}

func (r *memCustomerRepo) SetState(customerID int64, state entities.ConversationState, cctx entities.ConvContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSetState != nil {
		return r.failSetState
	}
	r.states[customerID] = state
	r.ctxs[customerID] = copyCtx(cctx)
	return nil
}

func (r *memCustomerRepo) SetContext(customerID int64, cctx entities.ConvContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSetContext != nil {
		return r.failSetContext
	}
	r.ctxs[customerID] = copyCtx(cctx)
	return nil
}

func (r *memCustomerRepo) AdjustLeadScore(customerID int64, delta int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.byID[customerID]
	c.LeadScore += delta
	if c.LeadScore < 0 {
		c.LeadScore = 0
	}
	return c.LeadScore, nil
}

func (r *memCustomerRepo) SetName(customerID int64, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[customerID].Name = name
	return nil
}

func (r *memCustomerRepo) RecomputeTag(customerID int64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.byID[customerID]
	c.Tag = entities.TagForScore(c.LeadScore)
	return c.Tag, nil
}

func (r *memCustomerRepo) SetSubscribed(customerID int64, subscribed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[customerID].Subscribed = subscribed
	return nil
}

func (r *memCustomerRepo) RecordOrder(customerID int64, total float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.byID[customerID]
	c.OrderCount++
	c.TotalSpent += total
	return nil
}

func (r *memCustomerRepo) get(customerID int64) entities.Customer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.byID[customerID]
}

type memAgentRepo struct {
	mu     sync.Mutex
	agents []*entities.Agent
}

func (r *memAgentRepo) add(a *entities.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = append(r.agents, a)
}

func (r *memAgentRepo) GetByAddress(address string) (*entities.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.agents {
		if a.Address == address {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memAgentRepo) FindAvailable() (*entities.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *entities.Agent
	for _, a := range r.agents {
		if !a.Active || a.CurrentCustomer != "" {
			continue
		}
		if best == nil || moreIdle(a, best) {
			best = a
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

// moreIdle orders never-active first, then oldest last activity, then id.
func moreIdle(a, b *entities.Agent) bool {
	switch {
	case a.LastActiveAt == nil && b.LastActiveAt != nil:
		return true
	case a.LastActiveAt != nil && b.LastActiveAt == nil:
		return false
	case a.LastActiveAt != nil && b.LastActiveAt != nil && !a.LastActiveAt.Equal(*b.LastActiveAt):
		return a.LastActiveAt.Before(*b.LastActiveAt)
	}
	return a.ID < b.ID
}

func (r *memAgentRepo) setCurrentCustomer(agentID int64, customerAddress string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.agents {
		if a.ID == agentID {
			a.CurrentCustomer = customerAddress
			return
		}
	}
}

func (r *memAgentRepo) addressOf(agentID int64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.agents {
		if a.ID == agentID {
			return a.Address
		}
	}
	return ""
}

type memHandoffRepo struct {
	mu       sync.Mutex
	agents   *memAgentRepo
	seq      int
	handoffs []*entities.Handoff

	failAssign  error
	failResolve error
}

func (r *memHandoffRepo) Insert(customerID int64, reason string) (*entities.Handoff, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, h := range r.handoffs {
		if h.CustomerID == customerID && h.Status != entities.HandoffResolved {
			h.Status = entities.HandoffResolved
			h.ResolvedAt = &now
		}
	}
	r.seq++
	h := &entities.Handoff{
		ID:         fmt.Sprintf("hf-%d", r.seq),
		CustomerID: customerID,
		Reason:     reason,
		Status:     entities.HandoffPending,
		CreatedAt:  now,
	}
	r.handoffs = append(r.handoffs, h)
	cp := *h
	return &cp, nil
}

func (r *memHandoffRepo) Assign(handoffID string, agentID int64, customerAddress string) error {
	if r.failAssign != nil {
		return r.failAssign
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.handoffs {
		if h.ID == handoffID && h.Status == entities.HandoffPending {
			h.Status = entities.HandoffActive
			h.AgentID = agentID
			h.CustomerAddress = customerAddress
			r.agents.setCurrentCustomer(agentID, customerAddress)
			return nil
		}
	}
	return fmt.Errorf("handoff %s is not pending", handoffID)
}

func (r *memHandoffRepo) ResolveByAgent(agentID int64) (int64, error) {
	if r.failResolve != nil {
		return 0, r.failResolve
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.handoffs {
		if h.AgentID == agentID && h.Status == entities.HandoffActive {
			now := time.Now()
			h.Status = entities.HandoffResolved
			h.ResolvedAt = &now
			r.agents.setCurrentCustomer(agentID, "")
			return h.CustomerID, nil
		}
	}
	return 0, nil
}

func (r *memHandoffRepo) ListActiveSessions() ([]repository.ActiveSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repository.ActiveSession
	for _, h := range r.handoffs {
		if h.Status != entities.HandoffActive {
			continue
		}
		out = append(out, repository.ActiveSession{
			HandoffID:       h.ID,
			AgentID:         h.AgentID,
			AgentAddress:    r.agents.addressOf(h.AgentID),
			CustomerAddress: h.CustomerAddress,
		})
	}
	return out, nil
}

func (r *memHandoffRepo) byStatus(status entities.HandoffStatus) []*entities.Handoff {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.Handoff
	for _, h := range r.handoffs {
		if h.Status == status {
			out = append(out, h)
		}
	}
	return out
}

type memCatalog struct {
	mu       sync.Mutex
	products []entities.Product
	carts    map[int64][]entities.CartItem
	orders   map[int64][]entities.Order
	orderSeq int64
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		products: []entities.Product{
			{ID: 1, Code: "CF-001", Name: "Arabica Beans 250g", Category: "Coffee", Price: 85000, Currency: "IDR"},
			{ID: 2, Code: "CF-002", Name: "Robusta Beans 250g", Category: "Coffee", Price: 60000, Currency: "IDR"},
			{ID: 3, Code: "TE-001", Name: "Green Tea 100g", Category: "Tea", Price: 45000, Currency: "IDR"},
		},
		carts:  make(map[int64][]entities.CartItem),
		orders: make(map[int64][]entities.Order),
	}
}

func (c *memCatalog) GetAll() ([]entities.Product, error) {
	return c.products, nil
}

func (c *memCatalog) GetCategories() ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, p := range c.products {
		if !seen[p.Category] {
			seen[p.Category] = true
			out = append(out, p.Category)
		}
	}
	return out, nil
}

func (c *memCatalog) GetByCategory(category string) ([]entities.Product, error) {
	var out []entities.Product
	for _, p := range c.products {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *memCatalog) Search(query string) ([]entities.Product, error) {
	q := strings.ToLower(query)
	var out []entities.Product
	for _, p := range c.products {
		if strings.Contains(strings.ToLower(p.Name), q) || strings.Contains(strings.ToLower(p.Details), q) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *memCatalog) GetByIDs(ids []int64) ([]entities.Product, error) {
	var out []entities.Product
	for _, id := range ids {
		for _, p := range c.products {
			if p.ID == id {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (c *memCatalog) GetCart(customerID int64) ([]entities.CartItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]entities.CartItem(nil), c.carts[customerID]...), nil
}

func (c *memCatalog) AddToCart(customerID, productID int64, quantity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := c.carts[customerID]
	for i := range items {
		if items[i].ProductID == productID {
			items[i].Quantity += quantity
			return nil
		}
	}
	for _, p := range c.products {
		if p.ID == productID {
			c.carts[customerID] = append(items, entities.CartItem{
				ProductID: p.ID, Name: p.Name, Price: p.Price, Quantity: quantity,
			})
			return nil
		}
	}
	return fmt.Errorf("product %d not found", productID)
}

func (c *memCatalog) ClearCart(customerID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.carts, customerID)
	return nil
}

func (c *memCatalog) PlaceOrder(customerID int64, note string) (*entities.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := c.carts[customerID]
	if len(items) == 0 {
		return nil, repository.ErrEmptyCart
	}
	var total float64
	for _, it := range items {
		total += it.Price * float64(it.Quantity)
	}
	c.orderSeq++
	order := entities.Order{
		ID:         c.orderSeq,
		CustomerID: customerID,
		Items:      append([]entities.CartItem(nil), items...),
		Total:      total,
		Note:       note,
		Status:     "new",
		CreatedAt:  time.Now(),
	}
	c.orders[customerID] = append(c.orders[customerID], order)
	delete(c.carts, customerID)
	return &order, nil
}

func (c *memCatalog) ListOrders(customerID int64) ([]entities.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]entities.Order(nil), c.orders[customerID]...), nil
}

func (c *memCatalog) GetOrder(customerID, orderID int64) (*entities.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.orders[customerID] {
		if o.ID == orderID {
			cp := o
			return &cp, nil
		}
	}
	return nil, nil
}

type stubAI struct {
	reply interfaces.AIReply
	err   error
	asked []string
}

func (a *stubAI) Ask(customerName, text, language, extraContext string) (interfaces.AIReply, error) {
	a.asked = append(a.asked, text)
	if a.err != nil {
		return interfaces.AIReply{}, a.err
	}
	return a.reply, nil
}

type sentMsg struct {
	to   string
	text string
}

type captureSender struct {
	mu   sync.Mutex
	sent []sentMsg
}

func (s *captureSender) SendMessage(to, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMsg{to: to, text: content})
	return nil
}

func (s *captureSender) sentTo(to string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.sent {
		if m.to == to {
			out = append(out, m.text)
		}
	}
	return out
}

func (s *captureSender) last(to string) string {
	msgs := s.sentTo(to)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

func (s *captureSender) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
}

type captureNotifier struct {
	mu    sync.Mutex
	notes []string
}

func (n *captureNotifier) NotifyAgent(chatID int64, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, text)
}

type stubAdmitter struct {
	deny map[string]bool
}

func (a *stubAdmitter) Admit(sender string) bool {
	return !a.deny[sender]
}

// fixture wires a dispatcher against the in-memory collaborators.
type fixture struct {
	customers *memCustomerRepo
	agents    *memAgentRepo
	handoffs  *memHandoffRepo
	catalog   *memCatalog
	ai        *stubAI
	sender    *captureSender
	notifier  *captureNotifier
	admit     *stubAdmitter
	store     *ConversationStore
	router    *HandoffRouter
	d         *Dispatcher
}

func newFixture() *fixture {
	customers := newMemCustomerRepo()
	agents := &memAgentRepo{}
	handoffs := &memHandoffRepo{agents: agents}
	catalog := newMemCatalog()
	ai := &stubAI{reply: interfaces.AIReply{Text: "Happy to help!"}}
	sender := &captureSender{}
	notifier := &captureNotifier{}
	admit := &stubAdmitter{deny: make(map[string]bool)}
	log := zerolog.Nop()

	store := NewConversationStore(customers)
	router := NewHandoffRouter(handoffs, agents, log)
	d := NewDispatcher(store, router, admit, catalog, ai, sender, notifier, agents, log)

	return &fixture{
		customers: customers,
		agents:    agents,
		handoffs:  handoffs,
		catalog:   catalog,
		ai:        ai,
		sender:    sender,
		notifier:  notifier,
		admit:     admit,
		store:     store,
		router:    router,
		d:         d,
	}
}

// inbound runs one message synchronously through the full pipeline.
func (f *fixture) inbound(from, text string) {
	f.d.process(entities.Message{From: from, Content: text})
}
