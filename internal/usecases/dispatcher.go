package usecases

import (
	"hash/fnv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"tokobot/internal/entities"
	"tokobot/internal/interfaces"
)

// Lead score awards
const (
	scoreRegistration   = 5
	scorePurchaseIntent = 3
	scoreOrderComplete  = 10
)

const defaultBusyMessage = "🙏 All our agents are busy right now. We noted your request and someone will reach out soon.\n\nType *MENU* to keep browsing."

// Admitter gates inbound messages per sender.
type Admitter interface {
	Admit(sender string) bool
}

// Catalog is the product/cart/order collaborator.
type Catalog interface {
	GetAll() ([]entities.Product, error)
	GetCategories() ([]string, error)
	GetByCategory(category string) ([]entities.Product, error)
	Search(query string) ([]entities.Product, error)
	GetByIDs(ids []int64) ([]entities.Product, error)
	GetCart(customerID int64) ([]entities.CartItem, error)
	AddToCart(customerID, productID int64, quantity int) error
	ClearCart(customerID int64) error
	PlaceOrder(customerID int64, note string) (*entities.Order, error)
	ListOrders(customerID int64) ([]entities.Order, error)
	GetOrder(customerID, orderID int64) (*entities.Order, error)
}

// Dispatcher is the routing state machine: it classifies each inbound message
// (agent vs customer), applies rate limiting, resolves global commands and
// hands the rest to the per-state handlers. Messages are processed on a worker
// pool sharded by the conversation's customer address, so each customer's
// messages stay ordered while different customers proceed concurrently.
type Dispatcher struct {
	store    *ConversationStore
	router   *HandoffRouter
	limiter  Admitter
	catalog  Catalog
	ai       interfaces.AIClient
	sender   interfaces.Messenger
	notifier interfaces.AgentNotifier
	agents   AgentRepo
	log      zerolog.Logger

	busyMessage string

	queues  []chan entities.Message
	wg      sync.WaitGroup
	stopMu  sync.RWMutex
	stopped bool
}

func NewDispatcher(
	store *ConversationStore,
	router *HandoffRouter,
	limiter Admitter,
	catalog Catalog,
	ai interfaces.AIClient,
	sender interfaces.Messenger,
	notifier interfaces.AgentNotifier,
	agents AgentRepo,
	log zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:       store,
		router:      router,
		limiter:     limiter,
		catalog:     catalog,
		ai:          ai,
		sender:      sender,
		notifier:    notifier,
		agents:      agents,
		log:         log.With().Str("component", "dispatcher").Logger(),
		busyMessage: defaultBusyMessage,
	}
}

// SetBusyMessage overrides the all-agents-busy reply.
func (d *Dispatcher) SetBusyMessage(msg string) {
	if msg != "" {
		d.busyMessage = msg
	}
}

// Start launches the sharded worker pool.
func (d *Dispatcher) Start(workers int) {
	if workers < 1 {
		workers = 1
	}
	d.queues = make([]chan entities.Message, workers)
	for i := range d.queues {
		q := make(chan entities.Message, 64)
		d.queues[i] = q
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for msg := range q {
				d.process(msg)
			}
		}()
	}
}

// Stop drains the queues and waits for in-flight messages. Holding the write
// lock while closing waits out any Dispatch mid-send; the transport may still
// deliver events after this returns, Dispatch drops them.
func (d *Dispatcher) Stop() {
	d.stopMu.Lock()
	if !d.stopped {
		d.stopped = true
		for _, q := range d.queues {
			close(q)
		}
	}
	d.stopMu.Unlock()
	d.wg.Wait()
}

// Dispatch enqueues one inbound message. The shard key is the customer side
// of the conversation: an agent's message lands on its live peer's shard, so
// both directions of a session stay ordered relative to the customer.
func (d *Dispatcher) Dispatch(msg entities.Message) {
	d.stopMu.RLock()
	defer d.stopMu.RUnlock()
	if d.stopped || len(d.queues) == 0 {
		d.log.Debug().Str("from", msg.From).Msg("dispatcher stopped, message dropped")
		return
	}

	key := d.router.CustomerShardKey(msg.From)
	h := fnv.New32a()
	h.Write([]byte(key))
	d.queues[int(h.Sum32())%len(d.queues)] <- msg
}

// SendTestMessage bypasses the state machine entirely (admin API path).
func (d *Dispatcher) SendTestMessage(address, text string) error {
	return d.sender.SendMessage(address, text)
}

// process runs one message to completion, collaborator calls included.
func (d *Dispatcher) process(msg entities.Message) {
	// Groups and self-echoes are not conversational participants.
	if msg.IsGroup || msg.IsFromSelf {
		d.log.Debug().Str("from", msg.From).Msg("dropped non-conversational message")
		return
	}

	text := strings.TrimSpace(msg.Content)
	if text == "" {
		d.log.Debug().Str("from", msg.From).Msg("dropped message without text payload")
		return
	}

	if !d.limiter.Admit(msg.From) {
		d.log.Debug().Str("from", msg.From).Msg("rate limited, dropped")
		return
	}

	agent, err := d.agents.GetByAddress(msg.From)
	if err != nil {
		d.log.Error().Err(err).Str("from", msg.From).Msg("agent lookup failed")
		return
	}
	if agent != nil {
		d.processAgentMessage(agent, text)
		return
	}

	d.processCustomerMessage(msg, text)
}

// processAgentMessage: an agent is either idle or has exactly one peer.
func (d *Dispatcher) processAgentMessage(agent *entities.Agent, text string) {
	switch strings.ToUpper(text) {
	case "END", "DONE":
		customerAddress, err := d.router.Resolve(agent.Address)
		if err != nil {
			d.log.Error().Err(err).Str("agent", agent.Address).Msg("resolve failed")
			d.send(agent.Address, "⚠️ Could not close the session, please try again.")
			return
		}
		if customerAddress == "" {
			d.send(agent.Address, "ℹ️ You have no active session.")
			return
		}
		d.returnCustomerToMenu(customerAddress)
		d.send(customerAddress, "✅ The agent has closed this conversation. You are back with the bot — type *MENU* to see options.")
		d.send(agent.Address, "✅ Session closed. You are available for the next customer.")

	case "STATUS":
		if peer, ok := d.router.PeerOf(agent.Address); ok {
			d.send(agent.Address, "💬 You are currently chatting with "+peer+". Type *END* when finished.")
		} else {
			d.send(agent.Address, "🟢 You are available. You will be notified when a customer needs help.")
		}

	default:
		peer, ok := d.router.PeerOf(agent.Address)
		if !ok {
			d.send(agent.Address, "ℹ️ No customer connected. Commands: *STATUS*, *END*.")
			return
		}
		// Forward verbatim, the human owns the conversation.
		d.send(peer, text)
	}
}

func (d *Dispatcher) processCustomerMessage(msg entities.Message, text string) {
	customer, created, err := d.store.GetOrCreate(msg.From, "")
	if err != nil {
		d.log.Error().Err(err).Str("from", msg.From).Msg("customer upsert failed")
		return
	}

	if customer.Blocked {
		d.log.Debug().Str("from", msg.From).Msg("blocked customer, dropped")
		return
	}

	// While a human session is live the agent owns the conversation entirely;
	// MENU is the customer's one escape hatch.
	if d.router.IsCustomerInSession(customer.Address) {
		d.processInSession(customer, text)
		return
	}

	// Name collection takes priority over any stored state.
	if created || customer.Name == "" {
		d.dispatchState(customer, entities.StateRegistering, entities.ConvContext{}, text)
		d.retag(customer.ID)
		return
	}

	if cmd, arg, ok := ParseCommand(text); ok {
		d.runCommand(customer, cmd, arg)
		d.retag(customer.ID)
		return
	}

	state, cctx, err := d.store.GetState(customer.ID)
	if err != nil {
		d.log.Error().Err(err).Int64("customer_id", customer.ID).Msg("state load failed")
		return
	}
	d.dispatchState(customer, state, cctx, text)
	d.retag(customer.ID)
}

func (d *Dispatcher) processInSession(customer *entities.Customer, text string) {
	if strings.EqualFold(text, "MENU") {
		agentAddress, err := d.router.ResolveByCustomer(customer.Address)
		if err != nil {
			d.log.Error().Err(err).Str("customer", customer.Address).Msg("customer disconnect failed")
			return
		}
		d.setState(customer.ID, entities.StateMenu, entities.ConvContext{})
		d.send(customer.Address, formatMenu(customer.Name))
		if agentAddress != "" {
			d.send(agentAddress, "ℹ️ The customer left the conversation. You are available again.")
		}
		return
	}

	peer, ok := d.router.PeerOf(customer.Address)
	if !ok {
		// Session vanished between the check and the lookup; let the next
		// message take the normal path.
		d.log.Debug().Str("customer", customer.Address).Msg("session gone before forward")
		return
	}
	d.send(peer, text)
}

// runCommand executes a global interrupt. Commands always win over the
// current state's handler.
func (d *Dispatcher) runCommand(customer *entities.Customer, cmd Command, arg int) {
	switch cmd {
	case CmdMenu:
		d.setState(customer.ID, entities.StateMenu, entities.ConvContext{})
		d.send(customer.Address, formatMenu(customer.Name))

	case CmdStart:
		// START greets and opts the customer back into broadcasts.
		if err := d.store.SetSubscribed(customer.ID, true); err != nil {
			d.log.Error().Err(err).Int64("customer_id", customer.ID).Msg("opt-in failed")
		}
		d.setState(customer.ID, entities.StateMenu, entities.ConvContext{})
		d.send(customer.Address, formatMenu(customer.Name))

	case CmdCatalog:
		d.enterCatalog(customer)

	case CmdCart:
		items, err := d.catalog.GetCart(customer.ID)
		if err != nil {
			d.sendOops(customer.Address, err, "cart load failed")
			return
		}
		d.send(customer.Address, formatCart(items))

	case CmdOrders:
		orders, err := d.catalog.ListOrders(customer.ID)
		if err != nil {
			d.sendOops(customer.Address, err, "orders load failed")
			return
		}
		d.send(customer.Address, formatOrders(orders))

	case CmdAgent:
		d.initiateHandoff(customer, "customer asked for an agent")

	case CmdClear:
		if err := d.catalog.ClearCart(customer.ID); err != nil {
			d.sendOops(customer.Address, err, "cart clear failed")
			return
		}
		d.send(customer.Address, "🗑️ Cart emptied.")

	case CmdStop:
		if err := d.store.SetSubscribed(customer.ID, false); err != nil {
			d.sendOops(customer.Address, err, "opt-out failed")
			return
		}
		d.send(customer.Address, "🔕 You are unsubscribed from broadcasts. Type *START* to opt back in.")

	case CmdSubscribe:
		if err := d.store.SetSubscribed(customer.ID, true); err != nil {
			d.sendOops(customer.Address, err, "opt-in failed")
			return
		}
		d.send(customer.Address, "🔔 You are subscribed to broadcasts again.")

	case CmdCheckout:
		d.enterCheckout(customer)

	case CmdOrderDetail:
		order, err := d.catalog.GetOrder(customer.ID, int64(arg))
		if err != nil {
			d.sendOops(customer.Address, err, "order load failed")
			return
		}
		if order == nil {
			d.send(customer.Address, "❓ Order not found. Type *ORDERS* to list yours.")
			return
		}
		d.send(customer.Address, formatOrderDetail(order))
	}
}

// initiateHandoff runs the handoff protocol: a pending record is always
// created (dashboard visibility), assignment only when an agent is free.
func (d *Dispatcher) initiateHandoff(customer *entities.Customer, reason string) {
	handoff, err := d.router.Initiate(customer.ID, reason)
	if err != nil {
		d.sendOops(customer.Address, err, "handoff initiate failed")
		return
	}

	agent, err := d.router.FindAvailableAgent()
	if err != nil {
		d.sendOops(customer.Address, err, "agent lookup failed")
		return
	}
	if agent == nil {
		// Pending record stays for the dashboard; customer goes back to menu.
		d.log.Info().Str("handoff_id", handoff.ID).Msg("no agent available, handoff left pending")
		d.setState(customer.ID, entities.StateMenu, entities.ConvContext{})
		d.send(customer.Address, d.busyMessage)
		return
	}

	if err := d.router.Assign(handoff.ID, agent, customer.Address); err != nil {
		// Partial failure means not assigned, never a half-live session.
		d.log.Error().Err(err).Str("handoff_id", handoff.ID).Msg("assign failed")
		d.setState(customer.ID, entities.StateMenu, entities.ConvContext{})
		d.send(customer.Address, d.busyMessage)
		return
	}

	d.setState(customer.ID, entities.StateHumanHandoff, entities.ConvContext{})

	name := customer.Name
	if name == "" {
		name = customer.Address
	}
	d.send(customer.Address, "👩‍💼 *"+agent.Name+"* is with you now. Just type your messages here.\n\n_Type *MENU* to disconnect and return to the bot._")
	d.send(agent.Address, "🔔 *New customer:* "+name+" ("+customer.Address+")\n📋 Reason: "+reason+"\n\nReply here to chat. *END* closes the session, *STATUS* shows your state.")
	if d.notifier != nil {
		d.notifier.NotifyAgent(agent.TelegramChatID, "🔔 "+name+" is waiting on WhatsApp: "+reason)
	}
}

// returnCustomerToMenu resets a customer's conversation after their session
// was closed from the agent side.
func (d *Dispatcher) returnCustomerToMenu(customerAddress string) {
	customer, err := d.store.Customer(customerAddress)
	if err != nil || customer == nil {
		d.log.Error().Err(err).Str("customer", customerAddress).Msg("customer lookup after resolve failed")
		return
	}
	d.setState(customer.ID, entities.StateMenu, entities.ConvContext{})
}

// retag recomputes the audience tag from the lead score after dispatch. Not
// transactional with the state transition: a score bump is visible on the
// customer's next turn.
func (d *Dispatcher) retag(customerID int64) {
	if _, err := d.store.RecomputeTag(customerID); err != nil {
		d.log.Error().Err(err).Int64("customer_id", customerID).Msg("tag recompute failed")
	}
}

func (d *Dispatcher) setState(customerID int64, state entities.ConversationState, cctx entities.ConvContext) {
	if err := d.store.SetState(customerID, state, cctx); err != nil {
		d.log.Error().Err(err).Int64("customer_id", customerID).Msg("state write failed")
	}
}

// send delivers one outbound message. A failure is logged and never rolls
// back the state transition that preceded it.
func (d *Dispatcher) send(address, text string) {
	if err := d.sender.SendMessage(address, text); err != nil {
		d.log.Error().Err(err).Str("to", address).Msg("send failed")
	}
}

// sendOops logs a collaborator failure and sends a generic apology.
func (d *Dispatcher) sendOops(address string, err error, what string) {
	d.log.Error().Err(err).Str("to", address).Msg(what)
	d.send(address, "😔 Something went wrong on our side, please try again in a moment.")
}

