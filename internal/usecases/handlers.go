package usecases

import (
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"tokobot/internal/entities"
	"tokobot/internal/repository"
)

// dispatchState runs the handler for the stored conversation state.
func (d *Dispatcher) dispatchState(customer *entities.Customer, state entities.ConversationState, cctx entities.ConvContext, text string) {
	switch state {
	case entities.StateRegistering:
		d.handleRegistering(customer, text)
	case entities.StateMenu:
		d.handleMenu(customer, text)
	case entities.StateBrowsingCatalog:
		d.handleBrowsingCatalog(customer, cctx, text)
	case entities.StateBrowsingCategory:
		d.handleBrowsingCategory(customer, cctx, text)
	case entities.StateCheckout:
		d.handleCheckout(customer, cctx, text)
	case entities.StateAIChat:
		d.handleAIChat(customer, text)
	case entities.StateHumanHandoff:
		// Stored state says handoff but there is no live session (the
		// in-session path would have caught it): the episode ended or was
		// never assigned. Fall back to the menu.
		d.setState(customer.ID, entities.StateMenu, entities.ConvContext{})
		d.send(customer.Address, formatMenu(customer.Name))
	default:
		d.log.Warn().Str("state", string(state)).Int64("customer_id", customer.ID).Msg("unknown state, resetting to menu")
		d.setState(customer.ID, entities.StateMenu, entities.ConvContext{})
		d.send(customer.Address, formatMenu(customer.Name))
	}
}

// handleRegistering collects the customer's name. Rejects anything shorter
// than 2 characters after trimming to at most 4 words.
func (d *Dispatcher) handleRegistering(customer *entities.Customer, text string) {
	words := strings.Fields(text)
	if len(words) > 4 {
		words = words[:4]
	}
	name := strings.Join(words, " ")

	if utf8.RuneCountInString(name) < 2 {
		d.send(customer.Address, "🙏 Please tell me your name so I can serve you better (at least 2 characters).")
		return
	}

	if err := d.store.SetName(customer.ID, name); err != nil {
		d.sendOops(customer.Address, err, "name save failed")
		return
	}
	if _, err := d.store.AdjustLeadScore(customer.ID, scoreRegistration); err != nil {
		d.log.Error().Err(err).Int64("customer_id", customer.ID).Msg("registration score failed")
	}

	d.setState(customer.ID, entities.StateMenu, entities.ConvContext{})
	d.send(customer.Address, "✨ Nice to meet you, *"+name+"*!\n\n"+formatMenu(name))
}

// handleMenu routes the 1–4 choices. Any other text is treated as a
// natural language question and silently promotes the conversation to AI chat.
func (d *Dispatcher) handleMenu(customer *entities.Customer, text string) {
	switch strings.TrimSpace(text) {
	case "1":
		d.enterCatalog(customer)
	case "2":
		orders, err := d.catalog.ListOrders(customer.ID)
		if err != nil {
			d.sendOops(customer.Address, err, "orders load failed")
			return
		}
		d.send(customer.Address, formatOrders(orders))
	case "3":
		d.setState(customer.ID, entities.StateAIChat, entities.ConvContext{})
		d.send(customer.Address, "💬 Ask me anything about our products! Type *MENU* to go back.")
	case "4":
		d.initiateHandoff(customer, "customer picked menu option 4")
	default:
		d.setState(customer.ID, entities.StateAIChat, entities.ConvContext{})
		d.answerWithAI(customer, text)
	}
}

// enterCatalog loads categories and moves to BROWSING_CATALOG.
func (d *Dispatcher) enterCatalog(customer *entities.Customer) {
	categories, err := d.catalog.GetCategories()
	if err != nil {
		d.sendOops(customer.Address, err, "categories load failed")
		return
	}
	cctx := entities.ConvContext{Catalog: &entities.CatalogContext{Categories: categories}}
	d.setState(customer.ID, entities.StateBrowsingCatalog, cctx)
	d.send(customer.Address, formatCategories(categories))
}

// handleBrowsingCatalog interprets a category index against the current
// category list. Pending search results take precedence for numeric input;
// any other text runs a catalog-wide search.
func (d *Dispatcher) handleBrowsingCatalog(customer *entities.Customer, cctx entities.ConvContext, text string) {
	text = strings.TrimSpace(text)
	if cctx.Catalog == nil {
		// Context lost (e.g. decode failure); rebuild it.
		d.enterCatalog(customer)
		return
	}

	if text == "0" || strings.EqualFold(text, "back") {
		d.setState(customer.ID, entities.StateMenu, entities.ConvContext{})
		d.send(customer.Address, formatMenu(customer.Name))
		return
	}

	if n, err := strconv.Atoi(text); err == nil {
		// A pending search result list shadows the category list.
		if len(cctx.Catalog.SearchResultIDs) > 0 && n >= 1 && n <= len(cctx.Catalog.SearchResultIDs) {
			d.addToCart(customer, cctx.Catalog.SearchResultIDs[n-1])
			return
		}
		if n >= 1 && n <= len(cctx.Catalog.Categories) {
			d.enterCategory(customer, cctx.Catalog.Categories[n-1])
			return
		}
	}

	// Out-of-range or non-numeric: catalog-wide search fallback.
	products, err := d.catalog.Search(text)
	if err != nil {
		d.sendOops(customer.Address, err, "search failed")
		return
	}
	if len(products) == 0 {
		d.send(customer.Address, "🔍 Nothing found for \""+text+"\". Pick a category by number or try another word.")
		return
	}

	ids := make([]int64, len(products))
	for i, p := range products {
		ids[i] = p.ID
	}
	cctx.Catalog.SearchResultIDs = ids
	if err := d.store.SetContext(customer.ID, cctx); err != nil {
		d.sendOops(customer.Address, err, "context write failed")
		return
	}
	d.send(customer.Address, formatProducts("Search \""+text+"\"", products))
}

// enterCategory lists a category's items and moves to BROWSING_CATEGORY.
func (d *Dispatcher) enterCategory(customer *entities.Customer, category string) {
	products, err := d.catalog.GetByCategory(category)
	if err != nil {
		d.sendOops(customer.Address, err, "category load failed")
		return
	}
	ids := make([]int64, len(products))
	for i, p := range products {
		ids[i] = p.ID
	}
	cctx := entities.ConvContext{Category: &entities.CategoryContext{Category: category, ProductIDs: ids}}
	d.setState(customer.ID, entities.StateBrowsingCategory, cctx)
	d.send(customer.Address, formatProducts(category, products))
}

// handleBrowsingCategory resolves an item index against the active list
// (search results shadow the category's full list), adds it to the cart and
// awards a purchase-intent score.
func (d *Dispatcher) handleBrowsingCategory(customer *entities.Customer, cctx entities.ConvContext, text string) {
	text = strings.TrimSpace(text)
	if cctx.Category == nil {
		d.enterCatalog(customer)
		return
	}

	if text == "0" || strings.EqualFold(text, "back") {
		d.enterCatalog(customer)
		return
	}

	if strings.EqualFold(text, "more") {
		products, err := d.catalog.GetByIDs(cctx.Category.ActiveList())
		if err != nil {
			d.sendOops(customer.Address, err, "items load failed")
			return
		}
		d.send(customer.Address, formatProducts(cctx.Category.Category, products))
		return
	}

	list := cctx.Category.ActiveList()
	if n, err := strconv.Atoi(text); err == nil && n >= 1 && n <= len(list) {
		d.addToCart(customer, list[n-1])
		return
	}

	d.send(customer.Address, "❓ Reply with an item number, *more* to re-list, or *0* to go back.")
}

// addToCart adds one unit of a product and awards the purchase-intent score.
func (d *Dispatcher) addToCart(customer *entities.Customer, productID int64) {
	if err := d.catalog.AddToCart(customer.ID, productID, 1); err != nil {
		d.sendOops(customer.Address, err, "add to cart failed")
		return
	}
	if _, err := d.store.AdjustLeadScore(customer.ID, scorePurchaseIntent); err != nil {
		d.log.Error().Err(err).Int64("customer_id", customer.ID).Msg("intent score failed")
	}

	products, err := d.catalog.GetByIDs([]int64{productID})
	name := "Item"
	if err == nil && len(products) == 1 {
		name = products[0].Name
	}
	d.send(customer.Address, "🛒 *"+name+"* added to your cart.\n\nType *CART* to review or *CHECKOUT* to order.")
}

// enterCheckout moves to CHECKOUT when the cart is non-empty.
func (d *Dispatcher) enterCheckout(customer *entities.Customer) {
	items, err := d.catalog.GetCart(customer.ID)
	if err != nil {
		d.sendOops(customer.Address, err, "cart load failed")
		return
	}
	if len(items) == 0 {
		d.send(customer.Address, "🛒 Your cart is empty, nothing to check out. Type *CATALOG* to start shopping.")
		return
	}
	cctx := entities.ConvContext{Checkout: &entities.CheckoutContext{}}
	d.setState(customer.ID, entities.StateCheckout, cctx)
	d.send(customer.Address, formatCheckout(items))
}

// handleCheckout: CONFIRM places the order, CANCEL returns to menu with the
// cart preserved, anything else is stored as the order note (overwriting any
// previous one).
func (d *Dispatcher) handleCheckout(customer *entities.Customer, cctx entities.ConvContext, text string) {
	if cctx.Checkout == nil {
		cctx.Checkout = &entities.CheckoutContext{}
	}

	switch strings.ToUpper(strings.TrimSpace(text)) {
	case "CONFIRM", "YES", "OK":
		order, err := d.catalog.PlaceOrder(customer.ID, cctx.Checkout.Note)
		if errors.Is(err, repository.ErrEmptyCart) {
			// Lost a race with CLEAR; inform, keep state.
			d.send(customer.Address, "🛒 Your cart is empty, nothing to order. Type *CATALOG* to keep shopping.")
			return
		}
		if err != nil {
			d.sendOops(customer.Address, err, "order placement failed")
			return
		}

		if _, err := d.store.AdjustLeadScore(customer.ID, scoreOrderComplete); err != nil {
			d.log.Error().Err(err).Int64("customer_id", customer.ID).Msg("completion score failed")
		}
		if err := d.store.RecordOrder(customer.ID, order.Total); err != nil {
			d.log.Error().Err(err).Int64("customer_id", customer.ID).Msg("order stats failed")
		}

		d.setState(customer.ID, entities.StateMenu, entities.ConvContext{})
		d.send(customer.Address, "🎉 *Order placed!*\n\n"+formatOrderDetail(order)+"\n\nWe'll be in touch. Type *MENU* for anything else.")

	case "CANCEL":
		d.setState(customer.ID, entities.StateMenu, entities.ConvContext{})
		d.send(customer.Address, "↩️ Checkout cancelled, your cart is kept. Type *MENU* to continue.")

	default:
		cctx.Checkout.Note = text
		if err := d.store.SetContext(customer.ID, cctx); err != nil {
			d.sendOops(customer.Address, err, "note save failed")
			return
		}
		d.send(customer.Address, "📝 Noted! Type *CONFIRM* to place the order or *CANCEL* to go back.")
	}
}

// handleAIChat delegates free text to the AI collaborator.
func (d *Dispatcher) handleAIChat(customer *entities.Customer, text string) {
	d.answerWithAI(customer, text)
}

func (d *Dispatcher) answerWithAI(customer *entities.Customer, text string) {
	products, err := d.catalog.GetAll()
	if err != nil {
		d.log.Error().Err(err).Msg("catalog context load failed")
		// Answer without shop context rather than not at all.
	}

	name := customer.Name
	if name == "" {
		name = "customer"
	}
	reply, err := d.ai.Ask(name, text, customer.Language, formatProductsContext(products))
	if err != nil {
		d.log.Error().Err(err).Str("customer", customer.Address).Msg("ai call failed")
		d.send(customer.Address, "😔 I couldn't think of an answer right now. Type *MENU* for options or *AGENT* to talk to a human.")
		return
	}

	d.send(customer.Address, reply.Text)
	if reply.RequestsHandoff {
		d.initiateHandoff(customer, "escalation requested during AI chat")
	}
}
