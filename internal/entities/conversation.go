package entities

// ConversationState is the customer's current position in the bot flow.
// Conversations live one-to-one with customers, created together with them.
type ConversationState string

const (
	StateRegistering      ConversationState = "registering"
	StateMenu             ConversationState = "menu"
	StateBrowsingCatalog  ConversationState = "browsing_catalog"
	StateBrowsingCategory ConversationState = "browsing_category"
	StateCheckout         ConversationState = "checkout"
	StateAIChat           ConversationState = "ai_chat"
	StateHumanHandoff     ConversationState = "human_handoff"
)

// ConvContext carries state-scoped data. Exactly one sub-struct is populated
// for states that need one; the whole value is replaced on every state
// transition, so stale fields never leak across states.
type ConvContext struct {
	Catalog  *CatalogContext  `json:"catalog,omitempty"`
	Category *CategoryContext `json:"category,omitempty"`
	Checkout *CheckoutContext `json:"checkout,omitempty"`
}

// CatalogContext lives while the customer browses the category list.
type CatalogContext struct {
	Categories      []string `json:"categories"`
	SearchResultIDs []int64  `json:"search_result_ids,omitempty"`
}

// CategoryContext lives while the customer browses items. SearchResultIDs,
// when present, is the active selection list and shadows ProductIDs.
type CategoryContext struct {
	Category        string  `json:"category"`
	ProductIDs      []int64 `json:"product_ids"`
	SearchResultIDs []int64 `json:"search_result_ids,omitempty"`
}

// ActiveList returns the list item indexes resolve against.
func (c *CategoryContext) ActiveList() []int64 {
	if len(c.SearchResultIDs) > 0 {
		return c.SearchResultIDs
	}
	return c.ProductIDs
}

// CheckoutContext lives while the customer confirms an order.
type CheckoutContext struct {
	Note string `json:"note,omitempty"`
}

// IsEmpty reports whether no state-scoped data is carried.
func (c ConvContext) IsEmpty() bool {
	return c.Catalog == nil && c.Category == nil && c.Checkout == nil
}
