package usecases

import (
	"strconv"
	"strings"
)

// Command is a global interrupt recognized regardless of conversation state.
// Global commands always pre-empt state-local input, except while a human
// handoff session is live.
type Command int

const (
	CmdNone Command = iota
	CmdMenu         // MENU / HI / HELLO
	CmdStart        // START: greeting + broadcast opt-in
	CmdCatalog      // CATALOG / PRODUCTS / SHOP
	CmdCart         // CART
	CmdOrders       // ORDERS
	CmdAgent        // AGENT / HUMAN / SUPPORT
	CmdClear        // CLEAR
	CmdStop         // STOP / UNSUBSCRIBE
	CmdSubscribe    // SUBSCRIBE
	CmdCheckout     // CHECKOUT
	CmdOrderDetail  // ORDER <n>
)

var commandWords = map[string]Command{
	"menu":        CmdMenu,
	"hi":          CmdMenu,
	"hello":       CmdMenu,
	"start":       CmdStart,
	"catalog":     CmdCatalog,
	"products":    CmdCatalog,
	"shop":        CmdCatalog,
	"cart":        CmdCart,
	"orders":      CmdOrders,
	"agent":       CmdAgent,
	"human":       CmdAgent,
	"support":     CmdAgent,
	"clear":       CmdClear,
	"stop":        CmdStop,
	"unsubscribe": CmdStop,
	"subscribe":   CmdSubscribe,
	"checkout":    CmdCheckout,
}

// ParseCommand classifies raw inbound text. Returns the command, its numeric
// argument (ORDER <n> only) and whether anything matched; non-matching text is
// state-local input.
func ParseCommand(text string) (Command, int, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return CmdNone, 0, false
	}

	if cmd, ok := commandWords[lower]; ok {
		return cmd, 0, true
	}

	// ORDER <n>
	if arg, ok := strings.CutPrefix(lower, "order "); ok {
		n, err := strconv.Atoi(strings.TrimSpace(arg))
		if err == nil && n > 0 {
			return CmdOrderDetail, n, true
		}
	}

	return CmdNone, 0, false
}
