package usecases

import (
	"fmt"
	"strings"

	"tokobot/internal/entities"
)

// Reply texts, WhatsApp markdown + emoji.

func formatMenu(name string) string {
	greeting := "👋 *Welcome!*"
	if name != "" {
		greeting = fmt.Sprintf("👋 *Hi %s!*", name)
	}
	return greeting + "\n\n" +
		"1. 🛍️ Browse catalog\n" +
		"2. 📦 My orders\n" +
		"3. 💬 Ask a question\n" +
		"4. 👩‍💼 Talk to a human\n\n" +
		"_Reply with a number, or just type your question._"
}

func formatCategories(categories []string) string {
	if len(categories) == 0 {
		return "🛍️ The catalog is empty right now. Type *MENU* to go back."
	}
	var sb strings.Builder
	sb.WriteString("🛍️ *Categories:*\n\n")
	for i, c := range categories {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, c))
	}
	sb.WriteString("\n_Reply with a number, type a product name to search, or *0* to go back._")
	return sb.String()
}

func formatProducts(title string, products []entities.Product) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📦 *%s:*\n\n", title))
	for i, p := range products {
		sb.WriteString(fmt.Sprintf("%d. *%s* — %.0f %s\n", i+1, p.Name, p.Price, p.Currency))
		if p.Details != "" {
			sb.WriteString(fmt.Sprintf("   _%s_\n", p.Details))
		}
	}
	sb.WriteString("\n_Reply with a number to add to cart, *more* to re-list, *0* to go back._")
	return sb.String()
}

func formatCart(items []entities.CartItem) string {
	if len(items) == 0 {
		return "🛒 Your cart is empty.\n\nType *CATALOG* to start shopping."
	}
	var sb strings.Builder
	sb.WriteString("🛒 *Your cart:*\n\n")
	total := 0.0
	for _, it := range items {
		line := it.Price * float64(it.Quantity)
		total += line
		sb.WriteString(fmt.Sprintf("• %s ×%d — %.0f\n", it.Name, it.Quantity, line))
	}
	sb.WriteString(fmt.Sprintf("\n*Total: %.0f*\n\nType *CHECKOUT* to order or *CLEAR* to empty the cart.", total))
	return sb.String()
}

func formatOrders(orders []entities.Order) string {
	if len(orders) == 0 {
		return "📦 No orders yet.\n\nType *CATALOG* to place your first one."
	}
	var sb strings.Builder
	sb.WriteString("📦 *Your orders:*\n\n")
	for _, o := range orders {
		sb.WriteString(fmt.Sprintf("• Order #%d — %.0f (%s) — %s\n",
			o.ID, o.Total, o.Status, o.CreatedAt.Format("2 Jan 2006")))
	}
	sb.WriteString("\n_Type *ORDER <number>* for details._")
	return sb.String()
}

func formatOrderDetail(o *entities.Order) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📦 *Order #%d* (%s)\n\n", o.ID, o.Status))
	for _, it := range o.Items {
		sb.WriteString(fmt.Sprintf("• %s ×%d — %.0f\n", it.Name, it.Quantity, it.Price*float64(it.Quantity)))
	}
	sb.WriteString(fmt.Sprintf("\n*Total: %.0f*", o.Total))
	if o.Note != "" {
		sb.WriteString(fmt.Sprintf("\n📝 Note: %s", o.Note))
	}
	return sb.String()
}

func formatCheckout(items []entities.CartItem) string {
	var sb strings.Builder
	sb.WriteString("🧾 *Checkout*\n\n")
	total := 0.0
	for _, it := range items {
		line := it.Price * float64(it.Quantity)
		total += line
		sb.WriteString(fmt.Sprintf("• %s ×%d — %.0f\n", it.Name, it.Quantity, line))
	}
	sb.WriteString(fmt.Sprintf("\n*Total: %.0f*\n\n", total))
	sb.WriteString("Type *CONFIRM* to place the order, *CANCEL* to go back,\nor send a note for your order (e.g. delivery instructions).")
	return sb.String()
}

// formatProductsContext renders the catalog as plain text for the AI
// collaborator's prompt.
func formatProductsContext(products []entities.Product) string {
	if len(products) == 0 {
		return "No products on catalog."
	}
	var sb strings.Builder
	sb.WriteString("Available products:\n")
	for _, p := range products {
		sb.WriteString(fmt.Sprintf("- %s (%s): %.0f %s. %s\n", p.Name, p.Category, p.Price, p.Currency, p.Details))
	}
	return sb.String()
}
