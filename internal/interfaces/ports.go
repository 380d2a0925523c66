package interfaces

// Messenger sends one outbound chat message over the transport.
type Messenger interface {
	SendMessage(to, content string) error
}

// AIReply is the AI collaborator's answer. RequestsHandoff is set when the
// model decided the customer should talk to a human; the dispatcher then
// initiates a handoff in addition to sending Text.
type AIReply struct {
	Text            string
	RequestsHandoff bool
}

type AIClient interface {
	Ask(customerName, text, language, extraContext string) (AIReply, error)
}

// AgentNotifier is an optional out-of-band channel for buzzing agents.
type AgentNotifier interface {
	NotifyAgent(chatID int64, text string)
}
