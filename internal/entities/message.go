package entities

// Message is one inbound chat event as delivered by the transport.
type Message struct {
	From       string // sender address (phone number)
	Content    string // extracted plain text, empty if the payload had none
	PushName   string // display name as reported by the transport
	IsFromSelf bool
	IsGroup    bool
}
