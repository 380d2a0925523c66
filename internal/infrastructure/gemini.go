package infrastructure

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tokobot/internal/interfaces"
)

// escalationMarker is the token the model is told to emit when the customer
// should be routed to a human. It is stripped from the reply before sending.
const escalationMarker = "[AGENT]"

const geminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s"

// GeminiClient answers free-form customer questions about the shop.
type GeminiClient struct {
	apiKey string
	model  string
	http   *http.Client
}

func NewGeminiClient(apiKey string) *GeminiClient {
	return &GeminiClient{
		apiKey: apiKey,
		model:  "gemini-1.5-flash",
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Ask sends the customer's text plus shop context to the model. A reply
// containing the escalation marker sets RequestsHandoff and has the marker
// removed.
func (g *GeminiClient) Ask(customerName, text, language, extraContext string) (interfaces.AIReply, error) {
	prompt := fmt.Sprintf(
		"You are a friendly shop assistant answering over WhatsApp. Reply in %s, keep it short.\n"+
			"If the customer explicitly asks for a human, staff member or complaint handling, append the exact token %s at the end.\n\n"+
			"Shop data:\n%s\n\nCustomer (%s) says: %s",
		language, escalationMarker, extraContext, customerName, text)

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return interfaces.AIReply{}, err
	}

	url := fmt.Sprintf(geminiEndpoint, g.model, g.apiKey)
	resp, err := g.http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return interfaces.AIReply{}, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return interfaces.AIReply{}, fmt.Errorf("gemini returned status %d", resp.StatusCode)
	}

	var parsed geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return interfaces.AIReply{}, fmt.Errorf("gemini decode: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return interfaces.AIReply{}, fmt.Errorf("gemini returned no candidates")
	}

	answer := parsed.Candidates[0].Content.Parts[0].Text
	reply := interfaces.AIReply{Text: strings.TrimSpace(strings.ReplaceAll(answer, escalationMarker, ""))}
	reply.RequestsHandoff = strings.Contains(answer, escalationMarker)
	return reply, nil
}
