package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Stage is where a supplier email thread stands.
type Stage string

// Thread stages, in the order replies are matched against them.
const (
	StageOutreachSent  Stage = "Outreach Sent"
	StageQuoteReceived Stage = "Quote Received"
	StageSubstitute    Stage = "Substitute y/n"
	StageSend          Stage = "Send"
	StageNotYet        Stage = "Not Yet"
)

// Stages lists every Stage.
var Stages = []Stage{StageOutreachSent, StageQuoteReceived, StageSubstitute, StageSend, StageNotYet}

// maxQuoteInput caps the text sent for quote extraction.
const maxQuoteInput = 3000

const classifyPrompt = "You are an email classification assistant for a government parts procurement team. " +
	"Classify the email conversation into exactly one of these stages:\n\n" +
	"- Outreach Sent: We sent initial outreach, waiting for supplier response\n" +
	"- Quote Received: Supplier has provided a price quote (mentions dollar amounts, pricing, or attached quote)\n" +
	"- Substitute y/n: Supplier offered a substitute/alternative part\n" +
	"- Send: Ready to send the next email (conversation is progressing normally)\n" +
	"- Not Yet: Needs manual review (unclear, out of office, irrelevant, or complex situation)\n\n" +
	"Respond with ONLY the stage name, nothing else."

const replyPrompt = "You are an email drafting assistant for a government parts procurement team. " +
	"Draft a professional, concise reply email based on the conversation thread and its current stage. " +
	"Keep the tone businesslike but friendly. Do not include a subject line, just the email body. " +
	"If the stage is 'Quote Received', thank them for the quote and confirm next steps. " +
	"If 'Substitute y/n', ask clarifying questions about the substitute part. " +
	"If 'Send' or 'Outreach Sent', draft an appropriate follow-up."

const quotePrompt = "You are a data extraction assistant. Extract structured quote information from the text. " +
	"Return a JSON object with these fields (use null if not found):\n" +
	"- partNumber: Part number being quoted\n" +
	"- unitPrice: Price per unit (number)\n" +
	"- totalPrice: Total price (number)\n" +
	"- quantity: Quantity quoted\n" +
	"- leadTime: Delivery lead time\n" +
	"- currency: Currency (default USD)\n" +
	"- notes: Any important notes or conditions\n\n" +
	"Return ONLY valid JSON, no other text."

// ThreadMessage is one email of a supplier conversation. From is "us" or
// "supplier".
type ThreadMessage struct {
	From string `json:"from"`
	Body string `json:"body"`
}

// Quote is the structured content of a supplier quote. Parsed is false when
// the model reply was not JSON; Raw then holds the reply.
type Quote struct {
	PartNumber string   `json:"part_number,omitempty"`
	UnitPrice  *float64 `json:"unit_price,omitempty"`
	TotalPrice *float64 `json:"total_price,omitempty"`
	Quantity   string   `json:"quantity,omitempty"`
	LeadTime   string   `json:"lead_time,omitempty"`
	Currency   string   `json:"currency,omitempty"`
	Notes      string   `json:"notes,omitempty"`
	Parsed     bool     `json:"parsed"`
	Raw        string   `json:"raw,omitempty"`
}

// ClassifyThread asks the model which stage thread is in. Replies that name
// no known stage become StageNotYet.
func (c *Client) ClassifyThread(ctx context.Context, thread []ThreadMessage) (Stage, error) {
	reply, err := c.complete(ctx, []message{
		{Role: "system", Content: classifyPrompt},
		{Role: "user", Content: "Classify this email thread:\n\n" + FormatThread(thread)},
	}, 50, 0.1)
	if err != nil {
		return "", err
	}
	stage := MatchStage(reply)
	c.logger.Debug("classified thread", zap.Int("messages", len(thread)), zap.String("stage", string(stage)))
	return stage, nil
}

// DraftReply writes the next email of thread given its stage. facts (NSN,
// part number, quantity and the like) are listed in the prompt; empty values
// are left out.
func (c *Client) DraftReply(ctx context.Context, thread []ThreadMessage, stage Stage, facts map[string]string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Stage: %s\n\n", stage)
	if lines := contextLines(facts); lines != "" {
		fmt.Fprintf(&b, "Context:\n%s\n\n", lines)
	}
	fmt.Fprintf(&b, "Thread:\n%s\n\nDraft a reply:", FormatThread(thread))

	return c.complete(ctx, []message{
		{Role: "system", Content: replyPrompt},
		{Role: "user", Content: b.String()},
	}, c.cfg.MaxTokens, c.cfg.Temperature)
}

// ExtractQuote pulls price, quantity and lead time out of a supplier email or
// document text.
func (c *Client) ExtractQuote(ctx context.Context, text string) (Quote, error) {
	reply, err := c.complete(ctx, []message{
		{Role: "system", Content: quotePrompt},
		{Role: "user", Content: "Extract quote data from:\n\n" + truncateRunes(text, maxQuoteInput)},
	}, 256, 0.1)
	if err != nil {
		return Quote{}, err
	}
	q := ParseQuote(reply)
	if !q.Parsed {
		c.logger.Warn("quote reply was not JSON", zap.Int("chars", len(reply)))
	}
	return q, nil
}

// MatchStage finds the first stage named in reply, ignoring case and quotes.
func MatchStage(reply string) Stage {
	reply = strings.ToLower(strings.Trim(strings.TrimSpace(reply), `"'`))
	for _, stage := range Stages {
		if strings.Contains(reply, strings.ToLower(string(stage))) {
			return stage
		}
	}
	return StageNotYet
}

// FormatThread renders thread as numbered emails.
func FormatThread(thread []ThreadMessage) string {
	parts := make([]string, 0, len(thread))
	for i, msg := range thread {
		from := msg.From
		if from == "" {
			from = "unknown"
		}
		parts = append(parts, fmt.Sprintf("--- Email %d (from: %s) ---\n%s\n", i+1, from, msg.Body))
	}
	return strings.Join(parts, "\n")
}

// ParseQuote decodes a model reply, tolerating a fenced code block and
// prices written as strings.
func ParseQuote(reply string) Quote {
	body := strings.TrimSpace(reply)
	if parts := strings.Split(body, "```"); len(parts) >= 3 {
		body = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(parts[1]), "json"))
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return Quote{Raw: reply}
	}
	q := Quote{
		PartNumber: stringField(fields["partNumber"]),
		UnitPrice:  numberField(fields["unitPrice"]),
		TotalPrice: numberField(fields["totalPrice"]),
		Quantity:   stringField(fields["quantity"]),
		LeadTime:   stringField(fields["leadTime"]),
		Currency:   stringField(fields["currency"]),
		Notes:      stringField(fields["notes"]),
		Parsed:     true,
	}
	if q.Currency == "" {
		q.Currency = "USD"
	}
	return q
}

func stringField(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func numberField(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case string:
		clean := strings.NewReplacer("$", "", ",", "", " ", "").Replace(t)
		if f, err := strconv.ParseFloat(clean, 64); err == nil {
			return &f
		}
	}
	return nil
}

func contextLines(facts map[string]string) string {
	keys := make([]string, 0, len(facts))
	for k, v := range facts {
		if strings.TrimSpace(v) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("- %s: %s", k, facts[k]))
	}
	return strings.Join(lines, "\n")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
