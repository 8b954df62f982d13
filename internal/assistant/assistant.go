// Package assistant relays business questions to a hosted LLM with a
// snapshot of the shop's data embedded in the prompt.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"stockdesk/internal/domain"
)

var (
	ErrRateLimited = errors.New("rate limited")
	ErrUnavailable = errors.New("assistant unavailable")
	ErrEmptyInput  = errors.New("empty question")
)

// Snapshot caps keep the prompt bounded no matter how much data the shop has.
const (
	maxPromptProducts     = 30
	maxPromptTransactions = 15
	maxPromptContacts     = 20
)

// Model generates an answer given a system prompt and the user's question.
type Model interface {
	Generate(ctx context.Context, systemPrompt string, userInput string) (string, error)
}

// SnapshotProvider supplies the data embedded in the prompt.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) ([]domain.Product, []domain.Transaction, []domain.Contact, error)
}

type Service struct {
	model   Model
	data    SnapshotProvider
	limiter *rateLimiter
}

// New builds the relay. A nil model means no API key was configured; Ask
// then fails with ErrUnavailable instead of panicking.
func New(model Model, data SnapshotProvider) *Service {
	return &Service{
		model:   model,
		data:    data,
		limiter: newRateLimiter(30, time.Minute),
	}
}

func (s *Service) Ask(ctx context.Context, callerKey string, req domain.AssistantRequest) (*domain.AssistantResponse, error) {
	if s.model == nil {
		return nil, ErrUnavailable
	}
	userInput := strings.TrimSpace(req.UserInput)
	if userInput == "" {
		return nil, ErrEmptyInput
	}
	if !s.limiter.Allow(callerKey) {
		return nil, ErrRateLimited
	}

	products, transactions, contacts, err := s.data.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	prompt := buildSystemPrompt(products, transactions, contacts)
	text, err := s.model.Generate(ctx, prompt, userInput)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &domain.AssistantResponse{Text: text}, nil
}

func buildSystemPrompt(products []domain.Product, transactions []domain.Transaction, contacts []domain.Contact) string {
	var b strings.Builder
	b.WriteString(`You are an expert business analyst AI assistant for "Stock Desk", an inventory management application.

YOUR ROLE:
- Analyze the user's business data (products, transactions, contacts) to provide actionable insights
- Answer questions accurately based ONLY on the provided data
- Be concise, clear, and business-focused
- Use markdown formatting for better readability

ANALYSIS RULES:
- Calculate metrics when asked (profit, revenue, averages, percentages)
- Flag low-stock items that need restocking
- Summarize customer/supplier relationships and balances
- If asked something not in the data, explicitly state: "This information is not available in your data"
- Never invent or assume data

`)

	writeSection(&b, "Products", len(products), snapshotJSON(capProducts(products)))
	writeSection(&b, "Recent Transactions", len(transactions), snapshotJSON(capTransactions(transactions)))
	writeSection(&b, "Contacts", len(contacts), snapshotJSON(capContacts(contacts)))
	return b.String()
}

func writeSection(b *strings.Builder, title string, total int, payload string) {
	if total == 0 {
		return
	}
	fmt.Fprintf(b, "\n**%s (%d total):**\n%s\n", title, total, payload)
}

func snapshotJSON(v any) string {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(payload)
}

func capProducts(products []domain.Product) []domain.Product {
	if len(products) > maxPromptProducts {
		return products[:maxPromptProducts]
	}
	return products
}

func capTransactions(transactions []domain.Transaction) []domain.Transaction {
	if len(transactions) > maxPromptTransactions {
		return transactions[:maxPromptTransactions]
	}
	return transactions
}

func capContacts(contacts []domain.Contact) []domain.Contact {
	if len(contacts) > maxPromptContacts {
		return contacts[:maxPromptContacts]
	}
	return contacts
}

// rateLimiter is a sliding-window counter per caller key.
type rateLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newRateLimiter(max int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		max:     max,
		window:  window,
		entries: make(map[string][]time.Time),
	}
}

func (l *rateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)

	recent := l.entries[key][:0]
	for _, t := range l.entries[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= l.max {
		l.entries[key] = recent
		return false
	}

	l.entries[key] = append(recent, now)
	return true
}
