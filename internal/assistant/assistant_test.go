package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"stockdesk/internal/domain"
)

type stubModel struct {
	answer     string
	err        error
	lastPrompt string
	lastInput  string
}

func (m *stubModel) Generate(_ context.Context, systemPrompt string, userInput string) (string, error) {
	m.lastPrompt = systemPrompt
	m.lastInput = userInput
	if m.err != nil {
		return "", m.err
	}
	return m.answer, nil
}

type stubData struct {
	products     []domain.Product
	transactions []domain.Transaction
	contacts     []domain.Contact
}

func (d stubData) Snapshot(_ context.Context) ([]domain.Product, []domain.Transaction, []domain.Contact, error) {
	return d.products, d.transactions, d.contacts, nil
}

func TestAskReturnsModelAnswer(t *testing.T) {
	model := &stubModel{answer: "Profit is up this week."}
	svc := New(model, stubData{
		products: []domain.Product{{SKU: "PCM-500", Name: "Paracetamol 500mg", Price: 25}},
	})

	resp, err := svc.Ask(context.Background(), "caller-1", domain.AssistantRequest{UserInput: "How are sales?"})
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if resp.Text != "Profit is up this week." {
		t.Fatalf("unexpected answer %q", resp.Text)
	}
	if model.lastInput != "How are sales?" {
		t.Fatalf("expected user input forwarded, got %q", model.lastInput)
	}
	if !strings.Contains(model.lastPrompt, "Stock Desk") {
		t.Fatalf("expected prompt to identify the application")
	}
	if !strings.Contains(model.lastPrompt, "Paracetamol 500mg") {
		t.Fatalf("expected product snapshot embedded in prompt")
	}
}

func TestAskWithoutModelIsUnavailable(t *testing.T) {
	svc := New(nil, stubData{})

	_, err := svc.Ask(context.Background(), "caller-1", domain.AssistantRequest{UserInput: "hello"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	svc := New(&stubModel{answer: "ok"}, stubData{})

	_, err := svc.Ask(context.Background(), "caller-1", domain.AssistantRequest{UserInput: "   "})
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestAskRateLimitsPerCaller(t *testing.T) {
	svc := New(&stubModel{answer: "ok"}, stubData{})
	ctx := context.Background()
	req := domain.AssistantRequest{UserInput: "question"}

	for i := 0; i < 30; i++ {
		if _, err := svc.Ask(ctx, "busy-caller", req); err != nil {
			t.Fatalf("request %d should be allowed: %v", i+1, err)
		}
	}

	_, err := svc.Ask(ctx, "busy-caller", req)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on request 31, got %v", err)
	}

	if _, err := svc.Ask(ctx, "other-caller", req); err != nil {
		t.Fatalf("other callers should not be limited: %v", err)
	}
}

func TestAskWrapsModelErrors(t *testing.T) {
	svc := New(&stubModel{err: errors.New("upstream 500")}, stubData{})

	_, err := svc.Ask(context.Background(), "caller-1", domain.AssistantRequest{UserInput: "hello"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected model error to wrap ErrUnavailable, got %v", err)
	}
}

func TestPromptCapsSnapshotSize(t *testing.T) {
	products := make([]domain.Product, 0, 35)
	for i := 0; i < 35; i++ {
		products = append(products, domain.Product{
			SKU:  fmt.Sprintf("SKU-%02d", i+1),
			Name: fmt.Sprintf("Item %02d", i+1),
		})
	}

	model := &stubModel{answer: "ok"}
	svc := New(model, stubData{products: products})
	if _, err := svc.Ask(context.Background(), "caller-1", domain.AssistantRequest{UserInput: "stock?"}); err != nil {
		t.Fatalf("ask failed: %v", err)
	}

	if !strings.Contains(model.lastPrompt, "Products (35 total)") {
		t.Fatalf("expected section header with real total")
	}
	if !strings.Contains(model.lastPrompt, "Item 30") {
		t.Fatalf("expected item 30 inside the cap")
	}
	if strings.Contains(model.lastPrompt, "Item 31") {
		t.Fatalf("expected item 31 to be cut by the cap")
	}
}
