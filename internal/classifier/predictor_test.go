package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/opsdesk/ticket-sync/internal/domain"
)

func TestKeywordPredictor(t *testing.T) {
	p := NewKeywordPredictor()
	cases := []struct {
		name  string
		title string
		body  string
		want  domain.Category
	}{
		{"network in title", "VPN keeps dropping", "since this morning", domain.CategoryNetwork},
		{"database in body", "Reports are slow", "the postgres query times out on the schema migration", domain.CategoryDatabase},
		{"title outweighs body", "Outlook mailbox full", "my laptop is also slow", domain.CategoryEmail},
		{"case insensitive", "KUBERNETES DEPLOY FAILED", "", domain.CategoryDevOps},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := p.Predict(context.Background(), tc.title, tc.body)
			if err != nil {
				t.Fatalf("predict: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestKeywordPredictorNoSignal(t *testing.T) {
	_, err := NewKeywordPredictor().Predict(context.Background(), "hello", "thanks")
	if !errors.Is(err, ErrNoSignal) {
		t.Fatalf("expected ErrNoSignal, got %v", err)
	}
}

type stubPredictor struct {
	category domain.Category
	err      error
}

func (s stubPredictor) Predict(context.Context, string, string) (domain.Category, error) {
	return s.category, s.err
}

func TestPredictOrDefault(t *testing.T) {
	ctx := context.Background()

	got, err := PredictOrDefault(ctx, stubPredictor{err: errors.New("model offline")}, "t", "b")
	if err == nil || got != domain.DefaultCategory {
		t.Fatalf("expected fallback with error, got %s %v", got, err)
	}

	got, err = PredictOrDefault(ctx, stubPredictor{category: "quantum"}, "t", "b")
	if err == nil || got != domain.CategoryApplication {
		t.Fatalf("expected fallback for unknown category, got %s %v", got, err)
	}

	got, err = PredictOrDefault(ctx, stubPredictor{category: "Storage"}, "t", "b")
	if err != nil || got != domain.CategoryStorage {
		t.Fatalf("expected storage, got %s %v", got, err)
	}

	got, err = PredictOrDefault(ctx, nil, "t", "b")
	if err != nil || got != domain.DefaultCategory {
		t.Fatalf("nil predictor should default, got %s %v", got, err)
	}
}
