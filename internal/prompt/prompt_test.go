package prompt

import (
	"context"
	"testing"

	"github.com/agentgovernor/governor/internal/store"
)

func TestStoreAndListPendingPrompts(t *testing.T) {
	s := store.NewMemoryStore()
	c := New(s)
	ctx := context.Background()

	if _, err := c.StorePendingPrompt(ctx, "s1", "I-1", "first", "alice"); err != nil {
		t.Fatalf("StorePendingPrompt: %v", err)
	}
	if _, err := c.StorePendingPrompt(ctx, "s1", "I-1", "second", "bob"); err != nil {
		t.Fatalf("StorePendingPrompt: %v", err)
	}

	prompts, err := c.GetPendingPrompts(ctx, "s1")
	if err != nil {
		t.Fatalf("GetPendingPrompts: %v", err)
	}
	if len(prompts) != 2 || prompts[0].Prompt != "first" || prompts[1].Prompt != "second" {
		t.Fatalf("expected FIFO order, got %+v", prompts)
	}
}

func TestPopPendingPromptRemovesOldestFirst(t *testing.T) {
	s := store.NewMemoryStore()
	c := New(s)
	ctx := context.Background()

	c.StorePendingPrompt(ctx, "s1", "I-1", "first", "")
	c.StorePendingPrompt(ctx, "s1", "I-1", "second", "")

	popped, err := c.PopPendingPrompt(ctx, "s1")
	if err != nil {
		t.Fatalf("PopPendingPrompt: %v", err)
	}
	if popped.Prompt != "first" {
		t.Fatalf("expected oldest prompt popped first, got %q", popped.Prompt)
	}

	remaining, _ := c.GetPendingPrompts(ctx, "s1")
	if len(remaining) != 1 || remaining[0].Prompt != "second" {
		t.Fatalf("expected one prompt left, got %+v", remaining)
	}
}

func TestPopPendingPromptEmptyReturnsNotFound(t *testing.T) {
	s := store.NewMemoryStore()
	c := New(s)
	if _, err := c.PopPendingPrompt(context.Background(), "s1"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClaimPendingPromptByID(t *testing.T) {
	s := store.NewMemoryStore()
	c := New(s)
	ctx := context.Background()

	p1, _ := c.StorePendingPrompt(ctx, "s1", "I-1", "first", "")
	c.StorePendingPrompt(ctx, "s1", "I-1", "second", "")

	claimed, err := c.ClaimPendingPrompt(ctx, "s1", p1.ID)
	if err != nil {
		t.Fatalf("ClaimPendingPrompt: %v", err)
	}
	if claimed.Prompt != "first" {
		t.Fatalf("expected claimed prompt to be 'first', got %q", claimed.Prompt)
	}

	remaining, _ := c.GetPendingPrompts(ctx, "s1")
	if len(remaining) != 1 || remaining[0].Prompt != "second" {
		t.Fatalf("expected only 'second' remaining, got %+v", remaining)
	}
}
