package main

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *ConversationStore {
	t.Helper()
	store, err := NewConversationStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestConversationCreateAndGet(t *testing.T) {
	store := newTestStore(t)

	conv, err := store.Create()
	if err != nil {
		t.Fatal(err)
	}
	if conv.ID == "" || conv.Title != "New Conversation" {
		t.Errorf("conversation = %+v", conv)
	}
	if len(conv.Messages) != 0 {
		t.Errorf("new conversation has %d messages", len(conv.Messages))
	}

	loaded, err := store.Get(conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded == nil || loaded.ID != conv.ID {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestConversationGetMissing(t *testing.T) {
	store := newTestStore(t)

	conv, err := store.Get("no-such-id")
	if err != nil {
		t.Fatalf("missing conversation should not error: %v", err)
	}
	if conv != nil {
		t.Errorf("got %+v, want nil", conv)
	}
}

func TestConversationMessages(t *testing.T) {
	store := newTestStore(t)
	conv, _ := store.Create()

	if _, err := store.AddUserMessage(conv.ID, "hello", []string{"a/p"}, nil); err != nil {
		t.Fatal(err)
	}
	stage3 := Stage3Result{Model: "chair/p", Response: "synthesized"}
	stage4 := Stage4Result{BestAnswer: "best", Rankings: []RankingEntry{}}
	if _, err := store.AddAssistantMessage(conv.ID, []Stage1Result{{Model: "a/p", Response: "r"}}, nil, stage3, stage4); err != nil {
		t.Fatal(err)
	}

	loaded, _ := store.Get(conv.ID)
	if len(loaded.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(loaded.Messages))
	}
	if loaded.Messages[0].Role != "user" || loaded.Messages[0].Content != "hello" {
		t.Errorf("user message = %+v", loaded.Messages[0])
	}
	assistant := loaded.Messages[1]
	if assistant.Role != "assistant" || assistant.Stage3 == nil || assistant.Stage3.Response != "synthesized" {
		t.Errorf("assistant message = %+v", assistant)
	}
	if assistant.Stage4 == nil || assistant.Stage4.BestAnswer != "best" {
		t.Errorf("stage4 = %+v", assistant.Stage4)
	}
}

func TestConversationAddToMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.AddUserMessage("ghost", "hi", nil, nil); err == nil {
		t.Error("expected error adding to missing conversation")
	}
}

func TestConversationList(t *testing.T) {
	store := newTestStore(t)

	first, _ := store.Create()
	second, _ := store.Create()
	// Touch the first so it becomes the most recently updated.
	if _, err := store.AddUserMessage(first.ID, "bump", nil, nil); err != nil {
		t.Fatal(err)
	}

	metas, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 2 {
		t.Fatalf("got %d conversations, want 2", len(metas))
	}
	if metas[0].ID != first.ID {
		t.Errorf("newest first: got %s, want %s", metas[0].ID, first.ID)
	}
	if metas[0].MessageCount != 1 {
		t.Errorf("message count = %d", metas[0].MessageCount)
	}
	if metas[1].ID != second.ID {
		t.Errorf("second entry = %s, want %s", metas[1].ID, second.ID)
	}
}

func TestConversationListSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewConversationStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	store.Create()
	os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0644)

	metas, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 1 {
		t.Errorf("got %d conversations, want corrupt file skipped", len(metas))
	}
}

func TestConversationDelete(t *testing.T) {
	store := newTestStore(t)
	conv, _ := store.Create()

	if err := store.Delete(conv.ID); err != nil {
		t.Fatal(err)
	}
	loaded, _ := store.Get(conv.ID)
	if loaded != nil {
		t.Error("conversation still present after delete")
	}

	if err := store.Delete("no-such-id"); err != nil {
		t.Errorf("deleting missing conversation should be a no-op: %v", err)
	}
}

func TestConversationUpdateTitle(t *testing.T) {
	store := newTestStore(t)
	conv, _ := store.Create()

	if err := store.UpdateTitle(conv.ID, "Renamed"); err != nil {
		t.Fatal(err)
	}
	loaded, _ := store.Get(conv.ID)
	if loaded.Title != "Renamed" {
		t.Errorf("title = %q", loaded.Title)
	}
}
