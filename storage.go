package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ConversationStore persists conversations as one JSON file per conversation
// under a data directory. A single mutex serializes writers; the files are
// small enough that this is never the bottleneck.
type ConversationStore struct {
	mu  sync.Mutex
	dir string
}

// NewConversationStore ensures the data directory exists and returns a store
// over it.
func NewConversationStore(dir string) (*ConversationStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return &ConversationStore{dir: dir}, nil
}

func (s *ConversationStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Create makes a new empty conversation and persists it.
func (s *ConversationStore) Create() (*Conversation, error) {
	now := IsoTimestamp()
	conv := &Conversation{
		ID:        uuid.NewString(),
		Title:     "New Conversation",
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []Message{},
	}
	if err := s.save(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Get loads one conversation. A missing conversation returns (nil, nil).
func (s *ConversationStore) Get(id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

func (s *ConversationStore) get(id string) (*Conversation, error) {
	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation %s: %w", id, err)
	}
	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("failed to parse conversation %s: %w", id, err)
	}
	return &conv, nil
}

func (s *ConversationStore) save(conv *Conversation) error {
	conv.UpdatedAt = IsoTimestamp()
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal conversation %s: %w", conv.ID, err)
	}
	if err := os.WriteFile(s.path(conv.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write conversation %s: %w", conv.ID, err)
	}
	return nil
}

// List returns metadata for every stored conversation, newest first. Files
// that fail to parse are skipped with a warning rather than failing the list.
func (s *ConversationStore) List() ([]ConversationMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	metas := []ConversationMetadata{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		conv, err := s.get(id)
		if err != nil || conv == nil {
			log.Printf("Skipping unreadable conversation file %s: %v", entry.Name(), err)
			continue
		}
		metas = append(metas, ConversationMetadata{
			ID:           conv.ID,
			Title:        conv.Title,
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
			MessageCount: len(conv.Messages),
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt > metas[j].UpdatedAt
	})
	return metas, nil
}

// Delete removes a conversation. Deleting a missing conversation is not an
// error.
func (s *ConversationStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	return nil
}

// AddUserMessage appends a user turn and persists.
func (s *ConversationStore) AddUserMessage(id, content string, models []string, attachments []Attachment) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s not found", id)
	}

	conv.Messages = append(conv.Messages, Message{
		Role:        "user",
		Timestamp:   IsoTimestamp(),
		Content:     content,
		Models:      models,
		Attachments: attachments,
	})
	if err := s.save(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// AddAssistantMessage appends an assistant turn carrying all four stage
// results and persists.
func (s *ConversationStore) AddAssistantMessage(id string, stage1 []Stage1Result, stage2 []Stage2Result, stage3 Stage3Result, stage4 Stage4Result) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s not found", id)
	}

	conv.Messages = append(conv.Messages, Message{
		Role:      "assistant",
		Timestamp: IsoTimestamp(),
		Stage1:    stage1,
		Stage2:    stage2,
		Stage3:    &stage3,
		Stage4:    &stage4,
	})
	if err := s.save(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// UpdateTitle sets a conversation's title and persists.
func (s *ConversationStore) UpdateTitle(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.get(id)
	if err != nil {
		return err
	}
	if conv == nil {
		return fmt.Errorf("conversation %s not found", id)
	}

	conv.Title = title
	return s.save(conv)
}
