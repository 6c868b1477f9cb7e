package conversation

import (
	"fmt"
	"sync"
	"testing"

	"github.com/opsrelay/opsrelay/pkg/models"
)

func TestAppendAndHistory(t *testing.T) {
	s := NewStore(nil, nil)
	id := NewID()

	s.Append(id, models.NewChatMessage(models.RoleUser, "hello"))
	s.Append(id, models.NewChatMessage(models.RoleAssistant, "hi"))

	history := s.History(id)
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Role != models.RoleUser || history[1].Role != models.RoleAssistant {
		t.Fatalf("roles = %s, %s", history[0].Role, history[1].Role)
	}
	if history[0].ConversationID != id {
		t.Fatalf("conversation id not stamped: %q", history[0].ConversationID)
	}
}

func TestHistoryReturnsCopies(t *testing.T) {
	s := NewStore(nil, nil)
	id := NewID()
	s.Append(id, models.NewChatMessage(models.RoleUser, "original"))

	history := s.History(id)
	history[0].Content = "mutated"

	if s.History(id)[0].Content != "original" {
		t.Fatal("mutation through History leaked into the store")
	}
}

func TestAppendDoesNotMutateCaller(t *testing.T) {
	s := NewStore(nil, nil)
	msg := models.NewChatMessage(models.RoleUser, "x")
	s.Append("conv", msg)
	if msg.ConversationID != "" {
		t.Fatal("Append mutated the caller's message")
	}
}

func TestUnknownConversation(t *testing.T) {
	s := NewStore(nil, nil)
	if got := s.History("nope"); len(got) != 0 {
		t.Fatalf("history of unknown conversation = %v", got)
	}
	if s.Count("nope") != 0 || s.Exists("nope") {
		t.Fatal("unknown conversation must not exist")
	}
}

func TestClear(t *testing.T) {
	s := NewStore(nil, nil)
	s.Append("a", models.NewChatMessage(models.RoleUser, "x"))

	if !s.Clear("a") {
		t.Fatal("Clear must report true for existing conversation")
	}
	if s.Clear("a") {
		t.Fatal("Clear must report false for missing conversation")
	}
	if s.Exists("a") {
		t.Fatal("conversation survived Clear")
	}
}

func TestIDsSorted(t *testing.T) {
	s := NewStore(nil, nil)
	for _, id := range []string{"c", "a", "b"} {
		s.Append(id, models.NewChatMessage(models.RoleUser, "x"))
	}
	ids := s.IDs()
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Fatalf("ids = %v", ids)
	}
	if s.Len() != 3 {
		t.Fatalf("len = %d", s.Len())
	}
}

func TestConcurrentAppends(t *testing.T) {
	s := NewStore(nil, nil)
	id := NewID()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.Append(id, models.NewChatMessage(models.RoleUser, fmt.Sprintf("msg-%d", n)))
		}(i)
	}
	wg.Wait()
	if s.Count(id) != 50 {
		t.Fatalf("count = %d, want 50", s.Count(id))
	}
}
