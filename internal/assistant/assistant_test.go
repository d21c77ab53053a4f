package assistant

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/databot-io/databot/internal/analysis"
	"github.com/databot-io/databot/internal/storage"
	"github.com/databot-io/databot/internal/table"
)

type mockEngine struct {
	response string
	err      error
	gotModel string
	gotMsgs  []Message
}

func (m *mockEngine) Chat(_ context.Context, model string, messages []Message) (string, error) {
	m.gotModel = model
	m.gotMsgs = messages
	return m.response, m.err
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSummary(t *testing.T) analysis.Summary {
	t.Helper()
	tbl, err := table.ReadCSV(strings.NewReader("id,city\n1,Lisbon\n2,Osaka\n"))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	return analysis.Summarize(tbl)
}

func TestAskRecordsTurn(t *testing.T) {
	store := openTestStore(t)
	user, err := store.GetOrCreateUser("alice")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}

	engine := &mockEngine{response: "Two cities appear."}
	a := New(engine, "llama3.1", store)

	answer, err := a.Ask(context.Background(), user, "cities.csv", testSummary(t), "How many cities?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer != "Two cities appear." {
		t.Errorf("answer = %q", answer)
	}
	if engine.gotModel != "llama3.1" {
		t.Errorf("model = %q", engine.gotModel)
	}

	entries, err := store.RecentChat(user.ID, 10)
	if err != nil {
		t.Fatalf("RecentChat: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 recorded turn, got %d", len(entries))
	}
	if entries[0].Message != "How many cities?" || entries[0].Response != "Two cities appear." {
		t.Errorf("recorded turn: %+v", entries[0])
	}
}

func TestAskPromptShape(t *testing.T) {
	store := openTestStore(t)
	user, _ := store.GetOrCreateUser("alice")

	if err := store.AppendChat(user.ID, "earlier question", "earlier answer"); err != nil {
		t.Fatalf("AppendChat: %v", err)
	}

	engine := &mockEngine{response: "ok"}
	a := New(engine, "llama3.1", store)

	if _, err := a.Ask(context.Background(), user, "cities.csv", testSummary(t), "new question"); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	msgs := engine.gotMsgs
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages (system, history pair, question), got %d", len(msgs))
	}
	if msgs[0].Role != "system" || !strings.Contains(msgs[0].Content, "cities.csv") {
		t.Errorf("system message: %+v", msgs[0])
	}
	if !strings.Contains(msgs[0].Content, "2 rows, 2 columns") {
		t.Errorf("system message missing summary: %q", msgs[0].Content)
	}
	if msgs[1].Content != "earlier question" || msgs[2].Content != "earlier answer" {
		t.Errorf("history not replayed oldest-first: %+v", msgs[1:3])
	}
	if msgs[3].Role != "user" || msgs[3].Content != "new question" {
		t.Errorf("final message: %+v", msgs[3])
	}
}

func TestAskEngineFailureLeavesNoHistory(t *testing.T) {
	store := openTestStore(t)
	user, _ := store.GetOrCreateUser("alice")

	engine := &mockEngine{err: errors.New("model offline")}
	a := New(engine, "llama3.1", store)

	if _, err := a.Ask(context.Background(), user, "d", testSummary(t), "q"); err == nil {
		t.Fatal("expected error from failing engine")
	}

	entries, err := store.RecentChat(user.ID, 10)
	if err != nil {
		t.Fatalf("RecentChat: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("failed turn was recorded: %+v", entries)
	}
}

func TestClientChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":{"role":"assistant","content":"hello"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	got, err := c.Chat(context.Background(), "llama3.1", []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "hello" {
		t.Errorf("reply = %q", got)
	}
}

func TestClientChatErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Chat(context.Background(), "nope", nil); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}
