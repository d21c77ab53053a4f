package assistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/databot-io/databot/internal/analysis"
	"github.com/databot-io/databot/internal/storage"
)

// historyTurns is how many past conversation turns are replayed into the prompt.
const historyTurns = 10

// Engine abstracts the chat model call. Implemented by Client.
type Engine interface {
	Chat(ctx context.Context, model string, messages []Message) (string, error)
}

// ChatStore defines the chat-log operations the assistant needs.
// Implemented by storage.Store.
type ChatStore interface {
	AppendChat(userID int64, message, response string) error
	RecentChat(userID int64, limit int) ([]storage.ChatEntry, error)
}

// Assistant answers dataset questions and records each turn in the chat log.
type Assistant struct {
	engine Engine
	model  string
	store  ChatStore
}

// New creates an Assistant backed by the given engine and chat store.
func New(engine Engine, model string, store ChatStore) *Assistant {
	return &Assistant{engine: engine, model: model, store: store}
}

// Ask builds a prompt from the dataset summary and the user's recent turns,
// queries the model, and appends the completed turn to the chat log. The
// turn is recorded only after the model answers, so a failed call leaves no
// partial history.
func (a *Assistant) Ask(ctx context.Context, user storage.User, datasetName string, summary analysis.Summary, question string) (string, error) {
	history, err := a.store.RecentChat(user.ID, historyTurns)
	if err != nil {
		return "", fmt.Errorf("loading chat history: %w", err)
	}

	messages := buildMessages(datasetName, summary, history, question)

	answer, err := a.engine.Chat(ctx, a.model, messages)
	if err != nil {
		return "", fmt.Errorf("querying model: %w", err)
	}

	if err := a.store.AppendChat(user.ID, question, answer); err != nil {
		return "", fmt.Errorf("recording chat turn: %w", err)
	}

	return answer, nil
}

func buildMessages(datasetName string, summary analysis.Summary, history []storage.ChatEntry, question string) []Message {
	var sys strings.Builder
	sys.WriteString("You are DataBot, an assistant that answers questions about the user's tabular dataset. ")
	sys.WriteString("Answer concisely and only from the dataset description below.\n\n")
	fmt.Fprintf(&sys, "Dataset: %s\n", datasetName)
	sys.WriteString(summary.Text())

	messages := []Message{{Role: "system", Content: sys.String()}}

	// RecentChat returns newest first; replay oldest first.
	for i := len(history) - 1; i >= 0; i-- {
		messages = append(messages,
			Message{Role: "user", Content: history[i].Message},
			Message{Role: "assistant", Content: history[i].Response},
		)
	}

	messages = append(messages, Message{Role: "user", Content: question})
	return messages
}
