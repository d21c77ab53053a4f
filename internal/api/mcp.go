package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/databot-io/databot/internal/analysis"
	"github.com/databot-io/databot/internal/storage"
	"github.com/databot-io/databot/internal/table"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     DatasetStore
	Assistant Asker // optional; if nil, ask_databot returns an error
}

// DatasetStore defines the storage operations the MCP layer needs.
// Implemented by storage.Store.
type DatasetStore interface {
	GetUserByUsername(username string) (storage.User, error)
	ListDatasetNames(userID int64) ([]string, error)
	LoadDataset(userID int64, name string) ([]byte, error)
}

// NewMCPServer creates an MCP server exposing the user's datasets to LLM clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"databot",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("databot — saved tabular datasets with cleaning reports and column summaries."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_datasets",
			mcp.WithDescription("List the names of all datasets saved by a user."),
			mcp.WithString("username", mcp.Description("The owning user's name"), mcp.Required()),
		),
		mcpListDatasets(deps),
	)

	s.AddTool(
		mcp.NewTool("dataset_summary",
			mcp.WithDescription("Return per-column summary statistics for a saved dataset."),
			mcp.WithString("username", mcp.Description("The owning user's name"), mcp.Required()),
			mcp.WithString("name", mcp.Description("Dataset name"), mcp.Required()),
		),
		mcpDatasetSummary(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_databot",
			mcp.WithDescription("Ask the databot assistant a question about a saved dataset."),
			mcp.WithString("username", mcp.Description("The owning user's name"), mcp.Required()),
			mcp.WithString("name", mcp.Description("Dataset name"), mcp.Required()),
			mcp.WithString("question", mcp.Description("The question to ask"), mcp.Required()),
		),
		mcpAskDatabot(deps),
	)

	return s
}

func mcpListDatasets(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		username, err := req.RequireString("username")
		if err != nil {
			return mcpError("username is required"), nil
		}

		user, err := deps.Store.GetUserByUsername(username)
		if err != nil {
			return mcpError(fmt.Sprintf("unknown user %q", username)), nil
		}

		names, err := deps.Store.ListDatasetNames(user.ID)
		if err != nil {
			return mcpError(fmt.Sprintf("listing datasets: %v", err)), nil
		}
		if names == nil {
			names = []string{}
		}

		b, err := json.Marshal(names)
		if err != nil {
			return mcpError(fmt.Sprintf("marshalling names: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpDatasetSummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		username, err := req.RequireString("username")
		if err != nil {
			return mcpError("username is required"), nil
		}
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}

		_, summary, err := summaryFor(deps, username, name)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		b, err := json.Marshal(summary)
		if err != nil {
			return mcpError(fmt.Sprintf("marshalling summary: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAskDatabot(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Assistant == nil {
			return mcpError("assistant is not configured"), nil
		}

		username, err := req.RequireString("username")
		if err != nil {
			return mcpError("username is required"), nil
		}
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		user, summary, err := summaryFor(deps, username, name)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		answer, err := deps.Assistant.Ask(ctx, user, name, summary, question)
		if err != nil {
			return mcpError(fmt.Sprintf("assistant: %v", err)), nil
		}
		return mcpText(answer), nil
	}
}

func summaryFor(deps MCPDeps, username, name string) (storage.User, analysis.Summary, error) {
	user, err := deps.Store.GetUserByUsername(username)
	if err != nil {
		return storage.User{}, analysis.Summary{}, fmt.Errorf("unknown user %q", username)
	}

	payload, err := deps.Store.LoadDataset(user.ID, name)
	if err != nil {
		return storage.User{}, analysis.Summary{}, fmt.Errorf("dataset %q: %v", name, err)
	}

	tbl, err := table.Decode(payload)
	if err != nil {
		return storage.User{}, analysis.Summary{}, fmt.Errorf("decoding dataset %q: %v", name, err)
	}

	return user, analysis.Summarize(tbl), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return mcp.NewToolResultText(text)
}

func mcpError(msg string) *mcp.CallToolResult {
	return mcp.NewToolResultError(msg)
}
