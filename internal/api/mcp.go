package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/escalator/internal/desk"
	"github.com/kalambet/escalator/internal/lifecycle"
	"github.com/kalambet/escalator/internal/model"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Desk *desk.Service
}

// NewMCPServer creates an MCP server exposing the help desk to a voice or
// chat agent.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"escalator",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("escalator: answer customer questions from the learned knowledge base and escalate the rest to a supervisor."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Answer a customer question from the knowledge base, or escalate it to a supervisor when no stored answer matches."),
			mcp.WithString("question", mcp.Description("The customer's question"), mcp.Required()),
			mcp.WithString("customer_name", mcp.Description("Customer name")),
			mcp.WithString("customer_contact", mcp.Description("Phone number or handle")),
			mcp.WithString("channel", mcp.Description("phone, sms or other (default phone)")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("list_requests",
			mcp.WithDescription("List help requests, newest first."),
			mcp.WithString("status", mcp.Description("Filter by status: pending, resolved or unresolved")),
		),
		mcpListRequests(deps),
	)

	s.AddTool(
		mcp.NewTool("suggest_answer",
			mcp.WithDescription("Draft a personalised answer for a request from the closest knowledge base entry."),
			mcp.WithString("request_id", mcp.Description("Help request ID"), mcp.Required()),
		),
		mcpSuggestAnswer(deps),
	)

	s.AddTool(
		mcp.NewTool("respond",
			mcp.WithDescription("Record a supervisor response: resolve with an answer, or leave unresolved with a follow-up window."),
			mcp.WithString("request_id", mcp.Description("Help request ID"), mcp.Required()),
			mcp.WithString("answer", mcp.Description("Answer for the customer")),
			mcp.WithString("topic", mcp.Description("Knowledge base topic (default General)")),
			mcp.WithBoolean("unresolved", mcp.Description("Leave the request unresolved")),
			mcp.WithString("notes", mcp.Description("Internal notes")),
			mcp.WithNumber("follow_up_minutes", mcp.Description("Minutes until the customer gets a follow-up")),
		),
		mcpRespond(deps),
	)

	s.AddTool(
		mcp.NewTool("knowledge_search",
			mcp.WithDescription("Search the learned knowledge base by topic, question or answer text."),
			mcp.WithString("query", mcp.Description("Search text; empty returns everything")),
		),
		mcpKnowledgeSearch(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"desk://pending",
			"Pending Requests",
			mcp.WithResourceDescription("Help requests waiting for a supervisor"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePending(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		in := lifecycle.NewRequest{
			CustomerName:    req.GetString("customer_name", ""),
			CustomerContact: req.GetString("customer_contact", ""),
			Question:        question,
		}
		if ch := req.GetString("channel", ""); ch != "" {
			in.Channel = model.ParseChannel(ch)
		}

		res, err := deps.Desk.Ask(ctx, in)
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}
		if res.Answered {
			return mcpText(res.Answer), nil
		}
		return mcpText(fmt.Sprintf("Escalated as request %s. %s", res.Request.ID, lifecycle.MsgAcknowledgement)), nil
	}
}

func mcpListRequests(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status := model.Status(req.GetString("status", ""))
		reqs, err := deps.Desk.List(ctx, status)
		if err != nil {
			return mcpError(fmt.Sprintf("list failed: %v", err)), nil
		}
		return mcpJSON(reqs)
	}
}

func mcpSuggestAnswer(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("request_id")
		if err != nil {
			return mcpError("request_id is required"), nil
		}

		sug, ok, err := deps.Desk.Suggest(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("suggest failed: %v", err)), nil
		}
		if !ok {
			return mcpText("The knowledge base is empty; no suggestion available."), nil
		}
		return mcpJSON(sug)
	}
}

func mcpRespond(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("request_id")
		if err != nil {
			return mcpError("request_id is required"), nil
		}

		resp := lifecycle.Response{
			Answer:     req.GetString("answer", ""),
			Topic:      req.GetString("topic", ""),
			Unresolved: req.GetBool("unresolved", false),
			Notes:      req.GetString("notes", ""),
		}
		if m := req.GetInt("follow_up_minutes", 0); m > 0 {
			resp.FollowUpMinutes = &m
		}

		updated, err := deps.Desk.SubmitResponse(ctx, id, resp)
		if errors.Is(err, model.ErrValidation) {
			return mcpError("answer is required unless unresolved is set"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("respond failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Request %s is now %s.", updated.ID, updated.Status)), nil
	}
}

func mcpKnowledgeSearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		entries, err := deps.Desk.SearchKnowledge(ctx, req.GetString("query", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return mcpJSON(entries)
	}
}

func mcpResourcePending(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		reqs, err := deps.Desk.List(ctx, model.StatusPending)
		if err != nil {
			return nil, fmt.Errorf("failed to list pending requests: %w", err)
		}

		b, err := json.Marshal(reqs)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal requests: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
