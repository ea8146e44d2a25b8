package mcp

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/bagsplit/internal/config"
	"github.com/hpungsan/bagsplit/internal/errors"
	"github.com/hpungsan/bagsplit/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db  *sql.DB
	cfg *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *sql.DB, cfg *config.Config) *Handlers {
	return &Handlers{db: db, cfg: cfg}
}

// SplitCheckRequest represents the arguments for bag_splitcheck.
type SplitCheckRequest struct {
	BagPath       string `json:"bag_path"`
	SplitDir      string `json:"split_dir,omitempty"`
	NoVerify      bool   `json:"no_verify,omitempty"`
	NoMetadataBag bool   `json:"no_metadata_bag,omitempty"`
	ReportPath    string `json:"report_path,omitempty"`
}

// UnsplitRequest represents the arguments for bag_unsplit.
type UnsplitRequest struct {
	SplitDir   string `json:"split_dir"`
	OutputDir  string `json:"output_dir,omitempty"`
	NoVerify   bool   `json:"no_verify,omitempty"`
	ReportPath string `json:"report_path,omitempty"`
}

// HistoryRequest represents the arguments for bag_history.
type HistoryRequest struct {
	Operation string `json:"operation,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// HandleSplitCheck handles the bag_splitcheck tool call. A failed check is a
// successful call whose result has ok=false.
func (h *Handlers) HandleSplitCheck(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SplitCheckRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.SplitCheck(ctx, h.db, h.cfg, ops.SplitCheckInput{
		BagPath:       input.BagPath,
		SplitDir:      input.SplitDir,
		NoVerify:      input.NoVerify,
		NoMetadataBag: input.NoMetadataBag,
		ReportPath:    input.ReportPath,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleUnsplit handles the bag_unsplit tool call.
func (h *Handlers) HandleUnsplit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[UnsplitRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Unsplit(ctx, h.db, h.cfg, ops.UnsplitInput{
		SplitDir:   input.SplitDir,
		OutputDir:  input.OutputDir,
		NoVerify:   input.NoVerify,
		ReportPath: input.ReportPath,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleHistory handles the bag_history tool call.
func (h *Handlers) HandleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HistoryRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.History(h.db, ops.HistoryInput{
		Operation: input.Operation,
		Limit:     input.Limit,
		Offset:    input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// errorResult creates an MCP error result from an error.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if bagErr, ok := errors.As(err); ok {
		errorObj := map[string]any{
			"code":    bagErr.Code,
			"message": bagErr.Message,
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like file paths or SQL errors
		if bagErr.Code != errors.ErrInternal && bagErr.Details != nil {
			errorObj["details"] = bagErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
