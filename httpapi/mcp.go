package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pinlay/pinlay/comment"
)

// RegisterMCP registers annotation tools on an MCP server.
func (s *Server) RegisterMCP(srv *mcp.Server) {
	s.registerListTool(srv)
	s.registerSearchTool(srv)
	s.registerPageStatsTool(srv)
	s.registerResolveTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// registerTool wires a tool with JSON-decoded arguments and a
// JSON-encoded result.
func registerTool(srv *mcp.Server, tool *mcp.Tool,
	handler func(ctx context.Context, args json.RawMessage) (any, error)) {

	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := handler(ctx, req.Params.Arguments)
		if err != nil {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
			}, nil
		}
		data, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("httpapi: encode tool result: %w", err)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

// --- list_annotations ---

type listRequest struct {
	PageKey         string `json:"page_key"`
	IncludeResolved bool   `json:"include_resolved,omitempty"`
}

func (s *Server) registerListTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pinlay_list_annotations",
		Description: "List the annotations on a page, with their replies and anchor selectors.",
		InputSchema: inputSchema(map[string]any{
			"page_key":         map[string]any{"type": "string", "description": "Page key (path, optionally with #fragment)"},
			"include_resolved": map[string]any{"type": "boolean", "description": "Include resolved annotations (default: false)"},
		}, []string{"page_key"}),
	}

	registerTool(srv, tool, func(ctx context.Context, args json.RawMessage) (any, error) {
		var r listRequest
		if err := json.Unmarshal(args, &r); err != nil {
			return nil, err
		}
		anns, err := s.store.LoadAll(ctx, r.PageKey)
		if err != nil {
			return nil, err
		}
		if !r.IncludeResolved {
			open := anns[:0]
			for _, a := range anns {
				if !a.Resolved {
					open = append(open, a)
				}
			}
			anns = open
		}
		if anns == nil {
			anns = []comment.Annotation{}
		}
		return anns, nil
	})
}

// --- search_annotations ---

type searchRequest struct {
	Query   string `json:"query"`
	PageKey string `json:"page_key,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// Lister is implemented by stores that can enumerate their pages. The
// search tool needs it to search across pages.
type Lister interface {
	Pages(ctx context.Context) ([]string, error)
}

func (s *Server) registerSearchTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pinlay_search_annotations",
		Description: "Search annotation and reply text. Searches one page, or every page when page_key is omitted.",
		InputSchema: inputSchema(map[string]any{
			"query":    map[string]any{"type": "string", "description": "Case-insensitive substring to match in bodies and authors"},
			"page_key": map[string]any{"type": "string", "description": "Restrict to a single page"},
			"limit":    map[string]any{"type": "integer", "description": "Max results (default 20)"},
		}, []string{"query"}),
	}

	registerTool(srv, tool, func(ctx context.Context, args json.RawMessage) (any, error) {
		var r searchRequest
		if err := json.Unmarshal(args, &r); err != nil {
			return nil, err
		}
		limit := r.Limit
		if limit <= 0 {
			limit = 20
		}

		pages := []string{r.PageKey}
		if r.PageKey == "" {
			lister, ok := s.store.(Lister)
			if !ok {
				return nil, fmt.Errorf("store cannot enumerate pages; pass page_key")
			}
			var err error
			pages, err = lister.Pages(ctx)
			if err != nil {
				return nil, err
			}
		}

		query := strings.ToLower(r.Query)
		var hits []comment.Annotation
		for _, page := range pages {
			anns, err := s.store.LoadAll(ctx, page)
			if err != nil {
				return nil, err
			}
			for _, a := range anns {
				if matchAnnotation(&a, query) {
					hits = append(hits, a)
					if len(hits) >= limit {
						return hits, nil
					}
				}
			}
		}
		if hits == nil {
			hits = []comment.Annotation{}
		}
		return hits, nil
	})
}

func matchAnnotation(a *comment.Annotation, query string) bool {
	if strings.Contains(strings.ToLower(a.Body), query) ||
		strings.Contains(strings.ToLower(a.Author), query) {
		return true
	}
	for _, r := range a.Replies {
		if strings.Contains(strings.ToLower(r.Body), query) ||
			strings.Contains(strings.ToLower(r.Author), query) {
			return true
		}
	}
	return false
}

// --- page_stats ---

type pageStatsRequest struct {
	PageKey string `json:"page_key"`
}

type pageStats struct {
	PageKey      string `json:"page_key"`
	Total        int    `json:"total"`
	Open         int    `json:"open"`
	Resolved     int    `json:"resolved"`
	Replies      int    `json:"replies"`
	WithSelector int    `json:"with_selector"`
}

func (s *Server) registerPageStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pinlay_page_stats",
		Description: "Get annotation counts for a page: total, open, resolved, replies, and how many carry an anchor selector.",
		InputSchema: inputSchema(map[string]any{
			"page_key": map[string]any{"type": "string", "description": "Page key to summarise"},
		}, []string{"page_key"}),
	}

	registerTool(srv, tool, func(ctx context.Context, args json.RawMessage) (any, error) {
		var r pageStatsRequest
		if err := json.Unmarshal(args, &r); err != nil {
			return nil, err
		}
		anns, err := s.store.LoadAll(ctx, r.PageKey)
		if err != nil {
			return nil, err
		}
		stats := pageStats{PageKey: r.PageKey, Total: len(anns)}
		for _, a := range anns {
			if a.Resolved {
				stats.Resolved++
			} else {
				stats.Open++
			}
			stats.Replies += len(a.Replies)
			if a.Selector != "" {
				stats.WithSelector++
			}
		}
		return stats, nil
	})
}

// --- resolve_annotation ---

type resolveRequest struct {
	PageKey  string `json:"page_key"`
	ID       string `json:"id"`
	Resolved bool   `json:"resolved"`
}

func (s *Server) registerResolveTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pinlay_resolve_annotation",
		Description: "Mark an annotation resolved or unresolved.",
		InputSchema: inputSchema(map[string]any{
			"page_key": map[string]any{"type": "string", "description": "Page key holding the annotation"},
			"id":       map[string]any{"type": "string", "description": "Annotation ID"},
			"resolved": map[string]any{"type": "boolean", "description": "Target resolved state (default: true)"},
		}, []string{"page_key", "id"}),
	}

	registerTool(srv, tool, func(ctx context.Context, args json.RawMessage) (any, error) {
		r := resolveRequest{Resolved: true}
		if err := json.Unmarshal(args, &r); err != nil {
			return nil, err
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		anns, err := s.store.LoadAll(ctx, r.PageKey)
		if err != nil {
			return nil, err
		}
		for i := range anns {
			if anns[i].ID == r.ID {
				anns[i].Resolved = r.Resolved
				if err := s.store.SaveAll(ctx, r.PageKey, anns); err != nil {
					return nil, err
				}
				return anns[i], nil
			}
		}
		return nil, fmt.Errorf("annotation %s not found on %s", r.ID, r.PageKey)
	})
}
