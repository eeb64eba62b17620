package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/ragscraper/internal/query"
	"github.com/Aman-CERP/ragscraper/internal/store"
	"github.com/Aman-CERP/ragscraper/pkg/version"
)

const serverName = "ragscraper"

// Querier is the query service as seen by the server.
type Querier interface {
	Search(ctx context.Context, q string, k int) (*query.SearchResponse, error)
	Answer(ctx context.Context, q string, k int) (*query.AnswerResponse, error)
	ReloadIndex(ctx context.Context) (*query.ReloadResponse, error)
	Health(ctx context.Context) (*query.HealthResponse, error)
	ListClean(ctx context.Context, limit int) ([]store.CleanDocument, error)
	Document(ctx context.Context, id string) (*store.CleanDocument, error)
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        "search",
		Description: "Semantic search over the crawled knowledge base. Returns the most similar cleaned pages with their URLs and similarity scores.",
	},
	{
		Name:        "answer",
		Description: "Retrieves the most relevant pages and returns their text, truncated and joined, as grounding context for an answer.",
	},
	{
		Name:        "reload_index",
		Description: "Re-reads the persisted vector index so that vectors added by the embed stage become searchable.",
	},
	{
		Name:        "health",
		Description: "Reports whether the vector index is loaded and how many vectors and documents are stored.",
	},
}

// Server bridges MCP clients to the query service.
type Server struct {
	mcp      *mcp.Server
	query    Querier
	defaultK int
	logger   *slog.Logger
}

// NewServer creates a server and registers its tools and resources.
// defaultK is used when a client omits k.
func NewServer(q Querier, defaultK int, logger *slog.Logger) (*Server, error) {
	if q == nil {
		return nil, errors.New("query service is required")
	}
	if defaultK <= 0 {
		defaultK = query.DefaultConfig().DefaultK
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		query:    q,
		defaultK: defaultK,
		logger:   logger,
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{Name: serverName, Version: version.Version},
		nil,
	)
	s.registerTools()
	s.registerResources()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return serverName, version.Version
}

// ListTools returns the registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), tools...)
}

// CallTool invokes a tool by name with JSON-style arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search":
		in, err := decodeArgs[SearchInput](args)
		if err != nil {
			return nil, err
		}
		return s.search(ctx, in)
	case "answer":
		in, err := decodeArgs[AnswerInput](args)
		if err != nil {
			return nil, err
		}
		return s.answer(ctx, in)
	case "reload_index":
		return s.reloadIndex(ctx)
	case "health":
		return s.health(ctx)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func decodeArgs[T any](args map[string]any) (T, error) {
	var in T
	data, err := json.Marshal(args)
	if err != nil {
		return in, NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return in, NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return in, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description},
		func(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
			out, err := s.search(ctx, in)
			if err != nil {
				return nil, SearchOutput{}, err
			}
			return nil, *out, nil
		})
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description},
		func(ctx context.Context, _ *mcp.CallToolRequest, in AnswerInput) (*mcp.CallToolResult, AnswerOutput, error) {
			out, err := s.answer(ctx, in)
			if err != nil {
				return nil, AnswerOutput{}, err
			}
			return nil, *out, nil
		})
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[2].Name, Description: tools[2].Description},
		func(ctx context.Context, _ *mcp.CallToolRequest, _ ReloadIndexInput) (*mcp.CallToolResult, ReloadIndexOutput, error) {
			out, err := s.reloadIndex(ctx)
			if err != nil {
				return nil, ReloadIndexOutput{}, err
			}
			return nil, *out, nil
		})
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[3].Name, Description: tools[3].Description},
		func(ctx context.Context, _ *mcp.CallToolRequest, _ HealthInput) (*mcp.CallToolResult, HealthOutput, error) {
			out, err := s.health(ctx)
			if err != nil {
				return nil, HealthOutput{}, err
			}
			return nil, *out, nil
		})

	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

func (s *Server) search(ctx context.Context, in SearchInput) (*SearchOutput, error) {
	requestID := requestID()
	k := in.K
	if k == 0 {
		k = s.defaultK
	}

	resp, err := s.query.Search(ctx, in.Query, k)
	if err != nil {
		s.logger.Warn("mcp_search_failed", slog.String("request_id", requestID), slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	out := &SearchOutput{
		Query:        resp.Query,
		Results:      make([]SearchResultOutput, 0, len(resp.Results)),
		TotalMatches: resp.TotalMatches,
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, SearchResultOutput{
			ID:    r.ID,
			URL:   r.URL,
			Text:  r.Text,
			Score: float64(r.Score),
		})
	}
	s.logger.Info("mcp_search",
		slog.String("request_id", requestID),
		slog.Int("k", k),
		slog.Int("results", len(out.Results)),
		slog.Duration("took", resp.Took))
	return out, nil
}

func (s *Server) answer(ctx context.Context, in AnswerInput) (*AnswerOutput, error) {
	k := in.K
	if k == 0 {
		k = s.defaultK
	}
	start := time.Now()

	resp, err := s.query.Answer(ctx, in.Query, k)
	if err != nil {
		return nil, MapError(err)
	}
	s.logger.Info("mcp_answer",
		slog.String("request_id", requestID()),
		slog.Int("sources", resp.ContextCount),
		slog.Duration("took", time.Since(start)))
	return &AnswerOutput{Answer: resp.Answer, ContextCount: resp.ContextCount}, nil
}

func (s *Server) reloadIndex(ctx context.Context) (*ReloadIndexOutput, error) {
	resp, err := s.query.ReloadIndex(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	return &ReloadIndexOutput{Loaded: resp.Loaded, VectorCount: resp.VectorCount, Message: resp.Message}, nil
}

func (s *Server) health(ctx context.Context) (*HealthOutput, error) {
	h, err := s.query.Health(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	return &HealthOutput{
		Status:         h.Status,
		IndexLoaded:    h.IndexLoaded,
		VectorCount:    h.VectorCount,
		RawDocuments:   h.RawCount,
		CleanDocuments: h.CleanCount,
	}, nil
}

// Serve runs the server over stdio until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", "stdio"))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_failed", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

// requestID creates a short id for log correlation.
func requestID() string {
	return uuid.NewString()[:8]
}
