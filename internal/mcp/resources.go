package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	documentsURI       = "ragscraper://documents"
	documentURIPrefix  = documentsURI + "/"
	documentsListLimit = 100
)

// DocumentSummary is one entry of the documents resource.
type DocumentSummary struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Size      string    `json:"size"`
	CleanedAt time.Time `json:"cleaned_at"`
}

func (s *Server) registerResources() {
	s.mcp.AddResource(&mcp.Resource{
		Name:        "documents",
		URI:         documentsURI,
		Description: fmt.Sprintf("The first %d cleaned documents in insertion order", documentsListLimit),
		MIMEType:    "application/json",
	}, func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return s.readDocumentList(ctx)
	})

	s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        "document",
		URITemplate: documentURIPrefix + "{id}",
		Description: "The cleaned text of one document",
		MIMEType:    "text/plain",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return s.readDocument(ctx, req.Params.URI)
	})
}

func (s *Server) readDocumentList(ctx context.Context) (*mcp.ReadResourceResult, error) {
	docs, err := s.query.ListClean(ctx, documentsListLimit)
	if err != nil {
		return nil, MapError(err)
	}

	out := make([]DocumentSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, DocumentSummary{
			ID:        d.ID,
			URL:       d.URL,
			Size:      humanize.Bytes(uint64(len(d.Text))),
			CleanedAt: d.CleanedAt,
		})
	}
	content, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      documentsURI,
			MIMEType: "application/json",
			Text:     string(content),
		}},
	}, nil
}

func (s *Server) readDocument(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	id, ok := documentID(uri)
	if !ok {
		return nil, NewInvalidParamsError(fmt.Sprintf("invalid document uri: %s", uri))
	}

	doc, err := s.query.Document(ctx, id)
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     doc.Text,
		}},
	}, nil
}

// documentID extracts the id from a document resource uri.
func documentID(uri string) (string, bool) {
	id, ok := strings.CutPrefix(uri, documentURIPrefix)
	if !ok || id == "" || strings.ContainsAny(id, "/?#") {
		return "", false
	}
	return id, true
}
