// Package toolsurface exposes the `retrieve` and `embed` tools offered to
// every agent handler (spec §4.6), grounded on the teacher's three-layer
// memory store interfaces (pkg/memory), its embeddings provider interface
// (pkg/provider/embeddings), and its MCP tool-hosting shape
// (internal/mcp/mcphost) for the tool-definition/dispatch contract.
package toolsurface

import (
	"context"
	"encoding/json"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/weillium/eventrt/internal/modelsession"
	"github.com/weillium/eventrt/internal/store"
)

const maxTopK = 10

// RetrieveResult is one match returned by the retrieve tool.
type RetrieveResult struct {
	ID         string  `json:"id"`
	Chunk      string  `json:"chunk"`
	Similarity float64 `json:"similarity"`
}

// ContextIndex is the subset of the durable vector store the retrieve tool
// needs, grounded on pkg/memory.SemanticIndex.Search + GraphRAGQuerier's
// embedding-query variant.
type ContextIndex interface {
	Search(ctx context.Context, eventID string, embedding []float32, topK int) ([]RetrieveResult, error)
}

// IndexAdapter adapts a store.ContextItemIndex implementation to
// ContextIndex.
type IndexAdapter struct {
	Index store.ContextItemIndex
}

// Search implements ContextIndex.
func (a IndexAdapter) Search(ctx context.Context, eventID string, embedding []float32, topK int) ([]RetrieveResult, error) {
	results, err := a.Index.Search(ctx, eventID, embedding, topK)
	if err != nil {
		return nil, err
	}
	out := make([]RetrieveResult, len(results))
	for i, r := range results {
		out[i] = RetrieveResult{ID: r.ID, Chunk: r.Chunk, Similarity: r.Similarity}
	}
	return out, nil
}

// EmbeddingProvider computes embeddings for tool-surfaced text, grounded on
// pkg/provider/embeddings.Provider.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Surface hosts the retrieve/embed tools and dispatches model tool_call
// invocations to their Go implementations.
type Surface struct {
	index      ContextIndex
	embeddings EmbeddingProvider
}

// New constructs a Surface backed by the given durable index and embedding
// provider.
func New(index ContextIndex, embeddings EmbeddingProvider) *Surface {
	return &Surface{index: index, embeddings: embeddings}
}

// mcpDefs returns the canonical MCP-style tool definitions for retrieve and
// embed, following the teacher's mcphost.BuiltinTool registration shape.
func (s *Surface) mcpDefs() []*mcpsdk.Tool {
	return []*mcpsdk.Tool{
		{
			Name:        "retrieve",
			Description: "Retrieve up to top_k chunks most similar to query from the event's context index.",
		},
		{
			Name:        "embed",
			Description: "Compute the embedding vector for a text string.",
		},
	}
}

// Definitions returns the retrieve/embed tools in the wire format a
// modelsession.Driver sends as part of its session configuration.
func (s *Surface) Definitions() []modelsession.ToolDefinition {
	defs := s.mcpDefs()
	out := make([]modelsession.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, modelsession.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  parametersFor(d.Name),
			Idempotent:  true,
		})
	}
	return out
}

func parametersFor(name string) map[string]any {
	switch name {
	case "retrieve":
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
				"top_k": map[string]any{"type": "integer"},
			},
			"required": []string{"query"},
		}
	case "embed":
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		}
	default:
		return nil
	}
}

type retrieveArgs struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type embedArgs struct {
	Text string `json:"text"`
}

// Dispatch handles a tool_call for name/argsJSON for the given event,
// returning a JSON-encoded result string suitable for
// modelsession.ToolCallHandler.
func (s *Surface) Dispatch(ctx context.Context, eventID, name, argsJSON string) (string, error) {
	switch name {
	case "retrieve":
		return s.dispatchRetrieve(ctx, eventID, argsJSON)
	case "embed":
		return s.dispatchEmbed(ctx, argsJSON)
	default:
		return "", fmt.Errorf("toolsurface: unknown tool %q", name)
	}
}

func (s *Surface) dispatchRetrieve(ctx context.Context, eventID, argsJSON string) (string, error) {
	var args retrieveArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("toolsurface: retrieve: decode args: %w", err)
	}
	topK := args.TopK
	if topK <= 0 || topK > maxTopK {
		topK = maxTopK
	}

	embedding, err := s.embeddings.Embed(ctx, args.Query)
	if err != nil {
		return "", fmt.Errorf("toolsurface: retrieve: embed query: %w", err)
	}

	results, err := s.index.Search(ctx, eventID, embedding, topK)
	if err != nil {
		return "", fmt.Errorf("toolsurface: retrieve: search: %w", err)
	}

	data, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("toolsurface: retrieve: encode results: %w", err)
	}
	return string(data), nil
}

func (s *Surface) dispatchEmbed(ctx context.Context, argsJSON string) (string, error) {
	var args embedArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("toolsurface: embed: decode args: %w", err)
	}

	vec, err := s.embeddings.Embed(ctx, args.Text)
	if err != nil {
		return "", fmt.Errorf("toolsurface: embed: %w", err)
	}

	data, err := json.Marshal(vec)
	if err != nil {
		return "", fmt.Errorf("toolsurface: embed: encode vector: %w", err)
	}
	return string(data), nil
}
