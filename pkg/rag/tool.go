package rag

import (
	"context"
	"fmt"

	"github.com/harun/agentlab/pkg/tool"
)

// SearchToolName is the name agents call the knowledge search tool by
const SearchToolName = "knowledge_search"

// SearchTool exposes Retrieve to agents
func SearchTool(p *Pipeline) tool.Tool {
	return tool.MustFunction(tool.Declaration{
		Name:        SearchToolName,
		Description: fmt.Sprintf("Search the %s knowledge base for passages relevant to a query", p.Index()),
		Parameters: []tool.Parameter{
			{Name: "query", Type: "string", Description: "What to look for", Required: true},
			{Name: "top_k", Type: "integer", Description: "How many passages to return (default 3)"},
		},
	}, func(ctx context.Context, _ *tool.Context, args map[string]any) (any, error) {
		query, err := tool.StringArg(args, "query")
		if err != nil {
			return nil, err
		}
		topK := DefaultTopK
		if v, err := tool.NumberArg(args, "top_k"); err == nil && v > 0 {
			topK = int(v)
		}

		results, err := p.Retrieve(ctx, query, topK)
		if err != nil {
			return nil, err
		}
		passages := make([]map[string]any, 0, len(results))
		for _, r := range results {
			passages = append(passages, map[string]any{
				"id":    r.ID,
				"score": r.Score,
				"text":  r.Text,
			})
		}
		return map[string]any{"results": passages}, nil
	})
}
