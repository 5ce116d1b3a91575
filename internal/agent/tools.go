package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/tbourn/go-deepsearch/internal/scraper"
	"github.com/tbourn/go-deepsearch/internal/search"
)

// Tool names exposed to the model.
const (
	ToolSearchWeb   = "searchWeb"
	ToolScrapePages = "scrapePages"
)

const maxScrapeURLs = 10

// Tool is a function the model may call. Execute receives the raw JSON
// arguments and returns a JSON-encodable result.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Execute     func(ctx context.Context, args json.RawMessage) (any, error)
}

func (t Tool) definition() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		},
	}
}

// Searcher runs web searches. *search.Client satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string) ([]search.Result, error)
}

// SearchWebTool exposes s as the searchWeb tool.
func SearchWebTool(s Searcher) Tool {
	return Tool{
		Name:        ToolSearchWeb,
		Description: "Search the web. Returns ranked results with title, link, snippet and date.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "The search query"},
			},
			"required": []string{"query"},
		},
		Execute: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				Query string `json:"query"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
			return s.Search(ctx, args.Query)
		},
	}
}

// ScrapePagesTool exposes f as the scrapePages tool.
func ScrapePagesTool(f scraper.Fetcher) Tool {
	return Tool{
		Name:        ToolScrapePages,
		Description: "Fetch web pages and return their readable text. Use it on the most relevant search results.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"urls": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Absolute http(s) URLs to scrape",
				},
			},
			"required": []string{"urls"},
		},
		Execute: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				URLs []string `json:"urls"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
			urls := make([]string, 0, len(args.URLs))
			for _, u := range args.URLs {
				if u = strings.TrimSpace(u); u != "" {
					urls = append(urls, u)
				}
			}
			if len(urls) == 0 {
				return nil, errors.New("urls must not be empty")
			}
			if len(urls) > maxScrapeURLs {
				urls = urls[:maxScrapeURLs]
			}
			return f.Scrape(ctx, urls)
		},
	}
}
