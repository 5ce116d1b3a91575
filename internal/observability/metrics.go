package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// ChatTurns counts finished chat calls by outcome
	// (ok, rejected, error, aborted).
	ChatTurns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepsearch_chat_turns_total",
			Help: "Chat calls by outcome.",
		},
		[]string{"outcome"},
	)

	// ToolCalls counts tool executions by tool and status (ok, error).
	ToolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepsearch_tool_calls_total",
			Help: "Tool executions by tool name and status.",
		},
		[]string{"tool", "status"},
	)

	// ScrapeCache counts scrape cache lookups (hit, miss, error).
	ScrapeCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepsearch_scrape_cache_total",
			Help: "Scrape cache lookups by result.",
		},
		[]string{"result"},
	)

	// LLMTokens accumulates reported token usage (prompt, completion).
	LLMTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepsearch_llm_tokens_total",
			Help: "Model tokens consumed by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(ChatTurns, ToolCalls, ScrapeCache, LLMTokens)
}
