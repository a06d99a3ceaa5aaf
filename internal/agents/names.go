// Package agents defines the fixed worker identities known to the
// orchestrator. The role set is closed at build time: the supervisor plans
// over exactly these names plus the FINISH sentinel.
package agents

const (
	// Supervisor is the planner node; it is never a plan step target.
	Supervisor = "supervisor"

	// StockAgent resolves an instrument identifier and fetches market data.
	StockAgent = "stock_agent"
	// SearchAgent searches the web for news and scores sentiment.
	SearchAgent = "search_agent"
	// AnalyzerAgent produces the final analysis over the other agents' output.
	AnalyzerAgent = "analyzer_agent"

	// Finish is the terminal sentinel. A plan step targeting Finish ends the
	// turn; it is also the normalized "next" value on the terminal update.
	Finish = "FINISH"
)

// Members lists the dispatchable worker roles in a stable order.
var Members = []string{StockAgent, SearchAgent, AnalyzerAgent}

// Descriptions is used verbatim in the planning prompt.
var Descriptions = map[string]string{
	StockAgent:    "fetches stock data for a specific company or ticker and summarizes it",
	SearchAgent:   "searches the internet for recent news, scores each item's sentiment, and summarizes the findings",
	AnalyzerAgent: "analyzes previously fetched stock data and news into a final report with a score; requires both agents' output",
}

// IsMember reports whether role is a dispatchable worker.
func IsMember(role string) bool {
	for _, m := range Members {
		if m == role {
			return true
		}
	}
	return false
}
