package usage

import (
	"time"

	"github.com/aschepis/backscratcher/llmgate/llm"
	"github.com/samber/lo"
)

// Stats summarizes a set of records.
type Stats struct {
	TotalRequests      int                      `json:"total_requests"`
	SuccessfulRequests int                      `json:"successful_requests"`
	FailedRequests     int                      `json:"failed_requests"`
	TotalTokens        int64                    `json:"total_tokens"`
	AverageDuration    time.Duration            `json:"average_duration"`
	ByProvider         map[string]ProviderStats `json:"by_provider"`
	ByModel            map[string]ModelStats    `json:"by_model"`
	ByErrorCode        map[llm.ErrorCode]int    `json:"by_error_code"`
}

// ProviderStats is the per-provider breakdown.
type ProviderStats struct {
	Requests int   `json:"requests"`
	Tokens   int64 `json:"tokens"`
	Errors   int   `json:"errors"`
}

// ModelStats is the per-model breakdown.
type ModelStats struct {
	Requests int   `json:"requests"`
	Tokens   int64 `json:"tokens"`
}

// Aggregate computes Stats over records. Every record counts towards exactly one provider,
// so the ByProvider request counts always sum to TotalRequests.
func Aggregate(records []Record) Stats {
	successes := lo.CountBy(records, func(r Record) bool { return r.Success })

	stats := Stats{
		TotalRequests:      len(records),
		SuccessfulRequests: successes,
		FailedRequests:     len(records) - successes,
		TotalTokens:        lo.SumBy(records, func(r Record) int64 { return r.TokenUsage.Total() }),
		ByProvider:         make(map[string]ProviderStats),
		ByModel:            make(map[string]ModelStats),
		ByErrorCode:        make(map[llm.ErrorCode]int),
	}
	if len(records) > 0 {
		total := lo.SumBy(records, func(r Record) time.Duration { return r.Duration })
		stats.AverageDuration = total / time.Duration(len(records))
	}

	for _, r := range records {
		tokens := r.TokenUsage.Total()

		p := stats.ByProvider[r.Provider]
		p.Requests++
		p.Tokens += tokens
		if !r.Success {
			p.Errors++
		}
		stats.ByProvider[r.Provider] = p

		m := stats.ByModel[r.Model]
		m.Requests++
		m.Tokens += tokens
		stats.ByModel[r.Model] = m

		if !r.Success {
			stats.ByErrorCode[r.ErrorCode]++
		}
	}

	return stats
}
