package mcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/pario-ai/simcache/pkg/models"
)

const maxPromptWidth = 60

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}

// formatSuggestions formats suggestions as a text table.
func formatSuggestions(rows []models.Suggestion, now time.Time) string {
	if len(rows) == 0 {
		return "No suggestions found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%6s %10s %-20s %s\n", "Score", "Age", "Model", "Prompt")
	b.WriteString(strings.Repeat("-", 100) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%6.3f %10s %-20s %s\n",
			r.Score, now.Sub(r.CreatedAt).Round(time.Second), r.Metadata.Model, truncate(r.Prompt, maxPromptWidth))
	}
	return b.String()
}

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses + stats.Stale
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("Cache Statistics\n"+
		"  Entries:  %d\n"+
		"  Hits:     %d\n"+
		"  Misses:   %d\n"+
		"  Stale:    %d\n"+
		"  Hit Rate: %.1f%%\n",
		stats.Entries, stats.Hits, stats.Misses, stats.Stale, hitRate)
}

// formatSummaries formats capture summaries as a text table.
func formatSummaries(rows []models.CaptureSummary) string {
	if len(rows) == 0 {
		return "No captures recorded."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-25s %8s %6s %6s %6s %8s\n",
		"Tenant", "Model", "Requests", "Hits", "Misses", "Stale", "Hit Rate")
	b.WriteString(strings.Repeat("-", 85) + "\n")
	for _, r := range rows {
		tenant := r.TenantID
		if tenant == "" {
			tenant = "-"
		}
		fmt.Fprintf(&b, "%-20s %-25s %8d %6d %6d %6d %7.1f%%\n",
			truncate(tenant, 20), r.Model, r.Requests, r.Hits, r.Misses, r.Stale, r.HitRate()*100)
	}
	return b.String()
}

func formatSweep(n int) string {
	if n == 1 {
		return "Removed 1 expired record."
	}
	return fmt.Sprintf("Removed %d expired records.", n)
}
