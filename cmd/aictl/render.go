package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"aidispatch/internal/app"
	"aidispatch/internal/cache"
	"aidispatch/internal/catalog"
	"aidispatch/internal/conversation"
	"aidispatch/internal/core"
	"aidispatch/internal/metrics"
	"aidispatch/internal/util"

	"github.com/fatih/color"
)

const ruleWidth = 60

func rule() string {
	return strings.Repeat("─", ruleWidth)
}

func writeResult(w io.Writer, res *core.Result, parseJSON bool) error {
	switch {
	case parseJSON && res.JSON != nil:
		data, err := util.MarshalIndentJSON(res.JSON)
		if err != nil {
			return fmt.Errorf("failed to encode parsed JSON: %w", err)
		}
		fmt.Fprintln(w, string(data))
	default:
		fmt.Fprintln(w, res.Text)
		if parseJSON && res.JSONError != "" {
			fmt.Fprintln(w, color.YellowString("JSON parse failed: %s", res.JSONError))
		}
	}

	source := res.Provider + "/" + res.Model
	if res.Cached {
		source += " (cached)"
	}
	fmt.Fprintln(w, color.HiBlackString("%s · %d→%d tokens · %s · %d attempts",
		source, res.TokensIn, res.TokensOut, res.Latency.Round(time.Millisecond), len(res.Attempts)))
	return nil
}

func writeTrace(w io.Writer, trace core.Trace) {
	fmt.Fprintln(w, color.RedString("Attempts"))
	fmt.Fprintln(w, rule())
	for i, a := range trace {
		mark := color.RedString("✗")
		switch a.Outcome {
		case core.OutcomeSuccess, core.OutcomeCached:
			mark = color.GreenString("✓")
		case core.OutcomeSkipped:
			mark = color.YellowString("-")
		}
		fmt.Fprintf(w, "%2d %s %s/%s %s", i+1, mark, a.Provider, a.Model, color.HiBlackString(string(a.Kind)))
		if a.Reason != "" {
			fmt.Fprintf(w, " %s", a.Reason)
		}
		fmt.Fprintln(w)
	}
}

func writeRanked(w io.Writer, order catalog.Order, ranked []catalog.Ranked) {
	if len(ranked) == 0 {
		fmt.Fprintln(w, "No ranked models (add keys or relax --caps)")
		return
	}
	fmt.Fprintln(w, color.CyanString("Best models by %s", order))
	fmt.Fprintln(w, rule())
	for i, r := range ranked {
		fmt.Fprintf(w, "%2d %-12s %-40s %3d %3drpm %s\n", i+1, r.Provider, r.Model.Name, r.Model.Quality, r.RPM, capList(r.Model.Capabilities))
	}
}

func writeCatalog(w io.Writer, a *app.App, caps []core.Capability) {
	for _, name := range a.Catalog.Providers() {
		p, _ := a.Catalog.Provider(name)
		keys := color.RedString("no keys")
		if n := a.Credentials.Len(name); n > 0 {
			keys = color.GreenString("%d keys", n)
		}
		fmt.Fprintf(w, "%s %s\n", color.CyanString(name), keys)

		def := a.Catalog.DefaultModel(name)
		for _, m := range p.Models {
			if !hasAll(m, caps) {
				continue
			}
			marker := " "
			if m.Name == def {
				marker = "*"
			}
			fmt.Fprintf(w, "  %s %-40s %3d %s\n", marker, m.Name, m.Quality, capList(m.Capabilities))
		}
	}
}

func hasAll(m core.Model, caps []core.Capability) bool {
	for _, want := range caps {
		if !m.HasCapability(want) {
			return false
		}
	}
	return true
}

func capList(caps []core.Capability) string {
	parts := make([]string, len(caps))
	for i, c := range caps {
		parts[i] = string(c)
	}
	return color.HiBlackString(strings.Join(parts, ","))
}

func writeKeys(w io.Writer, keys []core.CredentialSummary) {
	if len(keys) == 0 {
		fmt.Fprintln(w, "No keys stored")
		return
	}
	for _, k := range keys {
		active := " "
		if k.Active {
			active = color.GreenString("●")
		}
		fmt.Fprintf(w, "%s %-12s %d %-16s %s\n", active, k.Provider, k.Index, k.Name, k.Preview)
	}
}

func writeCacheStats(w io.Writer, s cache.Stats) {
	fmt.Fprintln(w, color.CyanString("Response cache"))
	fmt.Fprintln(w, rule())
	fmt.Fprintf(w, "Size      %d / %d\n", s.Size, s.MaxSize)
	fmt.Fprintf(w, "Max age   %s\n", s.MaxAge)
	fmt.Fprintf(w, "Hits      %d\n", s.Hits)
	fmt.Fprintf(w, "Misses    %d\n", s.Misses)
	fmt.Fprintf(w, "Hit rate  %s\n", s.HitRate)
}

func writeConversation(w io.Writer, entries []conversation.Entry, tokens int) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "Conversation is empty")
		return
	}
	fmt.Fprintln(w, color.CyanString("Conversation (%d turns, ~%d tokens)", len(entries), tokens))
	fmt.Fprintln(w, rule())
	for _, e := range entries {
		role := color.HiBlackString("%-9s", e.Role)
		if e.Role == core.RoleUser {
			role = color.GreenString("%-9s", e.Role)
		}
		fmt.Fprintf(w, "%s %s\n", role, e.Content)
	}
}

func writeSummary(w io.Writer, s conversation.Summary) {
	if !s.Summarized {
		fmt.Fprintf(w, "Not summarized: %s (~%d tokens)\n", s.Reason, s.Tokens)
		return
	}
	fmt.Fprintln(w, color.GreenString("Folded %d turns, kept %d (~%d tokens)", s.Removed, s.Kept, s.Tokens))
	fmt.Fprintln(w, s.Summary)
}

func writeLimits(w io.Writer, models []metrics.ModelUsage) {
	if len(models) == 0 {
		fmt.Fprintln(w, "No requests tracked")
		return
	}
	fmt.Fprintln(w, color.CyanString("Per-model limits"))
	fmt.Fprintln(w, rule())
	for _, m := range models {
		fmt.Fprintf(w, "%-12s %-40s %5d req %3d hits", m.Provider, m.Model, m.Requests, m.LimitHits)
		if m.LimitHits > 0 {
			fmt.Fprintf(w, " %s", color.YellowString("last %s %s", m.LastLimitHit.Format(time.TimeOnly), m.LastLimitKind))
		}
		fmt.Fprintln(w)
	}
}

func writeUsage(w io.Writer, snap metrics.Snapshot, periods map[int]metrics.PeriodStats) {
	fmt.Fprintln(w, color.CyanString("Usage"))
	fmt.Fprintln(w, rule())
	fmt.Fprintf(w, "Calls       %d (%d failed, %d today)\n", snap.TotalCalls, snap.TotalFailures, snap.DailyCalls)
	fmt.Fprintf(w, "Tokens      %d in / %d out\n", snap.TotalTokensIn, snap.TotalTokensOut)
	fmt.Fprintf(w, "Cache hits  %d\n", snap.CacheHits)

	hours := make([]int, 0, len(periods))
	for h := range periods {
		hours = append(hours, h)
	}
	sort.Ints(hours)
	for _, h := range hours {
		p := periods[h]
		fmt.Fprintf(w, "Last %-4s   %d requests, %.1f%% success, %dms avg\n", periodLabel(h), p.Requests, p.SuccessRate, p.AvgResponseTime)
	}

	if len(snap.ByProvider) == 0 {
		return
	}
	fmt.Fprintln(w)
	names := make([]string, 0, len(snap.ByProvider))
	for name := range snap.ByProvider {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		u := snap.ByProvider[name]
		fmt.Fprintf(w, "%-12s %5d calls %5d failed %8d tokens\n", name, u.Calls, u.Failures, u.TokensIn+u.TokensOut)
	}
}

func periodLabel(hours int) string {
	if hours%24 == 0 {
		return fmt.Sprintf("%dd", hours/24)
	}
	return fmt.Sprintf("%dh", hours)
}
