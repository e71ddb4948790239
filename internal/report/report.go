// Package report renders tool results into a plain-language answer. It is
// deterministic and side-effect free so the workflow can call it directly
// when it has to finalize without the reasoning service.
package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"PNCT-Query/internal/scrape"
	"PNCT-Query/internal/tools"
)

// Records 从工具结果中取出全部成功解码的抓取记录。
func Records(results []tools.ToolResult) []scrape.Record {
	var out []scrape.Record
	for _, res := range results {
		if !res.OK() || res.Name != tools.QueryContainer {
			continue
		}
		var rec scrape.Record
		if err := json.Unmarshal(res.Payload, &rec); err != nil || rec.ContainerID == "" {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Render 将工具结果整理为回答文本。
func Render(containerID string, results []tools.ToolResult) string {
	var lines []string
	records := Records(results)
	for _, rec := range records {
		lines = append(lines, Record(rec))
	}
	for _, res := range results {
		if res.OK() || res.Name != tools.QueryContainer {
			continue
		}
		lines = append(lines, failureLine(res))
	}
	if len(lines) == 0 {
		if containerID == "" {
			return "No tracking data was retrieved."
		}
		return fmt.Sprintf("No tracking data was retrieved for container %s.", containerID)
	}
	return strings.Join(lines, "\n")
}

// Record 将单条记录渲染为一段文字。
func Record(rec scrape.Record) string {
	source := strings.ToUpper(rec.Source)
	if !rec.Found {
		return fmt.Sprintf("Container %s was not found at %s; its status is unknown.", rec.ContainerID, source)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Container %s at %s: status %s, location %s.", rec.ContainerID, source, rec.TrackingStatus, rec.Location)
	if rec.ETA != "" {
		fmt.Fprintf(&b, " Vessel ETA %s.", rec.ETA)
	}
	if rec.LastEvent != "" {
		fmt.Fprintf(&b, " Last event: %s.", rec.LastEvent)
	}
	if p := rec.Position; p != nil && (p.Block != "" || p.YardName != "") {
		fmt.Fprintf(&b, " Yard position: %s.", joinNonEmpty(" / ", p.YardName, p.Block, p.Bay, p.Position))
	}
	if a := rec.Availability; a != nil {
		fmt.Fprintf(&b, " Available: %s; ready for pickup: %s.", yesNo(a.Available), yesNo(a.AvailableForPickup))
	} else if s := rec.Status; s != nil {
		fmt.Fprintf(&b, " Available: %s.", yesNo(s.Available))
	}
	if h := rec.Holds; h != nil {
		if h.HasHolds {
			fmt.Fprintf(&b, " Holds: %s.", strings.Join(h.HoldTypes, ", "))
		} else {
			b.WriteString(" No holds.")
		}
	}
	if l := rec.LastFreeDay; l != nil {
		if l.LastFreeDate != "" {
			fmt.Fprintf(&b, " Last free day: %s.", l.LastFreeDate)
		} else {
			b.WriteString(" Last free day not yet assigned.")
		}
		if l.LineLastFreeDate != "" {
			fmt.Fprintf(&b, " Line last free day: %s.", l.LineLastFreeDate)
		}
		if l.DemurrageDue || l.DemurrageAmount > 0 {
			fmt.Fprintf(&b, " Demurrage due: %.2f.", l.DemurrageAmount)
		}
	}
	if rec.Stale {
		fmt.Fprintf(&b, " (Cached data from %s; the source is currently unavailable.)", rec.FetchedAt.UTC().Format("2006-01-02 15:04 MST"))
	}
	return b.String()
}

func failureLine(res tools.ToolResult) string {
	if res.Status == tools.StatusTimeout {
		return "A tracking lookup did not finish in time."
	}
	code := "unknown error"
	if res.Error != nil {
		code = res.Error.Code
	}
	return fmt.Sprintf("A tracking lookup failed (%s).", code)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
