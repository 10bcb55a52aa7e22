package agent

import (
	"encoding/json"
	"fmt"
)

const (
	truncationNoticeEstimate = 120
	truncationSearchWindow   = 500
	minAvailableLen          = 100
)

// Tools whose output is schema metadata get twice the truncation limit.
var schemaTools = map[string]bool{
	"list_tables":           true,
	"get_table_schema":      true,
	"get_table_constraints": true,
	"get_table_indexes":     true,
}

// listKeys maps a tool to the JSON array in its result that can be cut item by item.
var listKeys = map[string]string{
	"query":                 "rows",
	"list_tables":           "tables",
	"get_table_schema":      "columns",
	"get_table_constraints": "constraints",
	"get_table_indexes":     "indexes",
}

func isSchemaTool(toolName string) bool {
	return schemaTools[toolName]
}

// truncateToolResult shortens result to at most maxLen characters. JSON results with a
// known list are cut after complete items; anything else is cut at a nearby boundary.
func truncateToolResult(result string, toolName string, maxLen int) string {
	var data map[string]any
	if err := json.Unmarshal([]byte(result), &data); err != nil {
		return truncateAtBoundary(result, maxLen)
	}

	if key, ok := listKeys[toolName]; ok {
		return truncateJSONList(data, key, maxLen)
	}
	return truncateGenericJSON(data, maxLen)
}

// truncateJSONList keeps the leading items of data[key] that fit in maxLen, preserving
// every other field, and appends a notice with the number of items shown.
func truncateJSONList(data map[string]any, key string, maxLen int) string {
	items, ok := data[key].([]any)
	if !ok {
		return truncateGenericJSON(data, maxLen)
	}

	// JSON numbers decode as float64; keep counts printing as integers.
	if count, ok := data["count"].(float64); ok {
		data["count"] = int(count)
	}

	baseData := make(map[string]any, len(data))
	for k, v := range data {
		baseData[k] = v
	}
	baseData[key] = []any{}
	baseJSON, _ := json.Marshal(baseData)
	baseSize := len(baseJSON) - 2

	availableLen := maxLen - baseSize - truncationNoticeEstimate
	if availableLen < minAvailableLen {
		return truncateGenericJSON(data, maxLen)
	}

	kept := make([]any, 0)
	currentLen := 0
	for _, item := range items {
		itemJSON, err := json.Marshal(item)
		if err != nil {
			continue
		}
		estimatedSize := len(itemJSON) + 1
		if currentLen+estimatedSize > availableLen && len(kept) > 0 {
			break
		}
		kept = append(kept, item)
		currentLen += estimatedSize
	}

	data[key] = kept
	resultJSON, err := json.Marshal(data)
	if err != nil {
		return truncateGenericJSON(data, maxLen)
	}
	result := string(resultJSON)

	if len(kept) < len(items) {
		notice := formatTruncationNotice(key, len(kept), len(items))
		for len(kept) > 0 && len(result)+len(notice) > maxLen {
			kept = kept[:len(kept)-1]
			data[key] = kept
			resultJSON, _ = json.Marshal(data)
			result = string(resultJSON)
			notice = formatTruncationNotice(key, len(kept), len(items))
		}
		result += notice
	}

	if len(result) > maxLen {
		return truncateGenericJSON(data, maxLen)
	}
	return result
}

func truncateGenericJSON(data map[string]any, maxLen int) string {
	resultJSON, err := json.Marshal(data)
	if err != nil {
		return truncateAtBoundary(fmt.Sprint(data), maxLen)
	}
	if len(resultJSON) <= maxLen {
		return string(resultJSON)
	}
	return truncateAtBoundary(string(resultJSON), maxLen)
}

// truncateAtBoundary cuts text near maxLen, preferring a newline or a closing bracket,
// and appends a notice. The result fits in maxLen unless maxLen is shorter than the notice.
func truncateAtBoundary(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}

	cutoff := maxLen - truncationNoticeEstimate
	if cutoff < 0 {
		cutoff = maxLen / 2
	}

	bestBoundary := cutoff
	searchWindow := truncationSearchWindow
	if cutoff < searchWindow {
		searchWindow = cutoff
	}

	for i := cutoff; i > cutoff-searchWindow && i > 0; i-- {
		if text[i] == '\n' || text[i] == '}' || text[i] == ']' {
			bestBoundary = i + 1
			break
		}
		if bestBoundary == cutoff && (text[i] == ',' || text[i] == ' ') {
			bestBoundary = i + 1
		}
	}

	truncated := text[:bestBoundary]
	notice := fmt.Sprintf("\n\n[Result truncated from %d to %d characters to avoid token limits]", len(text), len(truncated))

	if len(truncated)+len(notice) > maxLen {
		cutoff = maxLen - len(notice)
		if cutoff < 0 {
			cutoff = 0
		}
		truncated = text[:cutoff]
	}

	return truncated + notice
}

func formatTruncationNotice(itemType string, shown, total int) string {
	return fmt.Sprintf("\n\n[Result truncated: showing %d of %d %s to avoid token limits]", shown, total, itemType)
}
