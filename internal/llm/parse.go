package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"autograder/internal/qa"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n?```")

// ParseVerdict extracts the verdict object from completion content. Models
// sometimes wrap the object in a markdown fence or surround it with prose.
func ParseVerdict(content string) (qa.OracleOutput, error) {
	raw := extractJSON(content)
	if raw == "" {
		return qa.OracleOutput{}, &qa.OracleMalformedResponseError{Reason: "no JSON object in completion"}
	}
	var out qa.OracleOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return qa.OracleOutput{}, &qa.OracleMalformedResponseError{Reason: "invalid JSON: " + err.Error()}
	}
	return out, nil
}

func extractJSON(content string) string {
	content = strings.TrimSpace(strings.TrimPrefix(content, "\ufeff"))
	if m := fencedJSON.FindStringSubmatch(content); len(m) > 1 {
		content = strings.TrimSpace(m[1])
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return ""
	}
	return content[start : end+1]
}
