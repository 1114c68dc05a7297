package pipeline

import (
	"strings"

	"github.com/tidwall/gjson"
)

// FormatAnswer renders a JSON object answer as markdown sections, one per
// key. Keys starting with "/" or "#" are skipped. Anything that is not a
// JSON object, or renders to nothing, is returned unchanged. A surrounding
// markdown code fence is ignored.
func FormatAnswer(answer string) string {
	trimmed := stripFence(strings.TrimSpace(answer))
	if !gjson.Valid(trimmed) {
		return answer
	}
	doc := gjson.Parse(trimmed)
	if !doc.IsObject() {
		return answer
	}
	var sb strings.Builder
	writeSections(&sb, doc, 2)
	if out := strings.TrimSpace(sb.String()); out != "" {
		return out
	}
	return answer
}

func writeSections(sb *strings.Builder, obj gjson.Result, level int) {
	heading := strings.Repeat("#", min(level, 6)) + " "
	obj.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		if strings.HasPrefix(k, "/") || strings.HasPrefix(k, "#") {
			return true
		}
		switch {
		case value.IsObject():
			sb.WriteString(heading + k + "\n")
			writeSections(sb, value, level+1)
		case value.IsArray():
			sb.WriteString(heading + k + "\n")
			for _, item := range value.Array() {
				if line := listItem(item); line != "" {
					sb.WriteString("- " + line + "\n")
				}
			}
			sb.WriteString("\n")
		case value.Type == gjson.String:
			if text := strings.TrimSpace(value.String()); text != "" {
				sb.WriteString(heading + k + "\n" + text + "\n\n")
			}
		case value.Type == gjson.Number, value.Type == gjson.True, value.Type == gjson.False:
			sb.WriteString(heading + k + "\n" + value.String() + "\n\n")
		}
		return true
	})
}

func listItem(item gjson.Result) string {
	switch {
	case item.IsObject():
		for _, field := range []string{"fact", "Fact", "text", "insight", "summary"} {
			if v := item.Get(field); v.Exists() && v.String() != "" {
				return strings.TrimSpace(v.String())
			}
		}
		return item.Raw
	case item.Type == gjson.Null:
		return ""
	default:
		return strings.TrimSpace(item.String())
	}
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	body := strings.TrimSuffix(s, "```")
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = strings.TrimPrefix(body, "```")
	}
	return strings.TrimSpace(body)
}
