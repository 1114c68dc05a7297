package loopdetect

import (
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// NormalizeArguments turns raw tool arguments into a canonical, space
// separated string. JSON objects are flattened into "key value" pairs in
// key order so that field order and formatting do not affect comparison.
// Anything that is not a JSON object is only trimmed.
func NormalizeArguments(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !gjson.Valid(raw) {
		return raw
	}
	res := gjson.Parse(raw)
	if !res.IsObject() {
		return raw
	}
	var parts []string
	flatten("", res, &parts)
	return strings.Join(parts, " ")
}

func flatten(prefix string, v gjson.Result, parts *[]string) {
	switch {
	case v.IsObject():
		type entry struct {
			key string
			val gjson.Result
		}
		var entries []entry
		v.ForEach(func(k, val gjson.Result) bool {
			entries = append(entries, entry{k.String(), val})
			return true
		})
		sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
		for _, e := range entries {
			key := e.key
			if prefix != "" {
				key = prefix + "." + key
			}
			flatten(key, e.val, parts)
		}
	case v.IsArray():
		if prefix != "" {
			*parts = append(*parts, prefix)
		}
		for _, item := range v.Array() {
			flatten("", item, parts)
		}
	default:
		if prefix != "" {
			*parts = append(*parts, prefix)
		}
		if s := strings.TrimSpace(v.String()); s != "" {
			*parts = append(*parts, s)
		}
	}
}
