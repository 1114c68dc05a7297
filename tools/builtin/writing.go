package builtin

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/martinemde/observagent/tools"
)

var wordCountDescriptor = tools.Descriptor{
	Name:        "word_count",
	Description: "Count words, sentences, paragraphs, and characters in a draft to check its length.",
	Category:    CategoryWriting,
	Params: []tools.Param{
		{Name: "text", Type: tools.TypeString, Required: true, Description: "The text to measure."},
	},
}

// TextStats is the result of word_count.
type TextStats struct {
	Words      int `json:"words"`
	Sentences  int `json:"sentences"`
	Paragraphs int `json:"paragraphs"`
	Characters int `json:"characters"`
}

func wordCount(_ context.Context, args tools.Args) (any, error) {
	text := args.String("text")
	stats := TextStats{
		Words:      len(strings.Fields(text)),
		Characters: utf8.RuneCountInString(text),
	}

	inSentence := false
	for _, r := range text {
		switch {
		case r == '.' || r == '!' || r == '?':
			if inSentence {
				stats.Sentences++
				inSentence = false
			}
		case !unicode.IsSpace(r):
			inSentence = true
		}
	}
	if inSentence {
		stats.Sentences++
	}

	for _, p := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(p) != "" {
			stats.Paragraphs++
		}
	}
	return stats, nil
}
