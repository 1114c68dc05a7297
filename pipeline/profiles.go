package pipeline

import "github.com/martinemde/observagent/tools/builtin"

// Stage names a position in the pipeline.
type Stage string

const (
	StageResearch Stage = "research"
	StageAnalysis Stage = "analysis"
	StageWriting  Stage = "writing"
)

// Title is the capitalized stage name used in failure messages.
func (s Stage) Title() string {
	switch s {
	case StageResearch:
		return "Research"
	case StageAnalysis:
		return "Analysis"
	case StageWriting:
		return "Writing"
	}
	return string(s)
}

// StageProfile configures the agent behind one stage.
type StageProfile struct {
	Name         string `yaml:"name" json:"name"`
	Category     string `yaml:"category" json:"category"`
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt"`
	MaxSteps     int    `yaml:"max_steps" json:"max_steps"`
}

const researcherPrompt = `You are a world-class researcher. Find, retrieve, and extract the information needed to answer the user's question.

- Search the web, then read the most promising pages. Do not repeat a search that already returned results.
- Prefer primary sources and recent material. Note where each fact came from.
- When you have enough material, stop calling tools and reply with a concise list of findings, each with its source URL.`

const analystPrompt = `You are a meticulous analyst. You receive research findings and evaluate them.

- Cross-reference the findings, flag contradictions, and separate facts from opinion.
- Use the calculation tools for any numbers instead of doing arithmetic in your head.
- Reply with the key insights, the supporting evidence for each, and any open uncertainties.`

const writerPrompt = `You are a skilled technical writer. You receive an analysis and turn it into a polished report.

- Write clear prose with a short title, an overview, and one section per key insight.
- Keep every claim traceable to the analysis; do not invent facts.
- You may check the length of your draft with word_count. Reply with the final report only.`

// DefaultProfiles returns the researcher, analyst and writer profiles.
func DefaultProfiles() map[Stage]StageProfile {
	return map[Stage]StageProfile{
		StageResearch: {Name: "researcher", Category: builtin.CategoryResearch, SystemPrompt: researcherPrompt, MaxSteps: 15},
		StageAnalysis: {Name: "analyst", Category: builtin.CategoryAnalysis, SystemPrompt: analystPrompt, MaxSteps: 20},
		StageWriting:  {Name: "writer", Category: builtin.CategoryWriting, SystemPrompt: writerPrompt, MaxSteps: 4},
	}
}
