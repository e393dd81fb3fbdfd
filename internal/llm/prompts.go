// internal/llm/prompts.go
// Prompt builders and their typed result shapes. Every prompt demands a JSON
// answer so results parse through CompleteJSON.
package llm

import (
	"fmt"
	"strings"
)

// Article bodies are clamped before prompting so a single long page cannot
// blow the context window.
const maxPromptBodyChars = 6000

// ClampBody picks the densest article text that fits: the full body when
// short enough, otherwise the feed summary, otherwise a hard truncation.
func ClampBody(content, summary string) string {
	if len(content) > 0 && len(content) <= maxPromptBodyChars {
		return content
	}
	if len(summary) > 0 && len(summary) <= maxPromptBodyChars {
		return summary
	}
	if len(content) > maxPromptBodyChars {
		return content[:maxPromptBodyChars]
	}
	return summary
}

// TopicResult is the parsed answer of the topic prompt
type TopicResult struct {
	Topic      string  `json:"topic"`
	Confidence float64 `json:"confidence"`
}

func TopicPrompt(title, summary, content string) Request {
	return Request{
		System: "You are a news analyst who summarises the central topic of an article. " +
			"Return structured JSON with fields topic (string, under ten words) and confidence (number 0-1).",
		User: fmt.Sprintf(
			"Title: %s\nSummary: %s\nBody:\n%s\n\nState the primary topic in under ten words.",
			title, summary, ClampBody(content, summary)),
		Temperature: 0.2,
	}
}

// CategoryResult is the parsed answer of the classification prompt
type CategoryResult struct {
	Category    string  `json:"category"`
	Subcategory string  `json:"subcategory"`
	Confidence  float64 `json:"confidence"`
}

const categoryTaxonomy = `Allowed categories:
  - Politics: Elections, Policy, Diplomacy
  - Business: Markets, Companies, Economy
  - Technology: AI, Gadgets, Cybersecurity
  - Culture: Entertainment, Art, Lifestyle
  - Science: Space, Environment, Health`

func CategoryPrompt(title, summary, content string) Request {
	return Request{
		System: "You assign newsroom taxonomy labels. Choose the best matching category and subcategory " +
			"from the provided options. Answer strictly in JSON with fields category, subcategory and confidence (0-1).",
		User: fmt.Sprintf(
			"%s\n\nTitle: %s\nSummary: %s\nBody:\n%s\n\nReturn the best category and subcategory.",
			categoryTaxonomy, title, summary, ClampBody(content, summary)),
		Temperature: 0.2,
	}
}

// LocationResult is the parsed answer of the location prompt
type LocationResult struct {
	LocationName string  `json:"location_name"`
	Country      string  `json:"country"`
	Confidence   float64 `json:"confidence"`
}

func LocationPrompt(title, summary, content string) Request {
	return Request{
		System: "You are a geoparsing expert. Given article text, identify the single most relevant location " +
			"discussed. Respond with compact JSON with fields location_name, country and confidence (0-1). " +
			"If no location is evident, return empty strings while keeping the JSON structure.",
		User: fmt.Sprintf(
			"Title: %s\nSummary: %s\nBody:\n%s\n\nProvide the dominant location focus for this article.",
			title, summary, ClampBody(content, summary)),
		Temperature: 0.2,
	}
}

// BriefResult is the parsed answer of the article brief prompt
type BriefResult struct {
	Brief string `json:"brief"`
}

func BriefPrompt(title, summary, content string) Request {
	return Request{
		System: "You are an assistant that writes concise, news-style capsules about a single article. " +
			"Capture the essential facts in at most three sentences while keeping neutral tone and avoiding " +
			"speculation. Answer in JSON with a single field brief.",
		User: fmt.Sprintf(
			"Title: %s\nSummary: %s\nContent: %s\n\nProduce a 2-3 sentence brief (<= 70 words) that highlights "+
				"the who, what, when, where, and why if available.",
			title, summary, ClampBody(content, summary)),
		Temperature: 0.3,
	}
}

// ReporterResult is the parsed answer of the desk update prompt
type ReporterResult struct {
	Headline  string   `json:"headline"`
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
}

func ReporterPrompt(window, digest string) Request {
	return Request{
		System: `You are "Alex Chen", a seasoned newsroom reporter. Compile a cohesive desk update that ` +
			"prioritises clarity, accuracy, and actionable insights for editors. Write with calm authority and " +
			"keep the tone factual yet vivid. Answer in JSON with fields headline (string), summary (string) " +
			"and key_points (array of strings).",
		User: fmt.Sprintf(
			"Time window: %s\n\nRecent coverage:\n%s\n\nCraft an update that includes a sharp headline, a tight "+
				"summary paragraph, and a list of 3-6 bullet points covering key developments, context, and any "+
				"outstanding questions. Stay within newsroom voice guidelines and avoid repetition.",
			window, digest),
		Temperature: 0.7,
	}
}

// Rating is one score/label pair inside the critic's answer
type Rating struct {
	Score int    `json:"score"`
	Label string `json:"label"`
}

// CriticItem is the critic's verdict on one key point, in input order
type CriticItem struct {
	KeyPoint    string `json:"key_point"`
	Relevance   Rating `json:"relevance"`
	Criticality Rating `json:"criticality"`
	Explanation string `json:"explanation"`
	Escalation  string `json:"escalation"`
}

// CriticResult is the parsed answer of the relevance rating prompt
type CriticResult struct {
	OverallRelevance struct {
		Rating
		Explanation string `json:"explanation"`
	} `json:"overall_relevance"`
	OverallCriticality struct {
		Rating
		Explanation string `json:"explanation"`
	} `json:"overall_criticality"`
	Items []CriticItem `json:"items"`
}

func CriticPrompt(profile, headline, summary string, keyPoints []string) Request {
	var points strings.Builder
	for i, p := range keyPoints {
		fmt.Fprintf(&points, "%d. %s\n", i+1, p)
	}
	return Request{
		System: "You are an intelligence editor tasked with evaluating newsroom summaries for a specific " +
			"audience profile. Rate each key point on relevance to the profile and operational criticality. " +
			"Use calibrated language and justify the ratings with concise reasoning.",
		User: fmt.Sprintf(
			`Audience profile:
%s

Summary headline: %s
Summary paragraph: %s

Key points:
%s
Produce JSON containing:
- overall_relevance: {"score": 0-5 integer, "label": string, "explanation": string}
- overall_criticality: same schema as overall_relevance
- items: list matching key_points order with objects containing:
    * key_point: string (copied)
    * relevance: {"score": 0-5 integer, "label": string}
    * criticality: {"score": 0-5 integer, "label": string}
    * explanation: string giving 1-2 sentence rationale
    * escalation: string with guidance ("monitor", "escalate", or "inform")
Use "High", "Medium", or "Low" as labels. Default to score 0 and label "Low" when information is
insufficient. Ensure list lengths match.`,
			profile, headline, summary, points.String()),
		Temperature: 0.2,
	}
}
