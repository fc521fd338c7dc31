// Package search defines the search-provider collaborator surface consumed
// by clients of the gateway: the list-of-results shape and the research
// prompt assembled from it. The provider implementation itself lives outside
// this module.
package search

import (
	"context"
	"fmt"
	"strings"
)

// Image is an illustration attached to a search result.
type Image struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// Result is one search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score,omitempty"`
	Image   *Image  `json:"image,omitempty"`
}

// Response is the full provider response for one query.
type Response struct {
	Query   string   `json:"query,omitempty"`
	Answer  string   `json:"answer,omitempty"`
	Results []Result `json:"results"`
	Images  []Image  `json:"images,omitempty"`
}

// Provider performs a web search for a query.
type Provider interface {
	Search(ctx context.Context, query string) (*Response, error)
}

// ResultsWithImages pairs top-level images with results by index, the way
// providers that return images as a parallel list are consumed.
func (r *Response) ResultsWithImages() []Result {
	results := make([]Result, len(r.Results))
	copy(results, r.Results)
	for i := range results {
		if results[i].Image == nil && i < len(r.Images) {
			img := r.Images[i]
			results[i].Image = &img
		}
	}
	return results
}

// BuildResearchPrompt constructs the analysis prompt sent to the model: the
// numbered source context, the original query, and the mandatory trailing
// sources table the response must reproduce.
func BuildResearchPrompt(query string, resp *Response) string {
	var sb strings.Builder

	sb.WriteString("Here is the research data:")
	if resp.Answer != "" {
		sb.WriteString(fmt.Sprintf("\nDirect answer from the search provider: %s\n", resp.Answer))
	}
	sb.WriteString("\n")

	results := resp.ResultsWithImages()
	for i, result := range results {
		sb.WriteString(fmt.Sprintf("[Source %d]: %s\n%s\nURL: %s\n\n", i+1, result.Title, result.Content, result.URL))
	}

	sb.WriteString(fmt.Sprintf("Analyze this information and write a detailed report answering the original query: %q. ", query))
	sb.WriteString("Cite sources where appropriate. If the sources contain potential bias or conflicting information, highlight that in your analysis.\n\n")
	sb.WriteString("IMPORTANT: Always finish your response with a sources table listing every reference used. Format it exactly as shown below:\n")
	sb.WriteString(sourcesTable(results))

	return sb.String()
}

// sourcesTable renders the markdown table of sources appended to the prompt.
func sourcesTable(results []Result) string {
	var sb strings.Builder
	sb.WriteString("\n## Sources\n| Number | Source | Description |\n|--------|--------|-------------|\n")
	for i, result := range results {
		desc := result.Snippet
		if desc == "" {
			desc = result.Content
			if len(desc) > 150 {
				desc = desc[:150] + "..."
			}
		}
		sb.WriteString(fmt.Sprintf("| %d | [%s](%s) | %s |\n", i+1, result.Title, result.URL, desc))
	}
	return sb.String()
}
