package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

var entityPattern = regexp.MustCompile(`(?:who is|who was|what is|what was|tell me about) (.*?)(?:\?|$)`)

// knownEntities maps common spoken phrasings to exact article titles so the
// summary lookup does not depend on search.
var knownEntities = map[string]string{
	"the eiffel tower": "Eiffel Tower",
	"einstein":         "Albert Einstein",
	"marie curie":      "Marie Curie",
	"the moon":         "Moon",
	"golang":           "Go (programming language)",
	"go":               "Go (programming language)",
}

// WikipediaProvider answers "who is / what is X" utterances with the lead
// extract of the matching encyclopedia article.
type WikipediaProvider struct {
	url    string
	client *http.Client
}

// NewWikipediaProvider creates a provider against url
// (e.g. https://en.wikipedia.org/api/rest_v1).
func NewWikipediaProvider(url string, client *http.Client) *WikipediaProvider {
	return &WikipediaProvider{url: url, client: client}
}

func (p *WikipediaProvider) Name() string { return "wikipedia" }

func (p *WikipediaProvider) Matches(text string) bool {
	return entityPattern.MatchString(strings.ToLower(text))
}

func (p *WikipediaProvider) Provide(ctx context.Context, text string) (string, error) {
	m := entityPattern.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return "", nil
	}
	entity := strings.TrimSpace(m[1])
	if entity == "" {
		return "", nil
	}
	if mapped, ok := knownEntities[entity]; ok {
		entity = mapped
	} else {
		entity = titleCase(entity)
	}

	endpoint := p.url + "/page/summary/" + url.PathEscape(strings.ReplaceAll(entity, " ", "_"))
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("wikipedia status %d for %q", resp.StatusCode, entity)
	}

	var out struct {
		Extract string `json:"extract"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Extract == "" {
		return "", nil
	}
	return out.Extract, nil
}
