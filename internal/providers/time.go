package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

var timePattern = regexp.MustCompile(`time in (.*?)(?:\?|$)`)

// knownZones maps colloquial place names to IANA timezone names.
var knownZones = map[string]string{
	"nyc":         "America/New_York",
	"new york":    "America/New_York",
	"la":          "America/Los_Angeles",
	"los angeles": "America/Los_Angeles",
	"london":      "Europe/London",
	"paris":       "Europe/Paris",
	"tokyo":       "Asia/Tokyo",
	"sydney":      "Australia/Sydney",
}

// TimeProvider answers "what's the time in X" utterances from a world-time
// HTTP API.
type TimeProvider struct {
	url    string
	client *http.Client
}

// NewTimeProvider creates a time provider against url
// (e.g. http://worldtimeapi.org/api).
func NewTimeProvider(url string, client *http.Client) *TimeProvider {
	return &TimeProvider{url: url, client: client}
}

func (p *TimeProvider) Name() string { return "time" }

func (p *TimeProvider) Matches(text string) bool {
	return timePattern.MatchString(strings.ToLower(text))
}

func (p *TimeProvider) Provide(ctx context.Context, text string) (string, error) {
	m := timePattern.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return "", nil
	}
	location := strings.TrimSpace(m[1])
	if location == "" {
		return "", nil
	}

	zone, ok := knownZones[location]
	if !ok {
		zone = strings.ReplaceAll(titleCase(location), " ", "_")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", p.url+"/timezone/"+zone, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("time api status %d", resp.StatusCode)
	}

	var out struct {
		Datetime string `json:"datetime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	ts, err := time.Parse(time.RFC3339, out.Datetime)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("The current time in %s is %s (%s).",
		titleCase(location), ts.Format("3:04 PM"), strings.ReplaceAll(zone, "_", " ")), nil
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
