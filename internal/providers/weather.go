package providers

import (
	"context"
	"regexp"
	"strings"
)

var weatherPattern = regexp.MustCompile(`weather (?:in|for|at) (.*?)(?:\?|$)`)

// WeatherProvider recognizes weather questions. No upstream service is wired
// yet, so it returns a canned acknowledgment naming the location.
//
// TODO: back this with the Open-Meteo forecast endpoint once an API budget
// is settled.
type WeatherProvider struct{}

func NewWeatherProvider() *WeatherProvider { return &WeatherProvider{} }

func (p *WeatherProvider) Name() string { return "weather" }

func (p *WeatherProvider) Matches(text string) bool {
	return weatherPattern.MatchString(strings.ToLower(text))
}

func (p *WeatherProvider) Provide(_ context.Context, text string) (string, error) {
	m := weatherPattern.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return "", nil
	}
	location := titleCase(strings.TrimSpace(m[1]))
	if location == "" {
		return "", nil
	}
	return "Live weather data for " + location + " is not available right now; answer from general knowledge and say the forecast may be outdated.", nil
}
