package advice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/lox/plantwatch/internal/models"
)

const (
	defaultCacheAge = 6 * time.Hour
	maxSuggestions  = 4
	requestTimeout  = 20 * time.Second
)

// OpenAI asks a chat model for tailored suggestions and falls back to
// another advisor whenever the model is unavailable.
type OpenAI struct {
	client   openai.Client
	model    openai.ChatModel
	fallback Advisor
	cache    *Cache
}

// NewOpenAI returns an advisor backed by the chat completions API. Extra
// request options are passed to the client.
func NewOpenAI(apiKey string, fallback Advisor, opts ...option.RequestOption) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY not set")
	}
	if fallback == nil {
		fallback = Static{}
	}
	return &OpenAI{
		client:   openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...),
		model:    openai.ChatModelGPT4oMini,
		fallback: fallback,
		cache:    NewCache(defaultCacheAge),
	}, nil
}

func (a *OpenAI) Suggest(ctx context.Context, health models.HealthLabel, plant models.Plant) []Suggestion {
	if strings.TrimSpace(string(health)) == "" {
		return nil
	}
	key := cacheKey(health, plant)
	if s, ok := a.cache.Get(key); ok {
		return s
	}

	s, err := a.generate(ctx, health, plant)
	if err != nil {
		log.Printf("advice: openai suggestions for %s (%s): %v", plant.Name, health, err)
		return a.fallback.Suggest(ctx, health, plant)
	}
	a.cache.Set(key, s)
	return s
}

func (a *OpenAI) generate(ctx context.Context, health models.HealthLabel, plant models.Plant) ([]Suggestion, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: a.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You are a horticulturist. Reply with short, practical care tips, one per line, no numbering."),
			openai.UserMessage(buildPrompt(health, plant)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no choices returned")
	}

	s := parseSuggestions(resp.Choices[0].Message.Content)
	if len(s) == 0 {
		return nil, errors.New("empty suggestions")
	}
	return s, nil
}

func buildPrompt(health models.HealthLabel, plant models.Plant) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plant: %s (%s).\n", plant.Name, plant.Category)
	if plant.Description != "" {
		fmt.Fprintf(&b, "Notes: %s\n", plant.Description)
	}
	fmt.Fprintf(&b, "Predicted health: %s.\n", health)
	if len(plant.Optimal) > 0 {
		b.WriteString("Optimal conditions:")
		for _, r := range plant.Optimal {
			fmt.Fprintf(&b, " %s %s;", r.Metric, r.Range)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Give at most %d care suggestions.", maxSuggestions)
	return b.String()
}

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)

func parseSuggestions(content string) []Suggestion {
	var out []Suggestion
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if line == "" {
			continue
		}
		out = append(out, Suggestion{Icon: "lightbulb", Text: line})
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}

func cacheKey(health models.HealthLabel, plant models.Plant) string {
	return string(health.Class()) + "|" + plant.Category + "|" + plant.Name
}

// Cache keeps generated suggestions for a while so repeated page loads do
// not hit the API.
type Cache struct {
	mu      sync.Mutex
	maxAge  time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	suggestions []Suggestion
	stored      time.Time
}

func NewCache(maxAge time.Duration) *Cache {
	return &Cache{maxAge: maxAge, entries: make(map[string]cacheEntry), now: time.Now}
}

// Get returns cached suggestions if present and not stale.
func (c *Cache) Get(key string) ([]Suggestion, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.stored) > c.maxAge {
		return nil, false
	}
	return e.suggestions, true
}

func (c *Cache) Set(key string, s []Suggestion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{suggestions: s, stored: c.now()}
}
