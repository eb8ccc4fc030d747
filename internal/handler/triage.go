package handler

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/poacher-dev/poacher/internal/types"
)

// DefaultTriageModel is used when no model is configured.
const DefaultTriageModel = "claude-sonnet-4-5-20250929"

// maxTriageMatches bounds how many matches are put in one prompt.
const maxTriageMatches = 40

// Classifier answers a single prompt with free text.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (string, error)
}

// AnthropicClassifier sends prompts to the Anthropic Messages API.
type AnthropicClassifier struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropicClassifier creates a classifier from ANTHROPIC_API_KEY.
func NewAnthropicClassifier(model string) (*AnthropicClassifier, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable not set")
	}
	if model == "" {
		model = DefaultTriageModel
	}
	return &AnthropicClassifier{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: 256,
	}, nil
}

// Classify implements Classifier.
func (c *AnthropicClassifier) Classify(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("AI API call failed: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

// Triage runs the credential scanner and asks a model whether the hits look
// like real credentials rather than placeholders or test fixtures.
type Triage struct {
	scanner    *Pattern
	classifier Classifier
}

// NewTriage wraps scanner with classifier.
func NewTriage(scanner *Pattern, classifier Classifier) *Triage {
	return &Triage{scanner: scanner, classifier: classifier}
}

// Name implements Handler.
func (t *Triage) Name() string { return "ai-triage" }

// Run implements Handler.
func (t *Triage) Run(ctx context.Context, localPath string, repo *types.Repository, log LogSink) (bool, error) {
	if localPath == "" {
		return false, nil
	}
	matches, err := t.scanner.Find(ctx, localPath)
	if err != nil {
		return false, err
	}
	if len(matches) == 0 {
		return false, nil
	}
	for _, m := range matches {
		log.Log("Found match in file %s: %s", m.File, m.Text)
	}

	answer, err := t.classifier.Classify(ctx, buildTriagePrompt(repo, matches))
	if err != nil {
		return false, fmt.Errorf("triaging %s: %w", repo.DisplayName(), err)
	}

	verdict, reason := parseVerdict(answer)
	if reason != "" {
		log.Log("Triage: %s (%s)", verdict, reason)
	} else {
		log.Log("Triage: %s", verdict)
	}
	return verdict == "MATCH", nil
}

func buildTriagePrompt(repo *types.Repository, matches []Match) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The newly created public repository %s contains the following lines that look like credential assignments.\n\n", repo.DisplayName())
	for i, m := range matches {
		if i == maxTriageMatches {
			fmt.Fprintf(&b, "... and %d more\n", len(matches)-maxTriageMatches)
			break
		}
		fmt.Fprintf(&b, "%s:%d: %s\n", m.File, m.Line, m.Text)
	}
	b.WriteString(`
Decide whether any of them is likely a real, usable credential rather than a
placeholder, an example value or a test fixture.

Answer with exactly one word on the first line, MATCH or NOMATCH, optionally
followed by a one-line reason on the second line.`)
	return b.String()
}

// parseVerdict reads the first non-empty line as the verdict. Anything
// other than MATCH counts as NOMATCH.
func parseVerdict(answer string) (verdict, reason string) {
	lines := strings.Split(strings.TrimSpace(answer), "\n")
	verdict = "NOMATCH"
	if len(lines) == 0 {
		return verdict, ""
	}
	first := strings.ToUpper(strings.Trim(strings.TrimSpace(lines[0]), ".*`"))
	if first == "MATCH" {
		verdict = "MATCH"
	}
	if len(lines) > 1 {
		reason = strings.TrimSpace(strings.Join(lines[1:], " "))
	}
	return verdict, reason
}
