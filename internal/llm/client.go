// Package llm grades free-text answers through an OpenAI-compatible chat
// completions endpoint.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/examportal/internal/models"
)

const (
	DefaultFeedback = "Graded by AI."
	DefaultSummary  = "Good effort on your examination."
)

var ErrMalformedResponse = errors.New("malformed grading response")

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type Client struct {
	api     *openai.Client
	baseURL string
	model   string
}

// NewClient talks to any OpenAI-compatible endpoint at cfg.BaseURL.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	apiKey := cfg.APIKey
	if apiKey == "none" {
		apiKey = ""
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	config.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{
		api:     openai.NewClientWithConfig(config),
		baseURL: config.BaseURL,
		model:   cfg.Model,
	}
}

const gradePrompt = `You are an expert academic examiner for the Ladtem Commission.
Your task is to grade a student's short answer response fairly and accurately.

Question: %q
Rubric/Ideal Answer Guidelines: %q
Student's Answer: %q
Maximum Points for this Question: %g

Please provide:
1. A numeric score (0 to %g).
2. Detailed pedagogical feedback to help the student improve.
3. Flag any potential anomalies (e.g., if the answer seems nonsensical or copied verbatim from a known source).

Reply with a JSON object {"score": number, "feedback": string, "anomaliesDetected": boolean}.`

const summaryPrompt = `Generate a motivating and professional feedback summary for a student who completed the exam %q.
Score: %g out of %g.
Provide encouragement and areas for potential future study.`

// GradeShortAnswer asks the model to score one answer. The score is returned
// as the model gave it; callers clamp it to the question's points.
func (c *Client) GradeShortAnswer(ctx context.Context, q models.Question, answer string) (models.GradingResult, error) {
	prompt := fmt.Sprintf(gradePrompt, q.Text, q.GradingRubric(), answer, q.Points, q.Points)
	content, err := c.complete(ctx, prompt, true)
	if err != nil {
		return models.GradingResult{}, err
	}

	var raw struct {
		Score     *float64 `json:"score"`
		Feedback  string   `json:"feedback"`
		Anomalies bool     `json:"anomaliesDetected"`
	}
	if err := json.Unmarshal([]byte(stripFence(content)), &raw); err != nil {
		return models.GradingResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	result := models.GradingResult{Feedback: raw.Feedback, Anomalies: raw.Anomalies}
	if raw.Score != nil {
		result.Score = *raw.Score
	}
	if strings.TrimSpace(result.Feedback) == "" {
		result.Feedback = DefaultFeedback
	}
	return result, nil
}

// OverallFeedback asks for a short narrative summary of the whole attempt.
func (c *Client) OverallFeedback(ctx context.Context, examTitle string, score, total float64) (string, error) {
	content, err := c.complete(ctx, fmt.Sprintf(summaryPrompt, examTitle, score, total), false)
	if err != nil {
		return "", err
	}
	if content = strings.TrimSpace(content); content == "" {
		return DefaultSummary, nil
	}
	return content, nil
}

func (c *Client) complete(ctx context.Context, prompt string, asJSON bool) (string, error) {
	request := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if asJSON {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	logger.Debug.Printf("Sending completion request to %s: %.200s", c.baseURL, prompt)
	resp, err := c.api.CreateChatCompletion(ctx, request)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

// stripFence removes a ```json fence some models wrap around JSON replies.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
