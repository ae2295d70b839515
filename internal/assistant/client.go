package assistant

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const systemPrompt = "Ты — фитнес-ассистент. Отвечай только на вопросы про тренировки, " +
	"питание, диеты и здоровый образ жизни. Если вопрос не по теме, вежливо напомни, " +
	"что ты отвечаешь только про спорт, питание и ЗОЖ."

const visionPrompt = "Определи блюдо на фото и оцени его КБЖУ: калории, белки, жиры, " +
	"углеводы. Дай примерные значения на порцию и короткий комментарий."

// Client is an OpenAI-compatible chat completions client
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client

	// Rate limiting
	mu       sync.Mutex
	lastCall time.Time
	minDelay time.Duration
}

// NewClient creates a new assistant client
func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		minDelay: 250 * time.Millisecond,
	}
}

func (c *Client) throttle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.lastCall)
	if elapsed < c.minDelay {
		time.Sleep(c.minDelay - elapsed)
	}
	c.lastCall = time.Now()
}

func (c *Client) doRequest(ctx context.Context, path string, body any) ([]byte, error) {
	c.throttle()

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(data))
	}

	return data, nil
}

func (c *Client) complete(ctx context.Context, messages []chatMessage) (string, error) {
	data, err := c.doRequest(ctx, "/chat/completions", chatRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("unmarshal: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion")
	}

	return resp.Choices[0].Message.Content, nil
}

// Chat answers a free-form fitness/nutrition question
func (c *Client) Chat(ctx context.Context, question string) (string, error) {
	return c.complete(ctx, []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: question},
	})
}

// AnalyzeMealPhoto estimates the nutrition facts of a meal photo.
// extra is optional user-provided detail (ingredients, portion size).
func (c *Client) AnalyzeMealPhoto(ctx context.Context, photo []byte, extra string) (string, error) {
	prompt := visionPrompt
	if extra != "" {
		prompt += "\n\nУточнение от пользователя: " + extra
	}

	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(photo)

	return c.complete(ctx, []chatMessage{
		{Role: "system", Content: systemPrompt},
		{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imagePayload{URL: dataURL}},
			},
		},
	})
}
