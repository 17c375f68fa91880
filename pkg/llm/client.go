// Package llm 提供了与生成式语言服务交互的客户端。
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cdef-ta-go/internal/config"

	"github.com/gorilla/websocket"
)

// MessageWriter defines an interface for writing WebSocket messages.
// This allows both a standard websocket.Conn and our interceptor to be used.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Attachment 是随提示词一并提交的二进制附件（参考文档或作答文件）。
type Attachment struct {
	MIMEType string
	Data     []byte
}

// Client 定义了生成式语言服务客户端的接口。
type Client interface {
	// GenerateContent 以阻塞方式生成文本，可附带二进制附件。
	GenerateContent(ctx context.Context, prompt string, attachments ...Attachment) (string, error)
	// StreamGenerate 流式生成文本，分块写入 writer，并返回完整文本。
	StreamGenerate(ctx context.Context, prompt string, writer MessageWriter) (string, error)
}

type geminiClient struct {
	cfg    config.GeminiConfig
	client *http.Client
}

// NewClient 根据配置创建一个新的 LLM 客户端。
func NewClient(cfg config.GeminiConfig) Client {
	return &geminiClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type generatePart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *inlineDataPart `json:"inline_data,omitempty"`
}

type inlineDataPart struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generateContent struct {
	Role  string         `json:"role,omitempty"`
	Parts []generatePart `json:"parts"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	Contents         []generateContent `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateContent 调用 generateContent 接口并返回完整文本。
func (c *geminiClient) GenerateContent(ctx context.Context, prompt string, attachments ...Attachment) (string, error) {
	reqBytes, err := json.Marshal(c.buildRequest(prompt, attachments))
	if err != nil {
		return "", fmt.Errorf("failed to marshal generate request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.cfg.BaseURL, c.cfg.Model, c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call generate api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("generate api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("failed to decode generate response: %w", err)
	}
	if genResp.Error != nil {
		return "", fmt.Errorf("generate api error [%d]: %s", genResp.Error.Code, genResp.Error.Message)
	}

	text := collectText(genResp)
	if text == "" {
		return "", fmt.Errorf("generate api returned empty candidates")
	}
	return text, nil
}

// StreamGenerate 调用 streamGenerateContent 接口（SSE），将分块写入 writer。
func (c *geminiClient) StreamGenerate(ctx context.Context, prompt string, writer MessageWriter) (string, error) {
	reqBytes, err := json.Marshal(c.buildRequest(prompt, nil))
	if err != nil {
		return "", fmt.Errorf("failed to marshal stream request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", c.cfg.BaseURL, c.cfg.Model, c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call stream api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("stream api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var full strings.Builder
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return "", fmt.Errorf("failed to read from stream: %w", err)
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if strings.TrimSpace(data) == "[DONE]" {
			break
		}

		var chunk generateResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		content := collectText(chunk)
		if content == "" {
			continue
		}
		full.WriteString(content)
		if err := writer.WriteMessage(websocket.TextMessage, []byte(content)); err != nil {
			return "", fmt.Errorf("failed to write message to websocket: %w", err)
		}
	}
	return full.String(), nil
}

// buildRequest 组装请求体：文本在前，附件以 inline_data 追加。
func (c *geminiClient) buildRequest(prompt string, attachments []Attachment) generateRequest {
	parts := []generatePart{{Text: prompt}}
	for _, a := range attachments {
		parts = append(parts, generatePart{InlineData: &inlineDataPart{
			MIMEType: a.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(a.Data),
		}})
	}

	req := generateRequest{
		Contents: []generateContent{{Role: "user", Parts: parts}},
	}

	// 从全局配置注入生成参数（若非零值）
	var gen generationConfig
	if c.cfg.Generation.Temperature != 0 {
		t := c.cfg.Generation.Temperature
		gen.Temperature = &t
	}
	if c.cfg.Generation.TopP != 0 {
		p := c.cfg.Generation.TopP
		gen.TopP = &p
	}
	if c.cfg.Generation.MaxOutputTokens != 0 {
		m := c.cfg.Generation.MaxOutputTokens
		gen.MaxOutputTokens = &m
	}
	if gen.Temperature != nil || gen.TopP != nil || gen.MaxOutputTokens != nil {
		req.GenerationConfig = &gen
	}
	return req
}

func collectText(resp generateResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}
