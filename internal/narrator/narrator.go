package narrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"convergence-engine/internal/config"
	"convergence-engine/internal/signal"
)

// ErrNothingToNarrate 表示 SKIP 信号无需解读。
var ErrNothingToNarrate = errors.New("narrator: SKIP 信号无需解读")

// Narrative 为大模型给出的信号解读。
type Narrative struct {
	Summary      string   `json:"summary"`
	Risks        []string `json:"risks"`
	Invalidation string   `json:"invalidation"`
}

// Text 将解读拼接为单段文本。
func (n Narrative) Text() string {
	var b strings.Builder
	b.WriteString(n.Summary)
	if len(n.Risks) > 0 {
		b.WriteString(" 风险: ")
		b.WriteString(strings.Join(n.Risks, "；"))
	}
	if n.Invalidation != "" {
		b.WriteString(" 失效条件: ")
		b.WriteString(n.Invalidation)
	}
	return b.String()
}

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client 封装 OpenAI 调用逻辑。
type Client struct {
	cfg    config.OpenAIConfig
	logger *zap.Logger
	sdk    chatCompleter
}

// NewClient 使用给定配置创建解读客户端。
func NewClient(cfg config.OpenAIConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api_key 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sdkCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkCfg.BaseURL = cfg.BaseURL
	}
	sdkCfg.HTTPClient = &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
		sdk:    openai.NewClientWithConfig(sdkCfg),
	}, nil
}

// Narrate 为方向性信号生成解读。
func (c *Client) Narrate(ctx context.Context, sig signal.Signal) (Narrative, error) {
	if sig.Action == signal.ActionSkip {
		return Narrative{}, ErrNothingToNarrate
	}
	if c.cfg.Model == "" {
		return Narrative{}, errors.New("openai model 不能为空")
	}

	prompt, err := BuildPrompt(sig)
	if err != nil {
		return Narrative{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	response, err := c.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0,
	})
	if err != nil {
		c.logger.Error("调用OpenAI失败", zap.Error(err))
		return Narrative{}, fmt.Errorf("调用OpenAI失败: %w", err)
	}

	if len(response.Choices) == 0 {
		return Narrative{}, errors.New("OpenAI 返回结果为空")
	}

	rawContent := strings.TrimSpace(response.Choices[0].Message.Content)
	if rawContent == "" {
		return Narrative{}, errors.New("OpenAI 返回内容为空")
	}

	narrative, err := parseNarrative(rawContent)
	if err != nil {
		c.logger.Error("解析信号解读失败",
			zap.Error(err),
			zap.String("raw_content", rawContent),
		)
		return Narrative{}, err
	}

	c.logger.Info("信号解读生成成功",
		zap.String("instrument", sig.Instrument),
		zap.String("action", string(sig.Action)),
		zap.Int("risks", len(narrative.Risks)),
	)
	return narrative, nil
}

func parseNarrative(content string) (Narrative, error) {
	jsonPayload, err := extractJSON(content)
	if err != nil {
		return Narrative{}, err
	}

	var n Narrative
	if err = json.Unmarshal(jsonPayload, &n); err != nil {
		return Narrative{}, fmt.Errorf("解析解读JSON失败: %w", err)
	}
	if strings.TrimSpace(n.Summary) == "" {
		return Narrative{}, errors.New("summary 不能为空")
	}
	return n, nil
}

func extractJSON(content string) ([]byte, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("模型输出未找到有效JSON: %s", content)
	}

	return []byte(content[start : end+1]), nil
}
