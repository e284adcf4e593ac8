package narrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"convergence-engine/internal/config"
	"convergence-engine/internal/convergence"
	"convergence-engine/internal/metrics"
	"convergence-engine/internal/signal"
	"convergence-engine/internal/structure"
)

type fakeCompleter struct {
	content string
	err     error
	prompts []string
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.prompts = append(f.prompts, req.Messages[0].Content)
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.content}}},
	}, nil
}

func sampleSignal() signal.Signal {
	return signal.Signal{
		Instrument: "BTCUSDT",
		Action:     signal.ActionLong,
		Entry:      66200,
		Stop:       64876,
		Target:     67193,
		RiskReward: 0.75,
		Score:      75,
		Confidence: convergence.ConfidenceMedium,
		Bullish:    4,
		Breakdown:  map[string]int{"oi": 20, "funding": 20},
		Details:    map[string]string{"oi": "持仓量与价格同步上升"},
		HTFBias:    structure.BiasBullish,
		HTFAligned: true,
		Zone:       structure.ZoneDiscount,
		Metrics: []metrics.Result{
			{Name: metrics.KindFundingRate, Value: 10.95, Label: metrics.LabelBullish, Known: true},
			{Name: metrics.KindBasisSpread, Known: false},
		},
	}
}

func newTestClient(f *fakeCompleter) *Client {
	return &Client{cfg: config.OpenAIConfig{Model: "gpt-test", Timeout: time.Second}, logger: zap.NewNop(), sdk: f}
}

func TestBuildPrompt(t *testing.T) {
	prompt, err := BuildPrompt(sampleSignal())
	if err != nil {
		t.Fatalf("build prompt: %v", err)
	}
	for _, want := range []string{"BTCUSDT", "LONG", "75/100", "66200.00", "funding: 20 分", "oi: 20 分", "basis_spread: 未知", "BULLISH（已对齐）"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Index(prompt, "funding: 20") > strings.Index(prompt, "oi: 20") {
		t.Errorf("breakdown should be sorted by name")
	}
}

func TestNarrate(t *testing.T) {
	f := &fakeCompleter{content: "```json\n{\"summary\":\"多头结构对齐\",\"risks\":[\"资金费率偏高\"],\"invalidation\":\"跌破 64876\"}\n```"}
	c := newTestClient(f)

	n, err := c.Narrate(context.Background(), sampleSignal())
	if err != nil {
		t.Fatalf("narrate: %v", err)
	}
	if n.Summary != "多头结构对齐" || len(n.Risks) != 1 {
		t.Fatalf("unexpected narrative: %+v", n)
	}
	if !strings.Contains(n.Text(), "失效条件: 跌破 64876") {
		t.Fatalf("unexpected narrative text: %s", n.Text())
	}
	if len(f.prompts) != 1 {
		t.Fatalf("expected a single completion call")
	}
}

func TestNarrateErrors(t *testing.T) {
	c := newTestClient(&fakeCompleter{content: "no json"})

	skip := sampleSignal()
	skip.Action = signal.ActionSkip
	if _, err := c.Narrate(context.Background(), skip); !errors.Is(err, ErrNothingToNarrate) {
		t.Fatalf("expected ErrNothingToNarrate for SKIP, got %v", err)
	}
	if _, err := c.Narrate(context.Background(), sampleSignal()); err == nil {
		t.Fatalf("expected error for invalid output")
	}

	c.sdk = &fakeCompleter{err: errors.New("boom")}
	if _, err := c.Narrate(context.Background(), sampleSignal()); err == nil {
		t.Fatalf("expected error for failed completion")
	}

	if _, err := NewClient(config.OpenAIConfig{}, nil); err == nil {
		t.Fatalf("expected error without api_key")
	}
}
