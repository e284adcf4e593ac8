package narrator

import (
	"bytes"
	"fmt"
	"sort"
	"text/template"

	"convergence-engine/internal/signal"
)

const narrativeTemplate = `
你是一名加密货币衍生品分析师。下面是一套确定性规则引擎对 {{ .Signal.Instrument }} 给出的信号，请用简洁的中文解释它，不要改变方向或价位。

信号概要：
- 方向: {{ .Signal.Action }}
- 汇聚分数: {{ .Signal.Score }}/100（置信度 {{ .Signal.Confidence }}）
- 多空票数: 多 {{ .Signal.Bullish }} / 空 {{ .Signal.Bearish }}
- 入场: {{ printf "%.2f" .Signal.Entry }}  止损: {{ printf "%.2f" .Signal.Stop }}  止盈: {{ printf "%.2f" .Signal.Target }}  R:R {{ printf "%.2f" .Signal.RiskReward }}
- 高周期结构: {{ .Signal.HTFBias }}{{ if .Signal.HTFAligned }}（已对齐）{{ else }}（未对齐）{{ end }}{{ if .Signal.Zone }}，区间位置 {{ .Signal.Zone }}{{ end }}

评分明细：
{{- range .Breakdown }}
- {{ .Name }}: {{ .Points }} 分
{{- end }}

各来源判断：
{{- range .Details }}
- {{ .Name }}: {{ .Text }}
{{- end }}

指标读数：
{{- range .Signal.Metrics }}
- {{ .Name }}: {{ if .Known }}{{ printf "%.4f" .Value }} ({{ .Label }}){{ else }}未知{{ end }}
{{- end }}

请严格输出唯一的 JSON 对象：
{
  "summary": "...",        // 两三句话说明信号成立的理由
  "risks": ["..."],        // 主要风险点
  "invalidation": "..."    // 什么情况下信号失效
}
`

var tmpl = template.Must(template.New("narrative").Parse(narrativeTemplate))

type namedPoints struct {
	Name   string
	Points int
}

type namedText struct {
	Name string
	Text string
}

// PromptContext 用于渲染提示词。
type PromptContext struct {
	Signal    signal.Signal
	Breakdown []namedPoints
	Details   []namedText
}

// BuildPrompt 将信号渲染成提示词，map 字段按名称排序保证输出稳定。
func BuildPrompt(sig signal.Signal) (string, error) {
	ctx := PromptContext{Signal: sig}
	for name, pts := range sig.Breakdown {
		ctx.Breakdown = append(ctx.Breakdown, namedPoints{Name: name, Points: pts})
	}
	sort.Slice(ctx.Breakdown, func(i, j int) bool { return ctx.Breakdown[i].Name < ctx.Breakdown[j].Name })
	for name, text := range sig.Details {
		ctx.Details = append(ctx.Details, namedText{Name: name, Text: text})
	}
	sort.Slice(ctx.Details, func(i, j int) bool { return ctx.Details[i].Name < ctx.Details[j].Name })

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("渲染提示词失败: %w", err)
	}
	return buf.String(), nil
}
