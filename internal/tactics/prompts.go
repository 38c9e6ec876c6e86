package tactics

import (
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/parley/internal/persona"
)

const (
	analysisHistoryTurns  = 6
	executionHistoryTurns = 4
)

const analysisSystemPrompt = `你是一位冷静的恋爱沟通分析师。你只负责判断局势，不写回复。
你必须只输出一个 JSON 对象，不要输出任何解释或 Markdown。`

const analysisPromptTemplate = `请分析「对方」刚发来的消息。

## 意图 (intent) 可选值
%s
## 策略 (strategy) 可选值
%s
## 连发判断
- 消息被拆成 3 行及以上，视为连发 (burst_detected=true)
- 或者有 2 行以上、其中至少 2 行不超过 5 个字，也视为连发
- pressure_level 取 0-5，连发越多、语气越急，压力越高

## 情绪评分 emotion_score
-3 暴怒/厌恶，-2 生气，-1 冷淡不悦，0 中性，+1 轻微好感，+2 开心，+3 心动

## 输出格式
{
  "summary": "一句话概括对方此刻的状态",
  "emotion_score": 0,
  "intent": "UNKNOWN",
  "strategy": "COMFORT",
  "confidence": 0.8,
  "burst_detected": false,
  "pressure_level": 0
}

## 最近对话
%s
## 对方刚发来的消息（原样保留换行）
<<<
%s
>>>

Return ONLY the JSON object.`

const executionSystemPrompt = `你是一位恋爱军师，帮用户写回复。每个选项用指定的人设口吻，
正文 (text) 里禁止出现颜文字，颜文字只能放在 kaomoji 字段。
你必须只输出一个 JSON 对象，不要输出任何解释或 Markdown。`

const executionPromptTemplate = `## 局势分析
- 概括：%s
- 情绪分：%d
- 意图：%s
- 置信度：%.2f
- 连发：%t，压力等级：%d

## 应对策略：%s
%s
%s
## 三种人设（每个人设恰好写一个选项）
%s
## 最近对话
%s
## 对方刚发来的消息
<<<
%s
>>>

## 输出格式
{
  "analysis": "用一两句话向用户解释为什么这样回",
  "options": [
    {"style": "人设代码", "text": "回复正文，不含颜文字", "kaomoji": "从该人设推荐中选一个", "score": 2}
  ]
}
score 为预估效果，整数 -3 到 3。options 必须恰好 3 个。

Return ONLY the JSON object.`

const overrideDirectiveTemplate = `
## 用户指定战术
用户明确要求采用「%s」。忽略上面分析给出的策略，三个选项都必须贯彻：%s
`

// BuildAnalysisPrompt renders the phase-one user prompt.
func BuildAnalysisPrompt(message string, history []Message) string {
	var intents strings.Builder
	for _, i := range Intents {
		fmt.Fprintf(&intents, "- %s: %s\n", i.Intent, i.Description)
	}
	var strategies strings.Builder
	for _, s := range Strategies {
		fmt.Fprintf(&strategies, "- %s: %s\n", s.Strategy, s.Guide)
	}
	return fmt.Sprintf(analysisPromptTemplate,
		intents.String(), strategies.String(), renderHistory(history, analysisHistoryTurns), message)
}

// BuildExecutionPrompt renders the phase-two user prompt. override, when
// set, replaces the analysed strategy and adds an explicit directive.
func BuildExecutionPrompt(message string, analysis SituationAnalysis, styles []persona.Persona, history []Message, override Strategy) string {
	strategy := analysis.Strategy
	directive := ""
	if override != "" {
		strategy = override
		directive = fmt.Sprintf(overrideDirectiveTemplate, override, override.Guide())
	}

	var personas strings.Builder
	for _, p := range styles {
		fmt.Fprintf(&personas, "- %s（%s）：%s 推荐颜文字：%s\n",
			p.Code, p.DisplayName, p.Description, strings.Join(p.Kaomoji, " "))
	}

	strategyName := string(strategy)
	if strategyName == "" {
		strategyName = "自由发挥"
	}

	return fmt.Sprintf(executionPromptTemplate,
		analysis.Summary,
		analysis.EmotionScore,
		analysis.Intent,
		analysis.Confidence,
		analysis.BurstDetected,
		analysis.PressureLevel,
		strategyName,
		strategy.Guide(),
		directive,
		personas.String(),
		renderHistory(history, executionHistoryTurns),
		message,
	)
}

func renderHistory(history []Message, turns int) string {
	if len(history) > turns {
		history = history[len(history)-turns:]
	}
	if len(history) == 0 {
		return "（无）\n"
	}
	var b strings.Builder
	for _, m := range history {
		speaker := "对方"
		if m.Role == RoleAdvisor {
			speaker = "我"
		}
		fmt.Fprintf(&b, "%s：%s\n", speaker, m.Content)
	}
	return b.String()
}
