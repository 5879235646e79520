package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/persona-counsel/backend/internal/model/persona"
	"github.com/zhouzirui/persona-counsel/backend/internal/model/personality"
)

// IncompleteProfileMarker is always present in instructions built without a
// complete questionnaire.
const IncompleteProfileMarker = "※ この先生はまだ50問の性格分析を完了していないため、基本的な対応をします。"

const defaultGreeting = "こんにちは！"

// PromptAssembler turns a persona and its questionnaire into a system instruction.
type PromptAssembler struct {
	catalog *personality.Catalog
}

// NewPromptAssembler creates an assembler over the given questionnaire.
func NewPromptAssembler(catalog *personality.Catalog) *PromptAssembler {
	if catalog == nil {
		catalog = personality.DefaultCatalog()
	}
	return &PromptAssembler{catalog: catalog}
}

// UsesQuestionnaire reports whether BuildSystemInstruction would render the
// full questionnaire for answers. A stored IsComplete flag is not trusted alone.
func (pa *PromptAssembler) UsesQuestionnaire(answers *personality.AnswerSet) bool {
	return answers != nil && answers.IsComplete && pa.catalog.IsComplete(answers.Answers)
}

// BuildSystemInstruction uses the full questionnaire when answers is complete,
// otherwise the compact profile with IncompleteProfileMarker.
func (pa *PromptAssembler) BuildSystemInstruction(p persona.Persona, answers *personality.AnswerSet) string {
	if pa.UsesQuestionnaire(answers) {
		return pa.buildPersonalityPrompt(p, answers)
	}
	return pa.buildBasicSystemPrompt(p)
}

// buildPersonalityPrompt renders every question/answer pair grouped by category.
func (pa *PromptAssembler) buildPersonalityPrompt(p persona.Persona, answers *personality.AnswerSet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "あなたは「%s」という先生です。以下は先生本人が50の質問に答えた内容です。", displayName(p))
	b.WriteString("この回答から読み取れる人柄・口調・価値観を一貫して保ち、生徒の相談に答えてください。\n")

	for _, cat := range pa.catalog.Categories {
		fmt.Fprintf(&b, "\n【%s】\n", cat.Label)
		for _, q := range cat.Questions {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", q.Text, strings.TrimSpace(answers.Answers[q.ID]))
		}
	}

	b.WriteString("\n回答の心得：\n")
	b.WriteString("- 上記の回答と矛盾する発言をしない\n")
	b.WriteString("- 生徒の目線に立ち、具体的で実践的なアドバイスをする\n")
	return b.String()
}

// buildBasicSystemPrompt creates the compact instruction when no complete questionnaire is available.
func (pa *PromptAssembler) buildBasicSystemPrompt(p persona.Persona) string {
	greeting := p.Greeting
	if greeting == "" {
		greeting = defaultGreeting
	}
	specialties := strings.Join(p.Specialties, "、")

	var b strings.Builder
	fmt.Fprintf(&b, "名前: %s\n", displayName(p))
	fmt.Fprintf(&b, "専門分野: %s\n", specialties)
	fmt.Fprintf(&b, "性格・特徴: %s\n", p.Personality)
	fmt.Fprintf(&b, "挨拶: %s\n", greeting)
	if info := strings.TrimSpace(p.TeacherInfo); info != "" {
		fmt.Fprintf(&b, "先生の背景: %s\n", info)
	}

	fmt.Fprintf(&b, "\nあなたは「%s」として、以下の特徴を持った先生です：\n", displayName(p))
	fmt.Fprintf(&b, "- %s\n", p.Personality)
	fmt.Fprintf(&b, "- 専門分野: %s\n", specialties)
	b.WriteString("- 温かく親身になって生徒をサポートする\n")
	b.WriteString("- 具体的で実践的なアドバイスを心がける\n")
	b.WriteString("- 生徒の目線に立った分かりやすい説明をする\n")
	b.WriteString("\n")
	b.WriteString(IncompleteProfileMarker)
	b.WriteString("\n")
	return b.String()
}

func displayName(p persona.Persona) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Name
}
