package ai

import (
	"strings"

	"github.com/zhouzirui/persona-counsel/backend/internal/model/persona"
)

// categoryTemplates holds the domain guidance inserted before a message.
var categoryTemplates = map[persona.Category]string{
	persona.CategoryCareer: `
進路相談として以下の質問に答えてください。
- 将来の目標や夢を尊重しつつ、現実的なアドバイスを提供する
- 進学先や職業について具体的に説明する
- 生徒の適性や興味を踏まえて提案する
- 今日から始められる準備や行動を示す

`,
	persona.CategoryStudy: `
学習相談として以下の質問に答えてください。
- 効果的な勉強方法や学習習慣を提案する
- 苦手科目の克服方法を具体的に示す
- モチベーションを保つ工夫を伝える
- 時間管理や計画の立て方を手伝う

`,
	persona.CategoryRelationship: `
人間関係の相談として以下の質問に答えてください。
- 友人・家族・恋愛などの悩みに寄り添う
- コミュニケーションのコツを伝える
- ストレスとの付き合い方や心のケアを提案する
- 相手の気持ちも踏まえた建設的な解決策を示す

`,
}

// modeTemplates holds the output-shape constraints (length and tone).
var modeTemplates = map[persona.Mode]string{
	persona.ModeDetailed: `
【回答スタイル: 詳しく】
- 800〜1500文字程度で詳しく説明してください
- 具体例を複数挙げる
- 手順やプロセスを段階的に説明する
- 背景や理由も含めて回答する

`,
	persona.ModeQuick: `
【回答スタイル: さくっと】
- 200〜400文字程度で簡潔に回答してください
- 要点だけを端的に伝える
- すぐ実践できるアドバイスを中心にする

`,
	persona.ModeEncouraging: `
【回答スタイル: 励まし】
- 400〜700文字程度で温かく励ます調子で回答してください
- 生徒の気持ちに共感を示す
- 努力や頑張りを認め、前向きな言葉で応援する

`,
	persona.ModeNormal: `
【回答スタイル: 通常】
- 400〜800文字程度でバランス良く回答してください
- 親しみやすく分かりやすい口調で話す
- 必要に応じて具体例を交える

`,
}

// CategoryPreamble returns the template for c, or "" when there is none.
func CategoryPreamble(c persona.Category) string { return categoryTemplates[c] }

// ModePreamble returns the template for m, or "" when there is none.
func ModePreamble(m persona.Mode) string { return modeTemplates[m] }

// Composer layers category and mode templates around a student message.
type Composer struct{}

func NewComposer() *Composer { return &Composer{} }

// Compose returns [custom+"\n\n"] + [category] + [mode] + message. custom is
// searched in order for the first prompt whose category or mode matches.
func (c *Composer) Compose(message string, category persona.Category, mode persona.Mode, custom []persona.CustomPrompt) string {
	var b strings.Builder
	if cp, ok := matchCustomPrompt(custom, category, mode); ok {
		b.WriteString(cp.Prompt)
		b.WriteString("\n\n")
	}
	b.WriteString(CategoryPreamble(category))
	b.WriteString(ModePreamble(mode))
	b.WriteString(message)
	return b.String()
}

func matchCustomPrompt(custom []persona.CustomPrompt, category persona.Category, mode persona.Mode) (persona.CustomPrompt, bool) {
	for _, cp := range custom {
		if cp.Category != "" && cp.Category == category {
			return cp, true
		}
		if cp.Mode != "" && cp.Mode == mode {
			return cp, true
		}
	}
	return persona.CustomPrompt{}, false
}
