package moderation

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/persona-counsel/backend/internal/model/persona"
)

// Rule names the check that blocked a message.
type Rule string

const (
	RuleNone            Rule = "none"
	RuleNGWord          Rule = "ng_word"
	RuleNGCategory      Rule = "ng_category"
	RuleRestrictedTopic Rule = "restricted_topic"
)

// Decision is the outcome of evaluating one message.
type Decision struct {
	Blocked bool
	Text    string
	Rule    Rule
	Match   string
}

// check runs one rule; ok reports whether it matched.
type check func(lowered string, p persona.Persona) (Decision, bool)

// Gate blocks disallowed messages before any generation call. Checks run in
// order and the first match wins.
type Gate struct {
	checks []check
}

// NewGate returns a gate with the ng-word, ng-category and restricted-topic checks.
func NewGate() *Gate {
	return &Gate{checks: []check{checkNGWords, checkNGCategories, checkRestrictedTopics}}
}

// Evaluate decides whether message may reach the persona. Matching is plain
// case-insensitive substring search.
func (g *Gate) Evaluate(message string, p persona.Persona) Decision {
	lowered := strings.ToLower(message)
	for _, c := range g.checks {
		if d, ok := c(lowered, p); ok {
			return d
		}
	}
	return Decision{Rule: RuleNone}
}

func checkNGWords(lowered string, p persona.Persona) (Decision, bool) {
	if !p.NGWords.Enabled {
		return Decision{}, false
	}
	word, ok := firstContained(lowered, p.NGWords.Words)
	if !ok {
		return Decision{}, false
	}
	text := p.NGWords.CustomMessage
	if text == "" {
		text = fmt.Sprintf("申し訳ありませんが、「%s」に関する内容については、お答えできません。他の相談内容でしたら、お気軽にお聞かせください。", word)
	}
	return Decision{Blocked: true, Text: text, Rule: RuleNGWord, Match: word}, true
}

func checkNGCategories(lowered string, p persona.Persona) (Decision, bool) {
	if !p.NGWords.Enabled {
		return Decision{}, false
	}
	for _, category := range persona.NGCategories {
		if !contains(p.NGWords.Categories, category) {
			continue
		}
		if !strings.Contains(lowered, strings.ToLower(category)) {
			continue
		}
		text := p.NGWords.CustomMessage
		if text == "" {
			text = fmt.Sprintf("申し訳ありませんが、%sに関するトピックについては、お答えできません。学習や進路、人間関係など、他の相談内容でしたらお気軽にお聞かせください。", category)
		}
		return Decision{Blocked: true, Text: text, Rule: RuleNGCategory, Match: category}, true
	}
	return Decision{}, false
}

func checkRestrictedTopics(lowered string, p persona.Persona) (Decision, bool) {
	rc := p.ResponseCustomization
	if !rc.EnableCustomization {
		return Decision{}, false
	}
	topic, ok := firstContained(lowered, rc.RestrictedTopics)
	if !ok {
		return Decision{}, false
	}
	text := fmt.Sprintf("申し訳ありませんが、「%s」に関する内容については、専門的な知識が必要なため、お答えできません。学習方法や進路相談、人間関係など、他の内容でしたらお気軽にご相談ください。", topic)
	return Decision{Blocked: true, Text: text, Rule: RuleRestrictedTopic, Match: topic}, true
}

// firstContained returns the first non-empty term that occurs in lowered.
func firstContained(lowered string, terms []string) (string, bool) {
	for _, term := range terms {
		if term == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(term)) {
			return term, true
		}
	}
	return "", false
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
