package ai

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
)

var mockReplies = []string{
	"%sについて、もう少し詳しく教えてもらえますか？一緒に考えてみましょう。",
	"なるほど、%sについてのご相談ですね。まずは現在の状況を整理してみませんか？",
	"%sについて悩んでいるのですね。一歩ずつ解決していきましょう。",
	"%sについてお答えします。どんな小さなことでも気軽に相談してくださいね。",
}

// MockGenerator returns canned replies without calling any model. It exists
// for offline runs and tests and is never selected implicitly.
type MockGenerator struct {
	mu    sync.Mutex
	calls []MockCall
}

// MockCall records one Generate invocation.
type MockCall struct {
	SystemInstruction string
	UserPrompt        string
}

func NewMockGenerator() *MockGenerator { return &MockGenerator{} }

// Generate picks a reply deterministically from the prompt. The student
// message is the last line of the composed prompt.
func (m *MockGenerator) Generate(_ context.Context, systemInstruction, userPrompt string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{SystemInstruction: systemInstruction, UserPrompt: userPrompt})
	m.mu.Unlock()

	lines := strings.Split(strings.TrimSpace(userPrompt), "\n")
	topic := strings.TrimSpace(lines[len(lines)-1])

	h := fnv.New32a()
	_, _ = h.Write([]byte(userPrompt))
	return fmt.Sprintf(mockReplies[h.Sum32()%uint32(len(mockReplies))], topic), nil
}

// Calls returns the recorded invocations.
func (m *MockGenerator) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}
