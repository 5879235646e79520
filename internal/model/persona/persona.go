package persona

import (
	"errors"
	"time"
)

// Category is the consultation topic a student picks before chatting.
type Category string

const (
	CategoryCareer       Category = "進路"
	CategoryStudy        Category = "学習"
	CategoryRelationship Category = "人間関係"
)

// Categories lists every supported consultation category in display order.
func Categories() []Category {
	return []Category{CategoryCareer, CategoryStudy, CategoryRelationship}
}

// ParseCategory accepts an empty string as "no category".
func ParseCategory(raw string) (Category, bool) {
	if raw == "" {
		return "", true
	}
	for _, c := range Categories() {
		if string(c) == raw {
			return c, true
		}
	}
	return "", false
}

// Mode controls the length and tone of a reply.
type Mode string

const (
	ModeNormal      Mode = "normal"
	ModeDetailed    Mode = "detailed"
	ModeQuick       Mode = "quick"
	ModeEncouraging Mode = "encouraging"
)

// Modes lists every supported response mode.
func Modes() []Mode {
	return []Mode{ModeNormal, ModeDetailed, ModeQuick, ModeEncouraging}
}

// ParseMode accepts an empty string as "no mode".
func ParseMode(raw string) (Mode, bool) {
	if raw == "" {
		return "", true
	}
	for _, m := range Modes() {
		if string(m) == raw {
			return m, true
		}
	}
	return "", false
}

// NGCategories is the fixed vocabulary of sensitive categories an operator may ban.
// Each label doubles as the keyword searched for in student messages.
var NGCategories = []string{"政治", "宗教", "暴力", "差別", "犯罪"}

// NGWords holds the moderation settings of a persona. Words and Categories are
// ignored while Enabled is false.
type NGWords struct {
	Enabled       bool     `json:"enabled"`
	Words         []string `json:"words"`
	Categories    []string `json:"categories"`
	CustomMessage string   `json:"customMessage,omitempty"`
}

// ValidateSettings rejects NG categories outside NGCategories and custom
// prompts keyed by an unknown category or mode.
func ValidateSettings(ng NGWords, rc ResponseCustomization) error {
	for _, c := range ng.Categories {
		if !isNGCategory(c) {
			return errors.Join(ErrInvalidInput, errors.New("unknown ng category: "+c))
		}
	}
	for _, cp := range rc.CustomPrompts {
		if _, ok := ParseCategory(string(cp.Category)); !ok {
			return errors.Join(ErrInvalidInput, errors.New("unknown custom prompt category: "+string(cp.Category)))
		}
		if _, ok := ParseMode(string(cp.Mode)); !ok {
			return errors.Join(ErrInvalidInput, errors.New("unknown custom prompt mode: "+string(cp.Mode)))
		}
	}
	return nil
}

func isNGCategory(c string) bool {
	for _, known := range NGCategories {
		if known == c {
			return true
		}
	}
	return false
}

// CustomPrompt is an operator supplied fragment selected by category or mode.
type CustomPrompt struct {
	Category Category `json:"category,omitempty"`
	Mode     Mode     `json:"mode,omitempty"`
	Prompt   string   `json:"prompt"`
}

// ResponseCustomization is ignored while EnableCustomization is false.
type ResponseCustomization struct {
	EnableCustomization bool           `json:"enableCustomization"`
	RestrictedTopics    []string       `json:"restrictedTopics"`
	CustomPrompts       []CustomPrompt `json:"customPrompts,omitempty"`
}

// Persona is an AI counselor profile students converse with.
type Persona struct {
	ID                    string                `json:"id"`
	Name                  string                `json:"name"`
	DisplayName           string                `json:"displayName"`
	Specialties           []string              `json:"specialties"`
	Personality           string                `json:"personality"`
	Greeting              string                `json:"greeting,omitempty"`
	TeacherInfo           string                `json:"teacherInfo,omitempty"`
	FreeNotes             string                `json:"freeNotes,omitempty"` // operator only
	Image                 string                `json:"image,omitempty"`
	NGWords               NGWords               `json:"ngWords"`
	ResponseCustomization ResponseCustomization `json:"responseCustomization"`
	CreatedAt             time.Time             `json:"createdAt"`
	UpdatedAt             time.Time             `json:"updatedAt"`
	// Version grows by one with every stored write.
	Version int64 `json:"version"`
}

// Public returns a copy safe to hand to students: operator notes are dropped.
func (p Persona) Public() Persona {
	out := p.Clone()
	out.FreeNotes = ""
	return out
}

// Clone deep-copies the slices so callers can mutate the result freely.
func (p Persona) Clone() Persona {
	out := p
	out.Specialties = cloneStrings(p.Specialties)
	out.NGWords.Words = cloneStrings(p.NGWords.Words)
	out.NGWords.Categories = cloneStrings(p.NGWords.Categories)
	out.ResponseCustomization.RestrictedTopics = cloneStrings(p.ResponseCustomization.RestrictedTopics)
	if p.ResponseCustomization.CustomPrompts != nil {
		out.ResponseCustomization.CustomPrompts = append([]CustomPrompt(nil), p.ResponseCustomization.CustomPrompts...)
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

// Update carries a partial persona write. Nil fields are left unchanged.
type Update struct {
	Name                  *string                `json:"name,omitempty"`
	DisplayName           *string                `json:"displayName,omitempty"`
	Specialties           []string               `json:"specialties,omitempty"`
	Personality           *string                `json:"personality,omitempty"`
	Greeting              *string                `json:"greeting,omitempty"`
	TeacherInfo           *string                `json:"teacherInfo,omitempty"`
	FreeNotes             *string                `json:"freeNotes,omitempty"`
	Image                 *string                `json:"image,omitempty"`
	NGWords               *NGWords               `json:"ngWords,omitempty"`
	ResponseCustomization *ResponseCustomization `json:"responseCustomization,omitempty"`
}

// Apply returns p with the non-nil fields of u written over it.
func (u Update) Apply(p Persona) Persona {
	out := p.Clone()
	if u.Name != nil {
		out.Name = *u.Name
	}
	if u.DisplayName != nil {
		out.DisplayName = *u.DisplayName
	}
	if u.Specialties != nil {
		out.Specialties = cloneStrings(u.Specialties)
	}
	if u.Personality != nil {
		out.Personality = *u.Personality
	}
	if u.Greeting != nil {
		out.Greeting = *u.Greeting
	}
	if u.TeacherInfo != nil {
		out.TeacherInfo = *u.TeacherInfo
	}
	if u.FreeNotes != nil {
		out.FreeNotes = *u.FreeNotes
	}
	if u.Image != nil {
		out.Image = *u.Image
	}
	if u.NGWords != nil {
		ng := *u.NGWords
		ng.Words = cloneStrings(ng.Words)
		ng.Categories = cloneStrings(ng.Categories)
		out.NGWords = ng
	}
	if u.ResponseCustomization != nil {
		rc := *u.ResponseCustomization
		rc.RestrictedTopics = cloneStrings(rc.RestrictedTopics)
		if rc.CustomPrompts != nil {
			rc.CustomPrompts = append([]CustomPrompt(nil), rc.CustomPrompts...)
		}
		out.ResponseCustomization = rc
	}
	return out
}

// FullUpdate builds an Update that overwrites every editable field with p's values.
func FullUpdate(p Persona) Update {
	p = p.Clone()
	specialties := p.Specialties
	if specialties == nil {
		specialties = []string{}
	}
	return Update{
		Name:                  &p.Name,
		DisplayName:           &p.DisplayName,
		Specialties:           specialties,
		Personality:           &p.Personality,
		Greeting:              &p.Greeting,
		TeacherInfo:           &p.TeacherInfo,
		FreeNotes:             &p.FreeNotes,
		Image:                 &p.Image,
		NGWords:               &p.NGWords,
		ResponseCustomization: &p.ResponseCustomization,
	}
}

// Seed provides the default counselors loaded into an empty store.
func Seed() []Persona {
	return []Persona{
		{
			ID:          "sato",
			Name:        "佐藤先生",
			DisplayName: "佐藤先生",
			Specialties: []string{"進路指導", "大学受験", "キャリア教育"},
			Personality: "穏やかで聞き上手。生徒の話を最後まで聞いてから、一緒に選択肢を整理する。",
			Greeting:    "こんにちは、佐藤です。今日はどんなことを話しましょうか。",
			TeacherInfo: "高校で十五年間進路指導を担当。地方から都市部の大学へ進学する生徒の支援経験が豊富。",
		},
		{
			ID:          "tanaka",
			Name:        "田中先生",
			DisplayName: "田中先生",
			Specialties: []string{"数学", "学習計画", "定期テスト対策"},
			Personality: "明るく元気で、小さな成功をしっかり褒める。具体的な計画づくりが得意。",
			Greeting:    "やあ！田中です。一緒にがんばろう！",
			NGWords: NGWords{
				Enabled:       true,
				Words:         []string{"カンニング"},
				Categories:    []string{"暴力", "犯罪"},
				CustomMessage: "",
			},
		},
		{
			ID:          "suzuki",
			Name:        "鈴木先生",
			DisplayName: "鈴木先生",
			Specialties: []string{"人間関係", "部活動", "メンタルケア"},
			Personality: "共感力が高く、落ち着いた語り口。無理をさせず、一歩ずつ進むことを大切にする。",
			Greeting:    "鈴木です。ゆっくりで大丈夫ですよ。",
			FreeNotes:   "保護者面談の記録は別途管理。",
			ResponseCustomization: ResponseCustomization{
				EnableCustomization: true,
				RestrictedTopics:    []string{"医療診断"},
				CustomPrompts: []CustomPrompt{
					{Category: CategoryRelationship, Prompt: "相談者の気持ちを否定せず、まず受け止める言葉から始めてください。"},
				},
			},
		},
	}
}
