package mention

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mesh-intelligence/journey/pkg/types"
)

// Mention is one type#code reference found in text. Start and End are byte
// offsets of the match.
type Mention struct {
	EntityType types.EntityType `json:"entityType"`
	Code       int              `json:"shortCode"`
	Raw        string           `json:"raw"`
	Start      int              `json:"start"`
	End        int              `json:"end"`
}

// Key identifies a mention target independent of where it appears.
func (m Mention) Key() string {
	return string(m.EntityType) + "#" + strconv.Itoa(m.Code)
}

var (
	mentionPattern = regexp.MustCompile(`(?i)\b(task|project|goal|journal|memory)#(\d+)\b`)
	typedPartial   = regexp.MustCompile(`(?i)\b(task|project|goal|journal|memory)#(\d*)$`)
	atPartial      = regexp.MustCompile(`(^|\s)@(\w*)$`)
)

// Parse returns every well-formed mention in text in order of appearance.
// Matches never overlap. Codes that do not fit an int are skipped.
func Parse(text string) []Mention {
	var out []Mention
	for _, loc := range mentionPattern.FindAllStringSubmatchIndex(text, -1) {
		code, err := strconv.Atoi(text[loc[4]:loc[5]])
		if err != nil || code <= 0 {
			continue
		}
		out = append(out, Mention{
			EntityType: types.EntityType(strings.ToLower(text[loc[2]:loc[3]])),
			Code:       code,
			Raw:        text[loc[0]:loc[1]],
			Start:      loc[0],
			End:        loc[1],
		})
	}
	return out
}

// Unique drops repeated (type, code) pairs, keeping the first occurrence.
func Unique(mentions []Mention) []Mention {
	seen := make(map[string]bool, len(mentions))
	out := make([]Mention, 0, len(mentions))
	for _, m := range mentions {
		if seen[m.Key()] {
			continue
		}
		seen[m.Key()] = true
		out = append(out, m)
	}
	return out
}

// Mode tells how a partial mention was started.
type Mode string

// Partial mention modes.
const (
	ModeTyped     Mode = "typed"
	ModeUniversal Mode = "universal"
)

// Partial is an incomplete mention ending at the cursor, used to drive
// autocomplete.
type Partial struct {
	Mode       Mode             `json:"mode"`
	EntityType types.EntityType `json:"entityType,omitempty"`
	Query      string           `json:"query"`
	StartIndex int              `json:"startIndex"`
}

// DetectPartial inspects the text before cursor (a byte offset, clamped to
// the text) for an in-progress mention. A typed partial looks like
// "task#12"; a universal one is "@query" at the start of the text or after
// whitespace.
func DetectPartial(text string, cursor int) (Partial, bool) {
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(text) {
		cursor = len(text)
	}
	for cursor > 0 && cursor < len(text) && !utf8.RuneStart(text[cursor]) {
		cursor--
	}
	before := text[:cursor]

	if loc := typedPartial.FindStringSubmatchIndex(before); loc != nil {
		return Partial{
			Mode:       ModeTyped,
			EntityType: types.EntityType(strings.ToLower(before[loc[2]:loc[3]])),
			Query:      before[loc[4]:loc[5]],
			StartIndex: loc[0],
		}, true
	}
	if loc := atPartial.FindStringSubmatchIndex(before); loc != nil {
		return Partial{
			Mode:       ModeUniversal,
			Query:      before[loc[4]:loc[5]],
			StartIndex: loc[4] - 1,
		}, true
	}
	return Partial{}, false
}
