package chat

import (
	"fmt"
	"strings"

	"github.com/hyperjump/cinetalk/internal/models"
)

// UnknownSpeaker labels context lines from scripts without a speaker column.
const UnknownSpeaker = "알수없음"

const promptTemplate = `
당신은 영화 <%s>의 등장인물 '%s'입니다.
아래의 [페르소나 지침]을 완벽하게 숙지하고 그에 따라 연기하세요.

[페르소나 지침]
%s

[참고: 영화 대본 맥락]
%s
`

// BuildPrompt returns the system instructions for playing character in the movie titled
// title. scriptContext is the output of FormatContext.
func BuildPrompt(title, character, persona, scriptContext string) string {
	return fmt.Sprintf(promptTemplate, title, character, persona, scriptContext)
}

// FormatContext renders retrieved lines as "- speaker: utterance" rows.
func FormatContext(lines []models.ScoredLine, hasSpeaker bool) string {
	var b strings.Builder
	for _, l := range lines {
		speaker := l.Line.Speaker
		if !hasSpeaker || speaker == "" {
			speaker = UnknownSpeaker
		}
		fmt.Fprintf(&b, "- %s: %s\n", speaker, l.Line.Utterance)
	}
	return b.String()
}
