package letter

import (
	"regexp"
	"strings"
)

var (
	fenceLine      = regexp.MustCompile("(?m)^[ \t]*```[a-zA-Z]*[ \t]*$")
	subjectLine    = regexp.MustCompile(`(?im)^[ \t]*(?:subject|objet|re)[ \t]*:[^\n]*$`)
	salutationLine = regexp.MustCompile(`(?im)^[ \t]*(?:madame|monsieur|mesdames|cher|chère|bonjour|dear|hello|to whom)`)
	signOff        = regexp.MustCompile(`(?is)(?:^|\n)[ \t]*(?:bien cordialement|cordialement|bien à vous|sincerely|best regards|kind regards|warm regards|regards|yours sincerely|yours faithfully)\b[^\n]*(?:\n.*)?$`)
	trailingSpace  = regexp.MustCompile(`(?m)[ \t]+$`)
	blankRuns      = regexp.MustCompile(`\n{3,}`)
)

// Clean turns raw model output into a letter body: markdown fences, subject
// lines, any preamble before the salutation and an invented sign-off are
// removed. The composer appends the real signature.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = fenceLine.ReplaceAllString(text, "")
	text = subjectLine.ReplaceAllString(text, "")

	if loc := salutationLine.FindStringIndex(text); loc != nil {
		text = text[loc[0]:]
	}
	if loc := signOff.FindStringIndex(text); loc != nil && loc[0] > 0 {
		text = text[:loc[0]]
	}

	text = trailingSpace.ReplaceAllString(text, "")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
