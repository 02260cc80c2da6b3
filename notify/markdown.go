package notify

import "strings"

const markdownSpecials = "_*`["

var markdownEscaper = strings.NewReplacer(
	"_", `\_`,
	"*", `\*`,
	"`", "\\`",
	"[", `\[`,
)

// EscapeMarkdown makes s literal inside a Markdown (legacy) Bot API message.
func EscapeMarkdown(s string) string { return markdownEscaper.Replace(s) }

// BoldMarkdown renders s in bold. Escapes are not allowed inside an entity,
// so the bold run is closed around each special character.
func BoldMarkdown(s string) string {
	var b strings.Builder
	run := func(seg string) {
		if seg != "" {
			b.WriteString("*" + seg + "*")
		}
	}
	start := 0
	for i, r := range s {
		if strings.ContainsRune(markdownSpecials, r) {
			run(s[start:i])
			b.WriteString(`\` + string(r))
			start = i + 1
		}
	}
	run(s[start:])
	return b.String()
}
