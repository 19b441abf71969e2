// Package format escapes user text for Telegram parse modes.
package format

import "strings"

var (
	mdReplacer = strings.NewReplacer(
		`_`, `\_`, `*`, `\*`, "`", "\\`", `[`, `\[`,
	)
	mdV2Replacer = func() *strings.Replacer {
		const specials = "\\_*[]()~`>#+-=|{}.!"
		pairs := make([]string, 0, len(specials)*2)
		for _, r := range specials {
			pairs = append(pairs, string(r), `\`+string(r))
		}
		return strings.NewReplacer(pairs...)
	}()
)

// EscapeMD escapes text for tele.ModeMarkdown.
func EscapeMD(text string) string { return mdReplacer.Replace(text) }

// EscapeMDV2 escapes text for tele.ModeMarkdownV2.
func EscapeMDV2(text string) string { return mdV2Replacer.Replace(text) }
