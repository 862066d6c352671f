package slack

import "regexp"

var (
	boldStarRe  = regexp.MustCompile(`\*\*(.*?)\*\*`)
	boldUnderRe = regexp.MustCompile(`__(.*?)__`)
	italicRe    = regexp.MustCompile(`\*([^*]+)\*`)
	strikeRe    = regexp.MustCompile(`~~(.*?)~~`)
	linkRe      = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
)

// boldMark temporarily stands in for converted bold spans so the italic pass
// does not consume their asterisks.
const boldMark = "\x00"

// MarkdownToMrkdwn converts basic Markdown to the platform's mrkdwn dialect:
// **bold** to *bold*, *italic* to _italic_, ~~strike~~ to ~strike~, and
// [text](url) to <url|text>. Inline code and blockquotes pass through
// unchanged.
func MarkdownToMrkdwn(md string) string {
	out := boldStarRe.ReplaceAllString(md, boldMark+"$1"+boldMark)
	out = boldUnderRe.ReplaceAllString(out, boldMark+"$1"+boldMark)
	out = italicRe.ReplaceAllString(out, "_${1}_")
	out = strikeRe.ReplaceAllString(out, "~$1~")
	out = linkRe.ReplaceAllString(out, "<$2|$1>")

	result := make([]byte, 0, len(out))
	for i := 0; i < len(out); i++ {
		if out[i] == boldMark[0] {
			result = append(result, '*')
			continue
		}
		result = append(result, out[i])
	}
	return string(result)
}
