package configstore

import "strings"

// line is one physical line of the config file. The terminator is kept
// separately so CRLF files and a missing final newline survive a rewrite.
type line struct {
	body string
	eol  string
}

func splitLines(text string) []line {
	var lines []line
	for len(text) > 0 {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			lines = append(lines, line{body: text})
			break
		}
		body := text[:i]
		eol := "\n"
		if strings.HasSuffix(body, "\r") {
			body = body[:len(body)-1]
			eol = "\r\n"
		}
		lines = append(lines, line{body: body, eol: eol})
		text = text[i+1:]
	}
	return lines
}

func joinLines(lines []line) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.body)
		b.WriteString(l.eol)
	}
	return b.String()
}

func indentOf(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}
