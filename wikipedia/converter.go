package wikipedia

import (
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"golang.org/x/net/html"
)

var (
	excessiveLinesRe = regexp.MustCompile(`\n{3,}`)
	spaceRunRe       = regexp.MustCompile(`[ \t]+`)
)

// Converter renders summary HTML extracts.
type Converter struct {
	converter *md.Converter
}

// NewConverter returns a converter producing CommonMark.
func NewConverter() *Converter {
	return &Converter{converter: md.NewConverter("", true, nil)}
}

// Markdown converts an HTML fragment to markdown.
func (c *Converter) Markdown(fragment string) (string, error) {
	out, err := c.converter.ConvertString(fragment)
	if err != nil {
		return "", err
	}
	return cleanMarkdown(out), nil
}

// PlainText returns the visible text of an HTML fragment. Paragraphs are
// separated by blank lines.
func PlainText(fragment string) string {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
		case html.ElementNode:
			switch n.Data {
			case "script", "style":
				return
			case "br":
				sb.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && (n.Data == "p" || n.Data == "li" || n.Data == "div") {
			sb.WriteString("\n\n")
		}
	}
	walk(doc)

	lines := strings.Split(sb.String(), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRunRe.ReplaceAllString(line, " "))
	}
	return cleanMarkdown(strings.Join(lines, "\n"))
}

func cleanMarkdown(content string) string {
	content = excessiveLinesRe.ReplaceAllString(content, "\n\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
