package evidence

import (
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"golang.org/x/net/html"
)

var excessiveLinesRe = regexp.MustCompile(`\n{3,}`)

// quotedClasses mark the previous messages mail clients append to a reply.
var quotedClasses = map[string]bool{
	"gmail_quote":     true,
	"gmail_extra":     true,
	"yahoo_quoted":    true,
	"moz-cite-prefix": true,
}

// HTMLToText converts an HTML mail body or page to markdown text. Scripts,
// styles and quoted earlier messages are dropped first.
func HTMLToText(content string) (string, error) {
	doc, err := html.Parse(strings.NewReader(content))
	if err == nil {
		strip(doc)
		var sb strings.Builder
		if err := html.Render(&sb, doc); err == nil {
			content = sb.String()
		}
	}

	conv := md.NewConverter("", true, nil)
	conv.Use(plugin.GitHubFlavored())
	out, err := conv.ConvertString(content)
	if err != nil {
		return "", err
	}
	return cleanText(out), nil
}

func strip(n *html.Node) {
	var remove []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && dropNode(node) {
			remove = append(remove, node)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	for _, node := range remove {
		if node.Parent != nil {
			node.Parent.RemoveChild(node)
		}
	}
}

func dropNode(n *html.Node) bool {
	switch n.Data {
	case "script", "style", "head", "noscript":
		return true
	}
	for _, a := range n.Attr {
		switch {
		case a.Key == "class":
			for _, c := range strings.Fields(a.Val) {
				if quotedClasses[c] {
					return true
				}
			}
		case a.Key == "type" && n.Data == "blockquote" && a.Val == "cite":
			return true
		}
	}
	return false
}

func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	s = strings.Join(lines, "\n")
	s = excessiveLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
