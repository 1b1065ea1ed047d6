// internal/harness/pagedata.go
package harness

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/converge-cli/api/schemas"
)

// Caps keep generation prompts small on content-heavy pages.
const (
	maxHeadings = 10
	maxButtons  = 15
	maxLinks    = 20
)

// SummarizeHTML parses a page and extracts the structural landmarks the code
// generator grounds its prompts on: title, headings, buttons, and links.
func SummarizeHTML(rawHTML string) (*schemas.PageData, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page HTML: %w", err)
	}

	data := &schemas.PageData{}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if data.Title == "" {
					data.Title = textContent(n)
				}
			case "h1", "h2", "h3":
				if text := textContent(n); text != "" && len(data.Headings) < maxHeadings {
					data.Headings = append(data.Headings, fmt.Sprintf("%s: %s", n.Data, text))
				}
			case "button":
				if text := textContent(n); text != "" && len(data.Buttons) < maxButtons {
					data.Buttons = append(data.Buttons, text)
				}
			case "input":
				if attr(n, "type") == "submit" && len(data.Buttons) < maxButtons {
					if value := attr(n, "value"); value != "" {
						data.Buttons = append(data.Buttons, value)
					}
				}
			case "a":
				if text := textContent(n); text != "" && len(data.Links) < maxLinks {
					data.Links = append(data.Links, text)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return data, nil
}

// textContent flattens the visible text under a node.
func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}
