package business

import (
	"strings"

	"golang.org/x/net/html"
)

type pageLink struct {
	href string
	text string
}

func parsePage(body string) (*html.Node, error) {
	return html.Parse(strings.NewReader(body))
}

func walk(n *html.Node, visit func(*html.Node)) {
	visit(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	walk(n, func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
	})
	return b.String()
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func collectLinks(doc *html.Node) []pageLink {
	var links []pageLink
	walk(doc, func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if href := attr(n, "href"); href != "" {
				links = append(links, pageLink{href: href, text: strings.TrimSpace(nodeText(n))})
			}
		}
	})
	return links
}

var businessIndicators = []string{
	"company", "enterprise", "business", "corp", "ltd", "inc",
	"công ty", "doanh nghiệp", "tập đoàn",
}

// looksLikeListing reports whether a search-result link plausibly points at
// a business listing for the given tax code.
func looksLikeListing(l pageLink, taxCode string) bool {
	lowerText := strings.ToLower(l.text)
	lowerHref := strings.ToLower(l.href)
	for _, ind := range businessIndicators {
		if strings.Contains(lowerText, ind) || strings.Contains(lowerHref, ind) {
			return true
		}
	}
	return strings.Contains(l.text, taxCode) || strings.Contains(l.href, taxCode)
}

// extractPortal reads the registry portal's result table. The portal marks
// the company name cell with the company-name class.
func extractPortal(doc *html.Node) Info {
	var info Info
	walk(doc, func(n *html.Node) {
		if info.CompanyName != "" || n.Type != html.ElementNode || n.Data != "td" {
			return
		}
		if strings.Contains(attr(n, "class"), "company-name") {
			info.CompanyName = cleanCompanyName(nodeText(n))
		}
	})
	if info.CompanyName != "" {
		text := nodeText(doc)
		if m := phoneRe.FindString(text); m != "" {
			info.Phone = cleanPhone(m)
		}
		if m := emailRe.FindString(text); m != "" {
			info.Email = strings.TrimSpace(m)
		}
	}
	return info
}

// extractListing pulls a company record out of a listing page: the first
// plausible heading for the name, then contact details by pattern from the
// page text.
func extractListing(body string) Info {
	var info Info
	doc, err := parsePage(body)
	if err != nil {
		return info
	}

	walk(doc, func(n *html.Node) {
		if info.CompanyName != "" || n.Type != html.ElementNode {
			return
		}
		switch n.Data {
		case "h1", "h2", "h3":
			if name := cleanCompanyName(nodeText(n)); len(name) > 3 {
				info.CompanyName = name
			}
		default:
			class := attr(n, "class") + " " + attr(n, "id")
			if strings.Contains(class, "company-name") || strings.Contains(class, "business-name") {
				if name := cleanCompanyName(nodeText(n)); len(name) > 3 {
					info.CompanyName = name
				}
			}
		}
	})

	text := nodeText(doc)
	if m := phoneRe.FindString(text); m != "" {
		info.Phone = cleanPhone(m)
	}
	if m := emailRe.FindString(text); m != "" {
		info.Email = strings.TrimSpace(m)
	}
	if m := websiteRe.FindString(text); m != "" {
		info.Website = strings.TrimSpace(m)
	}
	return info
}
