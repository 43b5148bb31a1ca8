package content

import (
	"fmt"
	"strings"
)

const (
	sitemapSystem = "You are a website architect for small businesses. You respond with valid JSON only, no markdown, no commentary."
	pageSystem    = "You are a professional copywriter for small-business websites. You respond with valid JSON only, no markdown fences, no commentary."
	topicsSystem  = "You are a content strategist planning a small-business blog. You respond with a valid JSON array only, no markdown, no commentary."
	articleSystem = "You are a professional blog writer for small businesses. You respond with valid JSON only, no markdown fences outside the article body, no commentary."
)

func businessSummary(biz BusinessInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Business name: %s\n", biz.Name)
	if biz.Industry != "" {
		fmt.Fprintf(&b, "Industry: %s\n", biz.Industry)
	}
	if biz.Address != "" {
		fmt.Fprintf(&b, "Address: %s\n", biz.Address)
	}
	if biz.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", biz.Phone)
	}
	if biz.Email != "" {
		fmt.Fprintf(&b, "Email: %s\n", biz.Email)
	}
	if biz.Description != "" {
		fmt.Fprintf(&b, "About: %s\n", biz.Description)
	}
	return b.String()
}

func sitemapPrompt(biz BusinessInfo, style string) string {
	return fmt.Sprintf(`Plan a website for the following business.

%s
Website style: %s

Produce a sitemap with 5 to 8 pages appropriate for this business
(always include a home page, an about page, and a contact page).

Return JSON with this exact shape:
{
  "website_title": "...",
  "tagline": "...",
  "pages": [
    {"title": "...", "slug": "...", "description": "what this page covers", "priority": 1, "in_main_menu": true}
  ],
  "navigation": ["slug-in-menu-order"]
}`, businessSummary(biz), style)
}

func pagePrompt(biz BusinessInfo, page PageSpec, palette, style string) string {
	return fmt.Sprintf(`Write the full content for one website page.

%s
Page title: %s
Page purpose: %s
Website style: %s
Color palette: %s

Write 300 to 600 words of engaging, specific copy in Markdown. Use ## and
### headings to structure the page. Mention the business by name. Do not
invent facts not supported by the business details above.

Return JSON with this exact shape:
{"title": "...", "content": "markdown body", "meta_description": "under 160 characters"}`,
		businessSummary(biz), page.Title, page.Description, style, palette)
}

func topicsPrompt(biz BusinessInfo) string {
	return fmt.Sprintf(`Propose 5 blog post topics for the following business.

%s
Topics should be useful to the business's customers and realistic for the
business to publish. Vary the angle (how-to, industry insight, local
interest, service spotlight, common questions).

Return a JSON array with this exact shape:
[
  {"title": "...", "meta_description": "...", "category": "...", "tags": ["..."], "target_keywords": ["..."]}
]`, businessSummary(biz))
}

func articlePrompt(biz BusinessInfo, topic Topic) string {
	return fmt.Sprintf(`Write a complete blog article for the following business.

%s
Article title: %s
Angle: %s
Category: %s
Target keywords: %s

Write 500 to 800 words in Markdown with ## and ### headings. Work the
target keywords in naturally. Close with a short call to action pointing
at the business.

Return JSON with this exact shape:
{"title": "...", "content": "markdown body", "meta_description": "under 160 characters", "category": "...", "tags": ["..."]}`,
		businessSummary(biz), topic.Title, topic.MetaDescription, topic.Category,
		strings.Join(topic.TargetKeywords, ", "))
}

// fallbackTopics is used when the model's topic list cannot be parsed. The
// titles are generic enough to fit any small business.
func fallbackTopics(biz BusinessInfo) []Topic {
	name := biz.Name
	if name == "" {
		name = "our business"
	}
	return []Topic{
		{
			Title:           fmt.Sprintf("Welcome to %s", name),
			MetaDescription: fmt.Sprintf("An introduction to %s, what we do, and how to reach us.", name),
			Category:        "News",
			Tags:            []string{"announcement", "welcome"},
			TargetKeywords:  []string{name},
		},
		{
			Title:           "Our Services at a Glance",
			MetaDescription: "An overview of the services we offer and who they are for.",
			Category:        "Services",
			Tags:            []string{"services", "overview"},
			TargetKeywords:  []string{"services"},
		},
		{
			Title:           "Five Questions Customers Ask Us Most",
			MetaDescription: "Answers to the questions we hear most often from our customers.",
			Category:        "FAQ",
			Tags:            []string{"faq", "customers"},
			TargetKeywords:  []string{"frequently asked questions"},
		},
		{
			Title:           "How We Work With New Customers",
			MetaDescription: "What to expect when you contact us for the first time.",
			Category:        "Guides",
			Tags:            []string{"process", "customers"},
			TargetKeywords:  []string{"how it works"},
		},
		{
			Title:           "Why Local Businesses Matter",
			MetaDescription: "Our take on the value local businesses bring to their communities.",
			Category:        "Insights",
			Tags:            []string{"local", "community"},
			TargetKeywords:  []string{"local business"},
		},
	}
}
