// Package content turns a business profile into a full website: a sitemap,
// page copy, blog topics, and articles, all produced by an LLM and memoized
// per sub-call so interrupted runs resume without repeating paid requests.
package content

// BusinessInfo is the subset of the collected business record the
// generator feeds into its prompts.
type BusinessInfo struct {
	TaxCode     string `json:"tax_code"`
	Name        string `json:"name"`
	Address     string `json:"address"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	Industry    string `json:"industry"`
	Description string `json:"description"`
}

// PageSpec is one planned page in the sitemap.
type PageSpec struct {
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
	InMainMenu  bool   `json:"in_main_menu"`
}

// Sitemap is the site plan the model produces before any copy is written.
type Sitemap struct {
	WebsiteTitle string     `json:"website_title"`
	Tagline      string     `json:"tagline"`
	Pages        []PageSpec `json:"pages"`
	Navigation   []string   `json:"navigation"`
}

// Page is the generated copy for one sitemap page.
type Page struct {
	Title           string `json:"title"`
	Slug            string `json:"slug"`
	Content         string `json:"content"`
	MetaDescription string `json:"meta_description"`
}

// Topic is one planned blog post.
type Topic struct {
	Title           string   `json:"title"`
	MetaDescription string   `json:"meta_description"`
	Category        string   `json:"category"`
	Tags            []string `json:"tags"`
	TargetKeywords  []string `json:"target_keywords"`
}

// Article is the written-out blog post for a Topic.
type Article struct {
	Title           string   `json:"title"`
	Slug            string   `json:"slug"`
	Content         string   `json:"content"`
	MetaDescription string   `json:"meta_description"`
	Category        string   `json:"category"`
	Tags            []string `json:"tags"`
}

// Website is the complete generated site, ready for publishing.
type Website struct {
	Sitemap  Sitemap   `json:"sitemap"`
	Pages    []Page    `json:"pages"`
	Topics   []Topic   `json:"topics"`
	Articles []Article `json:"articles"`
}
