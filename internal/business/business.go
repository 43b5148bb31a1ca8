// Package business collects public information about a company from its
// tax code by querying the official registry portal, web search, and
// business directories in turn.
//
// Collection is best-effort: a source that fails is recorded and skipped,
// and an empty record is a valid outcome. The caller decides whether an
// empty record is acceptable.
package business

import (
	"regexp"
	"strings"
	"time"
)

// Info is the collected business record.
type Info struct {
	TaxCode          string    `json:"tax_code"`
	CompanyName      string    `json:"company_name"`
	Address          string    `json:"address"`
	Phone            string    `json:"phone"`
	Email            string    `json:"email"`
	Website          string    `json:"website"`
	BusinessType     string    `json:"business_type"`
	Industry         string    `json:"industry"`
	Services         []string  `json:"services"`
	RegistrationDate string    `json:"registration_date"`
	Status           string    `json:"status"`
	Source           string    `json:"source"`
	CollectedAt      time.Time `json:"collected_at"`
	Debug            DebugInfo `json:"debug"`
}

// DebugInfo records how the collection went, per source.
type DebugInfo struct {
	SourcesTried     []string          `json:"sources_tried"`
	SourceErrors     map[string]string `json:"source_errors,omitempty"`
	SuccessfulSource string            `json:"successful_source,omitempty"`
	Enhanced         bool              `json:"enhanced,omitempty"`
}

// Found reports whether collection produced a usable record.
func (i Info) Found() bool { return i.CompanyName != "" }

var taxCodeRe = regexp.MustCompile(`^\d{10}(-?\d{3})?$`)

// ValidTaxCode reports whether the code matches the registry format:
// 10 digits for a head office, 13 digits (dash optional) for a branch.
func ValidTaxCode(taxCode string) bool {
	return taxCodeRe.MatchString(taxCode)
}

var (
	companyPrefixRe = regexp.MustCompile(`(?i)^(company:|business:|enterprise:)\s*`)
	phoneRe         = regexp.MustCompile(`(?:\+84|84|0)[\s\-]?[1-9][\d\s\-]{7,10}`)
	emailRe         = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	websiteRe       = regexp.MustCompile(`https?://[^\s<>"]+`)
	nonPhoneRe      = regexp.MustCompile(`[^\d+]`)
)

func cleanCompanyName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	return strings.TrimSpace(companyPrefixRe.ReplaceAllString(name, ""))
}

// cleanPhone normalizes to the international +84 form.
func cleanPhone(phone string) string {
	phone = nonPhoneRe.ReplaceAllString(phone, "")
	switch {
	case strings.HasPrefix(phone, "+"):
		return phone
	case strings.HasPrefix(phone, "84"):
		return "+" + phone
	case strings.HasPrefix(phone, "0"):
		return "+84" + phone[1:]
	}
	return phone
}
