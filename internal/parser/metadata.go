package parser

import "regexp"

var (
	emailRe = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phoneRe = regexp.MustCompile(`(?:\+\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)
)

// ContactInfo returns the distinct emails and phone numbers in text, keyed
// "emails" and "phones". Keys without matches are omitted; nil when none match.
func ContactInfo(text string) map[string]any {
	out := map[string]any{}
	if emails := distinct(emailRe.FindAllString(text, -1)); len(emails) > 0 {
		out["emails"] = emails
	}
	if phones := distinct(phoneRe.FindAllString(text, -1)); len(phones) > 0 {
		out["phones"] = phones
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func distinct(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
