// Package personalize substitutes merge fields such as {{first_name}} into
// campaign subjects and bodies.
//
// Placeholders are matched case-insensitively, with or without the
// underscore ({{FirstName}} and {{ first_name }} are equivalent). A field
// the contact does not have is replaced by a bracketed label such as
// [First Name], so rendered output never contains placeholder syntax.
package personalize

import (
	"regexp"
	"strings"
)

// Fields holds the per-contact values a template may reference.
type Fields struct {
	Email     string
	FirstName string
	LastName  string
	Company   string
	Role      string
	Industry  string
}

type field struct {
	token    string
	fallback string
	value    func(Fields) string
}

var fields = map[string]field{
	"firstname": {"{{first_name}}", "[First Name]", func(f Fields) string { return f.FirstName }},
	"lastname":  {"{{last_name}}", "[Last Name]", func(f Fields) string { return f.LastName }},
	"company":   {"{{company}}", "[Company]", func(f Fields) string { return f.Company }},
	"role":      {"{{role}}", "[Role]", func(f Fields) string { return f.Role }},
	"industry":  {"{{industry}}", "[Industry]", func(f Fields) string { return f.Industry }},
	"email":     {"{{email}}", "[Email]", func(f Fields) string { return f.Email }},
}

var placeholderRe = regexp.MustCompile(`(?i)\{\{\s*(first_?name|last_?name|company|role|industry|email)\s*\}\}`)

// values may not smuggle new placeholders into rendered output
var braceStripper = strings.NewReplacer("{", "", "}", "")

// HasPlaceholders reports whether text contains any merge field.
func HasPlaceholders(text string) bool {
	return placeholderRe.MatchString(text)
}

// Render replaces every merge field in tmpl with the matching value from f.
func Render(tmpl string, f Fields) string {
	if !HasPlaceholders(tmpl) {
		return tmpl
	}
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		return lookup(match).resolve(f)
	})
}

// Canonicalize rewrites every merge field to its canonical token
// ({{first_name}}, {{last_name}}, ...). Providers that substitute on their
// side match tokens literally, so a template must be canonicalized before
// it is paired with Substitutions.
func Canonicalize(tmpl string) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		return lookup(match).token
	})
}

// Substitutions returns canonical token -> rendered value for f. Replacing
// each token of Canonicalize(tmpl) with its value yields Render(tmpl, f).
func Substitutions(f Fields) map[string]string {
	subs := make(map[string]string, len(fields))
	for _, fd := range fields {
		subs[fd.token] = fd.resolve(f)
	}
	return subs
}

// Apply performs Substitutions on a canonicalized template locally.
func Apply(canonical string, subs map[string]string) string {
	if len(subs) == 0 {
		return canonical
	}
	pairs := make([]string, 0, len(subs)*2)
	for token, value := range subs {
		pairs = append(pairs, token, value)
	}
	return strings.NewReplacer(pairs...).Replace(canonical)
}

func lookup(match string) field {
	sub := placeholderRe.FindStringSubmatch(match)
	key := strings.ReplaceAll(strings.ToLower(sub[1]), "_", "")
	return fields[key]
}

func (fd field) resolve(f Fields) string {
	v := strings.TrimSpace(braceStripper.Replace(fd.value(f)))
	if v == "" {
		return fd.fallback
	}
	return v
}
