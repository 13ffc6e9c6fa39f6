package validator

import (
	"html"
	"net/url"
	"regexp"
	"strings"
)

var htmlTagRegex = regexp.MustCompile(`<[^>]*>`)

// Sanitizer strips markup and escapes text pulled from untrusted request
// fields (query params, reflected headers) before it is logged or echoed.
type Sanitizer struct{}

// NewSanitizer builds a Sanitizer.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{}
}

// Sanitize strips HTML tags and escapes what remains.
func (s *Sanitizer) Sanitize(input string) string {
	stripped := htmlTagRegex.ReplaceAllString(input, "")
	return html.EscapeString(stripped)
}

// sqlInjectionPatterns are common SQL-injection tells: tautologies, stacked
// comments, UNION-based exfiltration, and dangerous stored procedures.
var sqlInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bunion\b[\s\S]{1,40}\bselect\b`),
	regexp.MustCompile(`(?i)\bor\b\s*['"]?\s*\d+\s*['"]?\s*=\s*['"]?\s*\d+`),
	regexp.MustCompile(`(?i)\bdrop\b\s+\btable\b`),
	regexp.MustCompile(`--\s*$`),
	regexp.MustCompile(`;\s*--`),
	regexp.MustCompile(`/\*[\s\S]*\*/`),
	regexp.MustCompile(`(?i)\bxp_cmdshell\b`),
}

// DetectSQLInjection reports whether s looks like a SQL-injection attempt.
func DetectSQLInjection(s string) bool {
	for _, re := range sqlInjectionPatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// maxDecodeIterations bounds how many times a path is percent-decoded
// before giving up, so a pathological input can't spin the loop forever.
const maxDecodeIterations = 5

func fullyDecode(s string) string {
	cur := s
	for i := 0; i < maxDecodeIterations; i++ {
		decoded, err := url.QueryUnescape(cur)
		if err != nil || decoded == cur {
			break
		}
		cur = decoded
	}
	return cur
}

// DetectPathTraversal reports whether s, after undoing any (possibly
// multiply-nested) percent-encoding, contains a directory traversal
// sequence.
func DetectPathTraversal(s string) bool {
	decoded := fullyDecode(s)
	return strings.Contains(decoded, "../") ||
		strings.Contains(decoded, "..\\") ||
		decoded == ".." ||
		strings.HasSuffix(decoded, "/..") ||
		strings.HasSuffix(decoded, "\\..")
}

// SanitizePath fully decodes s and strips every "." and ".." path segment,
// returning a clean relative path.
func SanitizePath(s string) string {
	decoded := fullyDecode(s)
	decoded = strings.ReplaceAll(decoded, "\\", "/")

	segments := strings.Split(decoded, "/")
	kept := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		kept = append(kept, seg)
	}
	return strings.Join(kept, "/")
}
