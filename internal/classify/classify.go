// Package classify scores attacker-supplied input against the fleet's
// attack-signature sets. Pattern sets are compiled once at startup and shared
// read-only across every session.
package classify

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Attack tags carried in event records.
const (
	AttackSQLInjection  = "sql_injection"
	AttackXSS           = "xss"
	AttackPathTraversal = "path_traversal"
	AttackRecon         = "reconnaissance"
)

// SQLInjectionPatterns is the base injection set, shared with the database
// honeypot's query inspection.
var SQLInjectionPatterns = []string{
	`UNION\s+SELECT`,
	`OR\s+1\s*=\s*1`,
	`OR\s+'[^']*'\s*=\s*'[^']*'`,
	`;\s*DROP\s+TABLE`,
	`;\s*DELETE\s+FROM`,
	`--\s*$`,
	`SLEEP\s*\(`,
	`BENCHMARK\s*\(`,
	`LOAD_FILE\s*\(`,
	`INTO\s+OUTFILE`,
	`INTO\s+DUMPFILE`,
	`information_schema`,
	`CONCAT\s*\(`,
	`CHAR\s*\(`,
	`0x[0-9a-fA-F]+`,
}

// httpSQLExtra widens the base set for the web flow with percent-encoded
// quote/dash/hash detectors and the bare statement forms scanners send in
// query strings.
var httpSQLExtra = []string{
	`(\%27)|(\')|(\-\-)|(\%23)|(#)`,
	`((\%3D)|(=))[^\n]*((\%27)|(\')|(\-\-)|(\%3B)|(;))`,
	`\w*((\%27)|(\'))((\%6F)|o|(\%4F))((\%72)|r|(\%52))`,
	`((\%27)|(\'))union`,
	`exec(\s|\+)+(s|x)p\w+`,
	`SELECT\s+.*\s+FROM`,
	`INSERT\s+INTO`,
	`DELETE\s+FROM`,
	`DROP\s+TABLE`,
	`UPDATE\s+.*\s+SET`,
}

// HTTPSQLInjectionPatterns is the expanded set the web honeypot classifies with.
var HTTPSQLInjectionPatterns = append(append([]string{}, SQLInjectionPatterns...), httpSQLExtra...)

// XSSPatterns detect script injection in any request component.
var XSSPatterns = []string{
	`<script[^>]*>`,
	`javascript:`,
	`onerror\s*=`,
	`onload\s*=`,
	`onclick\s*=`,
	`<iframe`,
	`<img[^>]+onerror`,
}

// PathTraversalPatterns are evaluated against the URL path only.
var PathTraversalPatterns = []string{
	`\.\./`,
	`\.\.\\`,
	`/etc/passwd`,
	`/etc/shadow`,
	`c:\\windows`,
	`boot\.ini`,
}

// ReconPaths are matched case-insensitively as substrings of the URL path.
var ReconPaths = []string{
	"/admin",
	"/wp-admin",
	"/wp-login.php",
	"/phpmyadmin",
	"/phpMyAdmin",
	"/.env",
	"/config.php",
	"/wp-config.php",
	"/xmlrpc.php",
	"/.git",
	"/.svn",
	"/backup",
	"/db",
	"/sql",
	"/shell",
	"/cmd",
	"/console",
	"/manager",
	"/actuator",
	"/api/v1/pods",
	"/metrics",
}

// PatternSet is an ordered list of case-insensitive compiled patterns.
type PatternSet struct {
	patterns []*regexp.Regexp
}

// Compile builds a PatternSet from regex source strings. Sources are compiled
// case-insensitive; order is preserved.
func Compile(sources []string) (*PatternSet, error) {
	ps := &PatternSet{patterns: make([]*regexp.Regexp, 0, len(sources))}
	for _, src := range sources {
		re, err := regexp.Compile("(?i)" + src)
		if err != nil {
			return nil, err
		}
		ps.patterns = append(ps.patterns, re)
	}
	return ps, nil
}

// MustCompile is Compile for the static built-in sets.
func MustCompile(sources []string) *PatternSet {
	ps, err := Compile(sources)
	if err != nil {
		panic(err)
	}
	return ps
}

// Match reports whether any pattern in the set matches s.
func (p *PatternSet) Match(s string) bool {
	for _, re := range p.patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// Len returns the number of compiled patterns.
func (p *PatternSet) Len() int { return len(p.patterns) }

// Classifier scores one HTTP request. Precedence is fixed: sql_injection,
// then xss, then path_traversal, then reconnaissance; the first match wins.
type Classifier struct {
	sql       *PatternSet
	xss       *PatternSet
	traversal *PatternSet
	recon     []string
}

// NewHTTP builds the classifier used by the web honeypot.
func NewHTTP() *Classifier {
	return &Classifier{
		sql:       MustCompile(HTTPSQLInjectionPatterns),
		xss:       MustCompile(XSSPatterns),
		traversal: MustCompile(PathTraversalPatterns),
		recon:     ReconPaths,
	}
}

// Classify tags a request. SQL injection and XSS see the path (raw and
// percent-decoded), body, and header values; traversal sees the path alone;
// reconnaissance sees the path without its query component. Returns "" when
// nothing matches.
func (c *Classifier) Classify(path string, headers map[string]string, body string) string {
	full := fullInput(path, headers, body)

	if c.sql.Match(full) {
		return AttackSQLInjection
	}
	if c.xss.Match(full) {
		return AttackXSS
	}
	if c.traversal.Match(path) {
		return AttackPathTraversal
	}

	p := strings.ToLower(PathOnly(path))
	for _, suspicious := range c.recon {
		if strings.Contains(p, strings.ToLower(suspicious)) {
			return AttackRecon
		}
	}

	return ""
}

// fullInput joins the classification surface. Header values are joined in
// key order so the result is stable under header reordering, and a decoded
// copy of the path is included so percent-encoded payloads still match.
func fullInput(path string, headers map[string]string, body string) string {
	parts := []string{path}
	if decoded, err := url.QueryUnescape(path); err == nil && decoded != path {
		parts = append(parts, decoded)
	}
	parts = append(parts, body)

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, headers[k])
	}
	return strings.Join(parts, " ")
}

// PathOnly strips the query and fragment components from a request target.
func PathOnly(target string) string {
	if i := strings.IndexAny(target, "?#"); i != -1 {
		return target[:i]
	}
	return target
}
