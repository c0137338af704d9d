package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileRejectsBadPattern(t *testing.T) {
	_, err := Compile([]string{`valid`, `(`})
	require.Error(t, err)
}

func TestBuiltinSetsCompile(t *testing.T) {
	for _, sources := range [][]string{
		SQLInjectionPatterns,
		HTTPSQLInjectionPatterns,
		XSSPatterns,
		PathTraversalPatterns,
	} {
		ps, err := Compile(sources)
		require.NoError(t, err)
		assert.Equal(t, len(sources), ps.Len())
	}
}

func TestPatternSetMatchesCaseInsensitive(t *testing.T) {
	ps := MustCompile(SQLInjectionPatterns)

	assert.True(t, ps.Match("union select password from users"))
	assert.True(t, ps.Match("UNION  SELECT 1"))
	assert.True(t, ps.Match("SELECT * FROM t WHERE a=1 OR 1=1"))
	assert.True(t, ps.Match("select sleep(5)"))
	assert.True(t, ps.Match("select * from information_schema.tables"))
	assert.False(t, ps.Match("select name from products where id = 3"))
}

func TestClassifyPercentEncodedInjection(t *testing.T) {
	c := NewHTTP()
	got := c.Classify("/search?q=1%20UNION%20SELECT%201", map[string]string{"Host": "x"}, "")
	assert.Equal(t, AttackSQLInjection, got)
}

func TestClassifyReconBeatsNothingButNotInjection(t *testing.T) {
	c := NewHTTP()
	got := c.Classify("/phpmyadmin", map[string]string{"Host": "x"}, "")
	assert.Equal(t, AttackRecon, got)
}

func TestClassifyPrecedenceInjectionOverXSS(t *testing.T) {
	c := NewHTTP()
	body := `q=1 UNION SELECT 1 <script>alert(1)</script>`
	got := c.Classify("/submit", map[string]string{"Host": "x"}, body)
	assert.Equal(t, AttackSQLInjection, got)
}

func TestClassifyXSS(t *testing.T) {
	c := NewHTTP()
	got := c.Classify("/comment", map[string]string{"Host": "x"}, "<script>alert(1)</script>")
	assert.Equal(t, AttackXSS, got)
}

func TestClassifyPathTraversal(t *testing.T) {
	c := NewHTTP()
	got := c.Classify("/static/../../etc/passwd", map[string]string{"Host": "x"}, "")
	assert.Equal(t, AttackPathTraversal, got)
}

func TestClassifyTraversalChecksPathOnly(t *testing.T) {
	// Traversal markers in the body alone do not count; the body surface
	// belongs to the injection and XSS sets.
	c := NewHTTP()
	got := c.Classify("/upload", map[string]string{"Host": "x"}, "see /etc/passwd")
	assert.Equal(t, "", got)
}

func TestClassifyReconPaths(t *testing.T) {
	c := NewHTTP()
	for _, path := range []string{"/wp-login.php", "/.git/config", "/actuator", "/metrics", "/WP-ADMIN"} {
		assert.Equal(t, AttackRecon, c.Classify(path, nil, ""), "path %s", path)
	}
}

func TestClassifyReconIgnoresQuery(t *testing.T) {
	// The recon surface is the path component; a query naming a probe
	// path is not a probe.
	c := NewHTTP()
	got := c.Classify("/page?next=/admin", nil, "")
	assert.Equal(t, "", got)
}

func TestClassifyCleanRequest(t *testing.T) {
	c := NewHTTP()
	got := c.Classify("/index.html", map[string]string{
		"Host":       "shop.example.com",
		"User-Agent": "Mozilla/5.0",
	}, "")
	assert.Equal(t, "", got)
}

func TestClassifyHeaderValuesParticipate(t *testing.T) {
	c := NewHTTP()
	got := c.Classify("/", map[string]string{"X-Forwarded-For": "1 UNION SELECT 1"}, "")
	assert.Equal(t, AttackSQLInjection, got)
}

func TestClassifyStableUnderHeaderOrder(t *testing.T) {
	c := NewHTTP()
	a := map[string]string{"A": "SELECT x", "B": "FROM y"}
	b := map[string]string{"B": "FROM y", "A": "SELECT x"}
	assert.Equal(t, c.Classify("/p", a, ""), c.Classify("/p", b, ""))
}

func TestPathOnly(t *testing.T) {
	assert.Equal(t, "/a", PathOnly("/a?b=c"))
	assert.Equal(t, "/a", PathOnly("/a#frag"))
	assert.Equal(t, "/a", PathOnly("/a"))
}
