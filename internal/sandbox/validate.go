package sandbox

import "regexp"

// Pre-flight screening for patterns the isolated runtime would block
// anyway. This exists to give submitters fast, specific messages; the
// isolation model is the actual security boundary.
var blockedPatterns = []struct {
	re      *regexp.Regexp
	message string
}{
	{regexp.MustCompile(`\brequire\s*\(`), "require() is not available: module loading is disabled in the sandbox"},
	{regexp.MustCompile(`\bimport\s*[('"]`), "import is not available: module loading is disabled in the sandbox"},
	{regexp.MustCompile(`\bprocess\s*\.`), "process access is not available in the sandbox"},
	{regexp.MustCompile(`\bchild_process\b`), "child_process is not available in the sandbox"},
	{regexp.MustCompile(`\bfs\s*\.`), "file system access is not available in the sandbox"},
	{regexp.MustCompile(`\beval\s*\(`), "eval() is disabled in the sandbox"},
	{regexp.MustCompile(`\bnew\s+Function\s*\(`), "dynamic code generation via Function is disabled in the sandbox"},
}

// Validate screens the script text and returns one message per disallowed
// pattern found. An empty slice means the script may be submitted to the
// sandbox.
func (s *Sandbox) Validate(script string) []string {
	var errs []string
	for _, p := range blockedPatterns {
		if p.re.MatchString(script) {
			errs = append(errs, p.message)
		}
	}
	return errs
}
