package executor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Statement is one parsed document-store command. The mini-language is
// parsed structurally, never evaluated.
type Statement struct {
	Collection string
	Method     string
	Args       []interface{}
}

// Operators and method names that imply arbitrary code execution inside the
// target database engine. Their presence rejects the query before any
// parsing or network activity.
var forbiddenOperators = []string{"$where", "$function", "$accumulator", "mapReduce"}

// ScreenForbidden returns a rejection message when the raw query text
// contains a blocked operator, or "" when it is clean.
func ScreenForbidden(query string) string {
	for _, op := range forbiddenOperators {
		if strings.Contains(query, op) {
			return fmt.Sprintf("operator %q is not allowed: server-side code execution is disabled", op)
		}
	}
	return ""
}

// Accepts db.<collection>.<method>(<args>) and db["<collection>"].<method>(<args>).
var stmtPattern = regexp.MustCompile(`(?s)^\s*db\s*(?:\.\s*([A-Za-z_][\w.-]*)|\[\s*["']([^"']+)["']\s*\])\s*\.\s*([A-Za-z_]\w*)\s*\((.*)\)\s*;?\s*$`)

// Supported methods mapped to the names of their required arguments, in
// positional order. A method absent from this map is unsupported.
var methodRequiredArgs = map[string][]string{
	"find":           {},
	"findOne":        {},
	"aggregate":      {},
	"insertOne":      {"document"},
	"insertMany":     {"documents"},
	"updateOne":      {"filter", "update"},
	"updateMany":     {"filter", "update"},
	"deleteOne":      {"filter"},
	"deleteMany":     {"filter"},
	"countDocuments": {},
}

// ParseStatement parses one mini-language command. The argument list is
// parsed by wrapping it as a JSON array, falling back to a single JSON
// object when array parsing fails.
func ParseStatement(query string) (*Statement, error) {
	m := stmtPattern.FindStringSubmatch(query)
	if m == nil {
		return nil, fmt.Errorf(`query must look like db.<collection>.<method>(<json-args>) or db["<collection>"].<method>(<json-args>)`)
	}

	collection := m[1]
	if collection == "" {
		collection = m[2]
	}
	method := m[3]

	required, supported := methodRequiredArgs[method]
	if !supported {
		return nil, fmt.Errorf("unsupported method %q", method)
	}

	args, err := parseArgs(m[4])
	if err != nil {
		return nil, err
	}
	if len(args) < len(required) {
		missing := required[len(args):]
		return nil, fmt.Errorf("%s is missing required argument(s): %s", method, strings.Join(missing, ", "))
	}

	return &Statement{Collection: collection, Method: method, Args: args}, nil
}

func parseArgs(src string) ([]interface{}, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, nil
	}

	var args []interface{}
	if err := json.Unmarshal([]byte("["+src+"]"), &args); err == nil {
		return args, nil
	}

	var single map[string]interface{}
	if err := json.Unmarshal([]byte(src), &single); err == nil {
		return []interface{}{single}, nil
	}

	return nil, fmt.Errorf("arguments must be JSON values")
}
