package executor

import (
	"strings"
	"testing"
)

func TestParseStatementFind(t *testing.T) {
	stmt, err := ParseStatement(`db.users.find({"status": "active"})`)
	if err != nil {
		t.Fatalf("ParseStatement: %v", err)
	}
	if stmt.Collection != "users" {
		t.Fatalf("collection = %q, want users", stmt.Collection)
	}
	if stmt.Method != "find" {
		t.Fatalf("method = %q, want find", stmt.Method)
	}
	if len(stmt.Args) != 1 {
		t.Fatalf("args = %d, want 1", len(stmt.Args))
	}
	filter, ok := stmt.Args[0].(map[string]interface{})
	if !ok {
		t.Fatalf("arg type = %T, want object", stmt.Args[0])
	}
	if filter["status"] != "active" {
		t.Fatalf("filter = %v", filter)
	}
}

func TestParseStatementBracketCollection(t *testing.T) {
	stmt, err := ParseStatement(`db["audit-log"].findOne({"_id": 1})`)
	if err != nil {
		t.Fatalf("ParseStatement: %v", err)
	}
	if stmt.Collection != "audit-log" {
		t.Fatalf("collection = %q, want audit-log", stmt.Collection)
	}
}

func TestParseStatementMultipleArgs(t *testing.T) {
	stmt, err := ParseStatement(`db.users.updateOne({"_id": 1}, {"$set": {"name": "x"}})`)
	if err != nil {
		t.Fatalf("ParseStatement: %v", err)
	}
	if len(stmt.Args) != 2 {
		t.Fatalf("args = %d, want 2", len(stmt.Args))
	}
}

func TestParseStatementTrailingSemicolonAndWhitespace(t *testing.T) {
	stmt, err := ParseStatement("  db.orders.countDocuments({}) ;\n")
	if err != nil {
		t.Fatalf("ParseStatement: %v", err)
	}
	if stmt.Method != "countDocuments" {
		t.Fatalf("method = %q", stmt.Method)
	}
}

func TestParseStatementUnsupportedMethod(t *testing.T) {
	_, err := ParseStatement(`db.users.drop()`)
	if err == nil || !strings.Contains(err.Error(), `unsupported method "drop"`) {
		t.Fatalf("err = %v", err)
	}
}

func TestParseStatementMissingRequiredArgs(t *testing.T) {
	_, err := ParseStatement(`db.users.insertOne()`)
	if err == nil || !strings.Contains(err.Error(), "missing required argument(s): document") {
		t.Fatalf("err = %v", err)
	}

	_, err = ParseStatement(`db.users.updateOne({"_id": 1})`)
	if err == nil || !strings.Contains(err.Error(), "missing required argument(s): update") {
		t.Fatalf("err = %v", err)
	}
}

func TestParseStatementNotAStatement(t *testing.T) {
	for _, q := range []string{
		`SELECT * FROM users`,
		`db.users`,
		`users.find({})`,
		`db.users.find({}).limit(5)`,
	} {
		if _, err := ParseStatement(q); err == nil {
			t.Fatalf("expected parse error for %q", q)
		}
	}
}

func TestParseStatementBadJSONArgs(t *testing.T) {
	_, err := ParseStatement(`db.users.find({status: active})`)
	if err == nil || !strings.Contains(err.Error(), "arguments must be JSON values") {
		t.Fatalf("err = %v", err)
	}
}

func TestScreenForbidden(t *testing.T) {
	for _, q := range []string{
		`db.users.find({"$where": "this.a > 1"})`,
		`db.users.aggregate([{"$group": {"_id": null, "r": {"$accumulator": {}}}}])`,
		`db.users.mapReduce()`,
		`db.users.find({"$function": {}})`,
	} {
		if msg := ScreenForbidden(q); msg == "" {
			t.Fatalf("expected rejection for %q", q)
		}
	}
	if msg := ScreenForbidden(`db.users.find({"status": "active"})`); msg != "" {
		t.Fatalf("unexpected rejection: %s", msg)
	}
}
