package nodes

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestEvalExpressionBindings(t *testing.T) {
	got, err := evalExpression(context.Background(), "input.a + variables.b",
		map[string]any{"a": 2}, map[string]any{"b": 3})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if got != int64(5) {
		t.Fatalf("expected 5, got %v (%T)", got, got)
	}
}

func TestEvalExpressionSyntaxError(t *testing.T) {
	if _, err := evalExpression(context.Background(), "input.a +", nil, nil); err == nil {
		t.Fatalf("expected syntax error")
	}
}

func TestEvalExpressionNullIsNil(t *testing.T) {
	got, err := evalExpression(context.Background(), "null", nil, nil)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for null, got %v", got)
	}
}

func TestEvalExpressionNoHostAccess(t *testing.T) {
	for _, expr := range []string{"require('fs')", "fetch('http://example.com')", "process.exit(1)"} {
		if _, err := evalExpression(context.Background(), expr, nil, nil); err == nil {
			t.Fatalf("expected %q to fail in the sandbox", expr)
		}
	}
}

func TestEvalExpressionDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := evalExpression(ctx, "(function() { while (true) {} })()", nil, nil)
	if err == nil {
		t.Fatalf("expected interrupt error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("interrupt took too long: %v", elapsed)
	}
}

func TestEvalExpressionSizeLimit(t *testing.T) {
	huge := "1+" + strings.Repeat("1+", maxExpressionSize/2) + "1"
	if _, err := evalExpression(context.Background(), huge, nil, nil); err == nil {
		t.Fatalf("expected size limit error")
	}
}

func TestEvalScriptStatements(t *testing.T) {
	got, err := evalScript(context.Background(), "var x = input.n * 2; return x + 1;",
		map[string]any{"n": 4}, nil)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if got != int64(9) {
		t.Fatalf("expected 9, got %v", got)
	}
}

func TestEvalScriptVariableWrites(t *testing.T) {
	vars := map[string]any{}
	if _, err := evalScript(context.Background(), "variables.flag = 'set'; return null;", nil, vars); err != nil {
		t.Fatalf("eval: %v", err)
	}
	if vars["flag"] != "set" {
		t.Fatalf("variable write did not propagate: %v", vars)
	}
}

func TestEvalPredicate(t *testing.T) {
	ok, err := evalPredicate(context.Background(), "input.count > 1", map[string]any{"count": 2}, nil)
	if err != nil || !ok {
		t.Fatalf("expected true, got %v %v", ok, err)
	}

	ok, err = evalPredicate(context.Background(), "''", nil, nil)
	if err != nil || ok {
		t.Fatalf("empty string should be falsy, got %v %v", ok, err)
	}

	ok, err = evalPredicate(context.Background(), "'nonempty'", nil, nil)
	if err != nil || !ok {
		t.Fatalf("non-empty string should be truthy, got %v %v", ok, err)
	}
}
