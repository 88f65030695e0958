package refs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInferURL(t *testing.T) {
	got := Infer("see https://example.com/docs for details")
	assert.Contains(t, got, "url:https://example.com/docs")
}

func TestInferFilePath(t *testing.T) {
	got := Infer("edit internal/store/local.go to fix it")
	assert.Contains(t, got, "file:internal/store/local.go")
}

func TestInferWindowsPath(t *testing.T) {
	got := Infer(`open C:\Users\dev\main.go please`)
	assert.Contains(t, got, `file:C:\Users\dev\main.go`)
}

func TestInferFunctionCall(t *testing.T) {
	got := Infer("call ProcessTurn(ctx, turn) to append it")
	assert.Contains(t, got, "fn:ProcessTurn")
}

func TestInferIssue(t *testing.T) {
	got := Infer("this fixes #1234 finally")
	assert.Contains(t, got, "issue:#1234")
}

func TestInferDedupAndCap(t *testing.T) {
	text := "https://a.test https://a.test https://b.test https://c.test https://d.test " +
		"https://e.test https://f.test https://g.test https://h.test https://i.test https://j.test https://k.test"
	got := Infer(text)
	assert.LessOrEqual(t, len(got), 10)
	seen := map[string]bool{}
	for _, r := range got {
		assert.False(t, seen[r], "duplicate ref %s", r)
		seen[r] = true
	}
}

func TestInferEmpty(t *testing.T) {
	assert.Empty(t, Infer("just plain text here"))
}
