package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestStripCStyle(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		in          BlockState
		wantCode    string
		wantComment bool
		wantInBlock bool
	}{
		{"plain code", `enabled := IsEnabled("a")`, BlockState{}, `enabled := IsEnabled("a")`, false, false},
		{"line comment only", `// IsEnabled("a")`, BlockState{}, "", true, false},
		{"trailing line comment", `x := 1 // feature_a`, BlockState{}, "x := 1 ", false, false},
		{"block opened and closed mid-line keeps trailing code", `/* old */ check("feature_a")`, BlockState{}, ` check("feature_a")`, false, false},
		{"block opens and stays open", `call() /* feature_a`, BlockState{}, "call() ", false, true},
		{"inside block", `feature_a still commented`, BlockState{open: true, closer: "*/"}, "", true, true},
		{"block closes then code", `end */ use("feature_a")`, BlockState{open: true, closer: "*/"}, ` use("feature_a")`, false, false},
		{"nested opener ignored, first closer wins", `/* a /* b */ code() */`, BlockState{}, ` code() */`, false, false},
		{"slashes inside string are not a comment", `fetch("http://x/feature_a")`, BlockState{}, `fetch("http://x/feature_a")`, false, false},
		{"escaped quote inside string", `s := "a\"//b" // c`, BlockState{}, `s := "a\"//b" `, false, false},
		{"hash is code in C style", `#include "feature_a.h"`, BlockState{}, `#include "feature_a.h"`, false, false},
		{"unclosed quote in regex literal does not hide comment", `s.replace(/'/g, "") // feature_a`, BlockState{}, `s.replace(/'/g, "") `, false, false},
		{"apostrophe before block comment", `x = /'/; /* feature_a */ y()`, BlockState{}, `x = /'/;  y()`, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, commentOnly, next := CStyle.Strip(tt.line, tt.in)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantComment, commentOnly)
			assert.Equal(t, tt.wantInBlock, next.InBlock())
		})
	}
}

func TestStripHashStyle(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		in          BlockState
		wantCode    string
		wantInBlock bool
	}{
		{"hash comment", `# is_enabled("feature_a")`, BlockState{}, "", false},
		{"trailing hash comment", `x = 1  # feature_a`, BlockState{}, "x = 1  ", false},
		{"hash inside string", `url = "page#feature_a"`, BlockState{}, `url = "page#feature_a"`, false},
		{"docstring opens", `"""Module docs`, BlockState{}, "", true},
		{"docstring closes with trailing code", `end""" ; is_enabled("feature_a")`, BlockState{open: true, closer: `"""`}, ` ; is_enabled("feature_a")`, false},
		{"single-line triple-quoted string is stripped", `x = """feature_a"""`, BlockState{}, "x = ", false},
		{"single-quoted triple", `'''feature_a`, BlockState{}, "", true},
		{"other triple quote does not close", `"""`, BlockState{open: true, closer: `'''`}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, next := HashStyle.Strip(tt.line, tt.in)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantInBlock, next.InBlock())
		})
	}
}

func TestStripPHPStyle(t *testing.T) {
	for _, line := range []string{`# feature_a`, `// feature_a`, `/* feature_a */`} {
		code, commentOnly, next := PHPStyle.Strip(line, BlockState{})
		assert.Empty(t, code, line)
		assert.True(t, commentOnly, line)
		assert.False(t, next.InBlock(), line)
	}

	code, _, _ := PHPStyle.Strip(`$on = $client->isFeatureEnabled('feature_a'); # note`, BlockState{})
	assert.Equal(t, `$on = $client->isFeatureEnabled('feature_a'); `, code)
}

func TestCommentStyleString(t *testing.T) {
	assert.Equal(t, "c", CStyle.String())
	assert.Equal(t, "hash", HashStyle.String())
	assert.Equal(t, "php", PHPStyle.String())
}

// A key that only ever appears inside comments never survives stripping.
func TestStripRemovesCommentedKeys(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		key := rapid.StringMatching(`feature_[a-z]{3,10}`).Draw(t, "key")
		prefix := rapid.StringMatching(`[a-z ]{0,10}`).Draw(t, "prefix")
		form := rapid.IntRange(0, 2).Draw(t, "form")

		var lines []string
		switch form {
		case 0:
			lines = []string{prefix + " // " + key}
		case 1:
			lines = []string{prefix + " /* " + key + " */"}
		default:
			lines = []string{"/*", " * " + key, " */"}
		}

		var state BlockState
		for _, line := range lines {
			var code string
			code, _, state = CStyle.Strip(line, state)
			if strings.Contains(code, key) {
				t.Fatalf("key %q leaked from comment line %q", key, line)
			}
		}
		if state.InBlock() {
			t.Fatalf("block state should be closed after %v", lines)
		}
	})
}
