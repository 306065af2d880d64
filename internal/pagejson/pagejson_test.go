package pagejson

import (
	"regexp"
	"testing"
)

func TestEarliestValidObject(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{
			name:  "plain object",
			input: `{"a":1}`,
			want:  `{"a":1}`,
			ok:    true,
		},
		{
			name:  "trailing garbage",
			input: `{"a":1};var b = 2;`,
			want:  `{"a":1}`,
			ok:    true,
		},
		{
			name:  "braces inside strings",
			input: `{"msg":"hi } there {"}extra`,
			want:  `{"msg":"hi } there {"}`,
			ok:    true,
		},
		{
			name:  "escaped quote inside string",
			input: `{"msg":"she said \"}\" loudly"}`,
			want:  `{"msg":"she said \"}\" loudly"}`,
			ok:    true,
		},
		{
			name:  "nested objects",
			input: `{"a":{"b":{"c":3}}}tail`,
			want:  `{"a":{"b":{"c":3}}}`,
			ok:    true,
		},
		{
			name:  "not an object",
			input: `[1,2,3]`,
			ok:    false,
		},
		{
			name:  "unterminated",
			input: `{"a":1`,
			ok:    false,
		},
		{
			name:  "empty",
			input: ``,
			ok:    false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := EarliestValidObject(tc.input)
			if ok != tc.ok {
				t.Fatalf("EarliestValidObject(%q) ok = %v, want %v", tc.input, ok, tc.ok)
			}
			if ok && got != tc.want {
				t.Fatalf("EarliestValidObject(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestExtractObject(t *testing.T) {
	re := regexp.MustCompile(`ytcfg\.set\s*\(`)
	body := `<script>ytcfg.set({"INNERTUBE_API_KEY":"abc","nested":{"x":"{"}});</script><p>}</p>`

	got, ok := ExtractObject(body, re)
	if !ok {
		t.Fatalf("ExtractObject failed on %q", body)
	}
	want := `{"INNERTUBE_API_KEY":"abc","nested":{"x":"{"}}`
	if got != want {
		t.Fatalf("ExtractObject = %q, want %q", got, want)
	}
}

func TestExtractObjectMissingPattern(t *testing.T) {
	re := regexp.MustCompile(`ytcfg\.set\s*\(`)
	if _, ok := ExtractObject("<html>no config here</html>", re); ok {
		t.Fatalf("ExtractObject succeeded on a page without the pattern")
	}
}

func TestExtractAfterMarker(t *testing.T) {
	body := `var ytInitialData = {"contents":{"ok":true}};</script>`
	got, ok := ExtractAfterMarker(body, "ytInitialData =")
	if !ok {
		t.Fatalf("ExtractAfterMarker failed")
	}
	if got != `{"contents":{"ok":true}}` {
		t.Fatalf("ExtractAfterMarker = %q", got)
	}
}

func TestExtractString(t *testing.T) {
	body := `"INNERTUBE_API_KEY":"AIzaSyTest123","other":1`
	got := ExtractString(body, `"INNERTUBE_API_KEY":"`)
	if got != "AIzaSyTest123" {
		t.Fatalf("ExtractString = %q, want %q", got, "AIzaSyTest123")
	}
	if got := ExtractString(body, `"MISSING":"`); got != "" {
		t.Fatalf("ExtractString on missing marker = %q, want empty", got)
	}
}
