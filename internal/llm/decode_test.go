package llm

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeJSONFencedBlock(t *testing.T) {
	var out map[string]any
	content := "Here you go:\n```json\n{\"a\": 1}\n```\nThanks"
	if err := DecodeJSON(content, &out); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if out["a"] != json.Number("1") {
		t.Fatalf("a = %#v", out["a"])
	}
}

func TestDecodeJSONRepairsNearJSON(t *testing.T) {
	content := `{
  'url': 'https://example.com/a#b', // the endpoint
  "flag": True,
  "missing": None,
  "list": [1, 2, 3,],
}`
	var out map[string]any
	if err := DecodeJSON(content, &out); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if out["url"] != "https://example.com/a#b" {
		t.Fatalf("url = %#v", out["url"])
	}
	if out["flag"] != true || out["missing"] != nil {
		t.Fatalf("literals = %#v %#v", out["flag"], out["missing"])
	}
	if l, ok := out["list"].([]any); !ok || len(l) != 3 {
		t.Fatalf("list = %#v", out["list"])
	}
}

func TestDecodeJSONOutermostSpan(t *testing.T) {
	var out []map[string]any
	content := `Sure! [{"utterance": "Find hotels in Paris", "parameters": {"city": "Paris"}}] Hope it helps.`
	if err := DecodeJSON(content, &out); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 item, got %d", len(out))
	}
}

func TestDecodeJSONRejectsTruncatedOutput(t *testing.T) {
	var out []map[string]any
	err := DecodeJSON(`[{"utterance": "Find hotels", "parameters": {"city": "Par`, &out)
	if !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
	if err := DecodeJSON(`{"a": 1} {"b": 2}`, new(map[string]any)); !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse for trailing data, got %v", err)
	}
}

func TestRepairEscapedQuote(t *testing.T) {
	got := Repair(`{'name': 'O\'Brien'}`)
	var out map[string]string
	if err := json.Unmarshal([]byte(got), &out); err != nil {
		t.Fatalf("repaired output invalid: %q %v", got, err)
	}
	if out["name"] != "O'Brien" {
		t.Fatalf("name = %q", out["name"])
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"  {\"a\":1}  ":               `{"a":1}`,
		"```\n[1]\n```":                "[1]",
		"text ```json\n{}\n``` more": "{}",
	}
	for in, want := range cases {
		if got := StripCodeFence(in); got != want {
			t.Fatalf("StripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}
