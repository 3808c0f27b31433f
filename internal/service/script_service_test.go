package service

import (
	"context"
	"strings"
	"testing"
)

type fakeLLM struct {
	response   string
	err        error
	configured bool
	calls      int
}

func (f *fakeLLM) ChatCompletion(_ context.Context, _, _ string) (string, error) {
	f.calls++
	return f.response, f.err
}

func (f *fakeLLM) IsConfigured() bool { return f.configured }

func TestValidateScript(t *testing.T) {
	long := strings.Repeat("a", 3000)
	cases := []struct {
		name   string
		script string
		wantOK bool
	}{
		{"empty", "", false},
		{"whitespace", "   \n\t ", false},
		{"too short", "hi there", false},
		{"too long", long, false},
		{"placeholder insert", "This is a fine script until [INSERT TOPIC HERE] shows up and ruins everything.", false},
		{"placeholder lorem", "Lorem ipsum dolor sit amet, a script that was never actually written by anyone.", false},
		{"template braces", "Welcome back everyone, today we talk about {{topic}} and why it matters to you.", false},
		{"valid", "Most people overpay for their first car because they skip three basic checks before signing.", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateScript(tc.script)
			if tc.wantOK && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.wantOK && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestNormalizeTitle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Short title", "Short title"},
		{"Owner financing &amp; you", "Owner financing & you"},
		{"  padded  ", "padded"},
	}
	for _, tc := range cases {
		if got := NormalizeTitle(tc.in); got != tc.want {
			t.Errorf("NormalizeTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	long := "This is a very long title that absolutely will not fit in the enhancer limit at all"
	got := NormalizeTitle(long)
	if len(got) > 50 {
		t.Fatalf("title not truncated: %d chars", len(got))
	}
	if strings.HasSuffix(got, " ") {
		t.Fatalf("truncated title has trailing space: %q", got)
	}
}

func TestGenerateParsesLLMResponse(t *testing.T) {
	llm := &fakeLLM{
		configured: true,
		response: "Here you go:\n```json\n" +
			`{"script": "Most buyers never ask the one question that saves them thousands at the dealership.", ` +
			`"caption": "The question dealers hate #cars", "title": "The question dealers hate"}` + "\n```",
	}
	svc := NewScriptService(llm)

	result, err := svc.Generate(context.Background(), "carz", "negotiating at the dealership")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result.Script, "one question") {
		t.Fatalf("unexpected script: %q", result.Script)
	}
	if result.Title != "The question dealers hate" {
		t.Fatalf("unexpected title: %q", result.Title)
	}
	if llm.calls != 1 {
		t.Fatalf("expected one completion call, got %d", llm.calls)
	}
}

func TestGenerateRejectsPlaceholderOutput(t *testing.T) {
	llm := &fakeLLM{
		configured: true,
		response:   `{"script": "Welcome to the show about [INSERT TOPIC] which we will discuss at length today for sure.", "caption": "c", "title": "t"}`,
	}
	svc := NewScriptService(llm)

	if _, err := svc.Generate(context.Background(), "carz", "topic"); err == nil {
		t.Fatal("expected placeholder output to be rejected")
	}
}

func TestGenerateRejectsNonJSONOutput(t *testing.T) {
	llm := &fakeLLM{configured: true, response: "I cannot help with that."}
	svc := NewScriptService(llm)

	if _, err := svc.Generate(context.Background(), "carz", "topic"); err == nil {
		t.Fatal("expected non-JSON output to be rejected")
	}
}

func TestGenerateMockFallback(t *testing.T) {
	llm := &fakeLLM{configured: false}
	svc := NewScriptService(llm)

	result, err := svc.Generate(context.Background(), "carz", "used car buying mistakes")
	if err != nil {
		t.Fatal(err)
	}
	if llm.calls != 0 {
		t.Fatal("unconfigured llm should not be called")
	}
	if err := ValidateScript(result.Script); err != nil {
		t.Fatalf("mock script should pass validation: %v", err)
	}
	if result.Title == "" {
		t.Fatal("mock result missing title")
	}
}
