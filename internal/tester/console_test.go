package tester

import (
	"strings"
	"testing"

	"github.com/storstekarn/VibeCheck/internal/model"
)

func TestConsoleErrorDefect(t *testing.T) {
	d, ok := consoleErrorDefect("http://site.example/", "boom")
	if !ok {
		t.Fatal("expected a defect")
	}
	if d.Type != model.TypeConsoleError || d.Severity != model.SeverityWarning {
		t.Errorf("unexpected type/severity: %s/%s", d.Type, d.Severity)
	}
	if d.Title != "Console error: boom" {
		t.Errorf("title = %q", d.Title)
	}
	if d.Details != "boom" {
		t.Errorf("details = %q", d.Details)
	}
}

func TestConsoleErrorDefectTruncatesTitle(t *testing.T) {
	long := strings.Repeat("x", 250)
	d, ok := consoleErrorDefect("http://site.example/", long)
	if !ok {
		t.Fatal("expected a defect")
	}
	if want := "Console error: " + strings.Repeat("x", 100); d.Title != want {
		t.Errorf("title length = %d, want prefix plus 100 chars", len(d.Title))
	}
	if d.Details != long {
		t.Error("details must keep the full message")
	}
}

func TestConsoleErrorDefectNoise(t *testing.T) {
	noisy := []string{
		"",
		"GET http://site.example/favicon.ico 404",
		"Failed to load resource: the server responded with a status of 404",
		"https://www.googletagmanager.com/gtag/js blocked",
		"https://site.example/cdn-cgi/challenge failed",
		"clarity.ms script error",
	}
	for _, msg := range noisy {
		if _, ok := consoleErrorDefect("http://site.example/", msg); ok {
			t.Errorf("expected %q to be filtered as noise", msg)
		}
	}
}

func TestExceptionDefect(t *testing.T) {
	msg := "TypeError: Cannot read properties of null (reading 'x')\n    at <anonymous>:1:6"
	d := exceptionDefect("http://site.example/", msg)
	if d.Severity != model.SeverityCritical {
		t.Errorf("severity = %s, want critical", d.Severity)
	}
	if d.Title != "Uncaught exception: TypeError: Cannot read properties of null (reading 'x')" {
		t.Errorf("title = %q", d.Title)
	}
	if d.Details != msg {
		t.Error("details must keep the stack")
	}
}
