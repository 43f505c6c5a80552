package registry

import (
	"errors"
	"testing"

	"github.com/oriys/serverlessd/internal/domain"
)

func TestLookupKnownLanguages(t *testing.T) {
	for _, lang := range []domain.Language{domain.LanguagePython, domain.LanguageJavaScript, domain.LanguageJS} {
		p, err := Lookup(lang)
		if err != nil {
			t.Fatalf("Lookup(%q) returned error: %v", lang, err)
		}
		if p.Image == "" || p.Extension == "" || len(p.Interpreter) == 0 {
			t.Fatalf("Lookup(%q) returned incomplete profile: %+v", lang, p)
		}
	}
}

func TestLookupUnsupportedLanguage(t *testing.T) {
	_, err := Lookup(domain.Language("ruby"))
	if !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("expected ErrUnsupportedLanguage, got %v", err)
	}
}

func TestCommandAppendsFile(t *testing.T) {
	p, _ := Lookup(domain.LanguagePython)
	cmd := p.Command("/app/handler.py")
	want := []string{"python", "/app/handler.py"}
	if len(cmd) != len(want) || cmd[0] != want[0] || cmd[1] != want[1] {
		t.Fatalf("Command() = %v, want %v", cmd, want)
	}
}
