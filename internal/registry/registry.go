// Package registry is the Language Profile Registry: a static mapping from a
// supported language tag to the base image, file extension, and in-container
// interpreter command needed to run it.
package registry

import (
	"errors"
	"fmt"

	"github.com/oriys/serverlessd/internal/domain"
)

// ErrUnsupportedLanguage is returned when a language tag has no profile.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Profile describes how to run one language inside a container.
type Profile struct {
	Image       string
	Extension   string
	Interpreter []string
}

// Command builds the argv to run file inside the profile's interpreter.
func (p Profile) Command(file string) []string {
	argv := make([]string, 0, len(p.Interpreter)+1)
	argv = append(argv, p.Interpreter...)
	argv = append(argv, file)
	return argv
}

var profiles = map[domain.Language]Profile{
	domain.LanguagePython: {
		Image:       "python:3.9-slim",
		Extension:   ".py",
		Interpreter: []string{"python"},
	},
	domain.LanguageJavaScript: {
		Image:       "node:16-alpine",
		Extension:   ".js",
		Interpreter: []string{"node"},
	},
	domain.LanguageJS: {
		Image:       "node:16-alpine",
		Extension:   ".js",
		Interpreter: []string{"node"},
	},
}

// Lookup returns the profile for a language tag, or ErrUnsupportedLanguage.
func Lookup(lang domain.Language) (Profile, error) {
	p, ok := profiles[lang]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}
	return p, nil
}
