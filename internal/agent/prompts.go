// Package agent implements the LLM pipeline steps: intent extraction, SQL
// generation and insight summarization.
package agent

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"text/template"
	"time"

	"github.com/rs/zerolog/log"
)

//go:embed prompts/*.txt
var defaultPrompts embed.FS

// PromptStore renders named prompt templates. Templates ship embedded; an
// optional override directory lets operators tune prompts without a rebuild.
// Overrides are re-read when their mtime changes.
type PromptStore struct {
	dir string

	mu    sync.Mutex
	cache map[string]*cachedPrompt
}

type cachedPrompt struct {
	modTime time.Time
	tmpl    *template.Template
}

// NewPromptStore creates a store. dir may be empty, in which case only the
// embedded templates are used.
func NewPromptStore(dir string) *PromptStore {
	return &PromptStore{
		dir:   dir,
		cache: make(map[string]*cachedPrompt),
	}
}

// Render loads the template by name ("intent", "sql", "insight") and executes
// it with data.
func (s *PromptStore) Render(name string, data any) (string, error) {
	tmpl, err := s.load(name)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %q: %w", name, err)
	}
	return buf.String(), nil
}

func (s *PromptStore) load(name string) (*template.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	filename := name + ".txt"

	if s.dir != "" {
		path := filepath.Join(s.dir, filename)
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			cached, ok := s.cache[name]
			if ok && cached.modTime.Equal(info.ModTime()) {
				return cached.tmpl, nil
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read prompt override %q: %w", path, err)
			}
			tmpl, err := template.New(filename).Parse(string(content))
			if err != nil {
				return nil, fmt.Errorf("failed to parse prompt override %q: %w", path, err)
			}
			s.cache[name] = &cachedPrompt{modTime: info.ModTime(), tmpl: tmpl}
			log.Debug().Str("prompt", name).Str("path", path).Msg("Loaded prompt override")
			return tmpl, nil
		}
	}

	cached, ok := s.cache[name]
	if ok && cached.modTime.IsZero() {
		return cached.tmpl, nil
	}

	content, err := defaultPrompts.ReadFile("prompts/" + filename)
	if err != nil {
		return nil, fmt.Errorf("unknown prompt %q: %w", name, err)
	}
	tmpl, err := template.New(filename).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded prompt %q: %w", name, err)
	}
	s.cache[name] = &cachedPrompt{tmpl: tmpl}
	return tmpl, nil
}
