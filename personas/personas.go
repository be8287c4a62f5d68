/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package personas

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"chainguard.dev/cyclescheduler/scheduler"
	"gopkg.in/yaml.v3"
)

// RenderData is the context prompt templates render against.
type RenderData struct {
	Owner    string
	Repo     string
	Branch   string
	Journals string
}

// Registry holds the loaded personas. Cycle is the ordered subset that
// participates in the rotation; All includes scheduled-only personas.
type Registry struct {
	All   []scheduler.PersonaConfig
	Cycle []scheduler.PersonaConfig
}

type registryFile struct {
	Cycle    []string `yaml:"cycle"`
	Personas []struct {
		ID       string `yaml:"id"`
		Title    string `yaml:"title"`
		Prompt   string `yaml:"prompt"`
		Schedule string `yaml:"schedule"`
	} `yaml:"personas"`
}

// LoadOption configures Load.
type LoadOption func(*loadConfig)

type loadConfig struct {
	journalDir   string
	journalLimit int
}

// WithJournals renders each persona's prompt with the newest limit
// journal entries from dir/<personaID>, overriding data.Journals.
func WithJournals(dir string, limit int) LoadOption {
	return func(c *loadConfig) {
		c.journalDir = dir
		c.journalLimit = limit
	}
}

// Load reads the registry YAML at path, renders every persona's prompt
// template against data, and returns the registry. Prompt paths are
// relative to the registry file.
func Load(path string, data RenderData, opts ...LoadOption) (*Registry, error) {
	var lc loadConfig
	for _, opt := range opts {
		opt(&lc)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading persona registry: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing persona registry %s: %w", path, err)
	}
	if len(file.Personas) == 0 {
		return nil, fmt.Errorf("persona registry %s declares no personas", path)
	}

	dir := filepath.Dir(path)
	byID := make(map[string]scheduler.PersonaConfig, len(file.Personas))
	reg := &Registry{}
	for _, p := range file.Personas {
		if p.ID == "" {
			return nil, fmt.Errorf("persona registry %s has a persona without an id", path)
		}
		if _, dup := byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate persona id %q", p.ID)
		}
		d := data
		if lc.journalDir != "" {
			d.Journals, err = CollectJournals(lc.journalDir, p.ID, lc.journalLimit)
			if err != nil {
				return nil, fmt.Errorf("persona %q: %w", p.ID, err)
			}
		}
		prompt, err := renderPrompt(filepath.Join(dir, p.Prompt), d)
		if err != nil {
			return nil, fmt.Errorf("persona %q: %w", p.ID, err)
		}
		cfg := scheduler.PersonaConfig{
			ID:       p.ID,
			Title:    p.Title,
			Prompt:   prompt,
			Schedule: p.Schedule,
		}
		byID[p.ID] = cfg
		reg.All = append(reg.All, cfg)
	}

	for i, id := range file.Cycle {
		cfg, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("cycle references unknown persona %q", id)
		}
		cfg.OrderIndex = i
		reg.Cycle = append(reg.Cycle, cfg)
	}
	if len(reg.Cycle) == 0 {
		// No explicit cycle: every persona participates, in file order.
		for i := range reg.All {
			reg.All[i].OrderIndex = i
		}
		reg.Cycle = reg.All
	}
	return reg, nil
}

func renderPrompt(path string, data RenderData) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading prompt: %w", err)
	}
	tmpl, err := template.New(filepath.Base(path)).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return "", fmt.Errorf("parsing prompt template: %w", err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("rendering prompt template: %w", err)
	}
	return sb.String(), nil
}

// CollectJournals concatenates the newest limit journal entries under
// dir/<personaID>, newest last so the most recent context reads last.
// A missing journal directory yields an empty string.
func CollectJournals(dir, personaID string, limit int) (string, error) {
	entries, err := filepath.Glob(filepath.Join(dir, personaID, "*.md"))
	if err != nil {
		return "", fmt.Errorf("globbing journals: %w", err)
	}
	sort.Strings(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	var sb strings.Builder
	for _, path := range entries {
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading journal %s: %w", path, err)
		}
		if sb.Len() > 0 {
			sb.WriteString("\n---\n")
		}
		sb.Write(raw)
	}
	return sb.String(), nil
}
