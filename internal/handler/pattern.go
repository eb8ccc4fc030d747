package handler

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/poacher-dev/poacher/internal/types"
)

// CredentialPattern matches assignments of things that look like
// passwords or access tokens.
const CredentialPattern = `(password|passwd|accesskey|access_key|accesstok|access_tok|accesstoken|access_token)\s*(=|:=)\s*("|')?[A-Za-z0-9+/\-&@!]+("|')?`

// DefaultExcludeDirs are never searched.
var DefaultExcludeDirs = []string{".git", "node_modules", "vendor"}

// defaultMaxFileBytes bounds how much of a single file is scanned.
const defaultMaxFileBytes = 1 << 20

// PatternRule is one regex searched across a working copy.
type PatternRule struct {
	Name        string   `yaml:"name"`
	Regex       string   `yaml:"regex"`
	FilePattern string   `yaml:"file_pattern,omitempty"`
	ExcludeDirs []string `yaml:"exclude_dirs,omitempty"`
}

// PatternConfig is the YAML form of a pattern handler:
//
//	name: aws-keys
//	max_file_bytes: 524288
//	patterns:
//	  - name: access-key-id
//	    regex: 'AKIA[0-9A-Z]{16}'
//	    exclude_dirs: [testdata]
type PatternConfig struct {
	Name         string        `yaml:"name"`
	MaxFileBytes int64         `yaml:"max_file_bytes,omitempty"`
	Patterns     []PatternRule `yaml:"patterns"`
}

// Validate checks that the config describes a usable handler.
func (c *PatternConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("pattern handler name is required")
	}
	if len(c.Patterns) == 0 {
		return fmt.Errorf("pattern handler %s has no patterns", c.Name)
	}
	for i, p := range c.Patterns {
		if p.Regex == "" {
			return fmt.Errorf("pattern %d of %s has no regex", i, c.Name)
		}
		if _, err := regexp.Compile(p.Regex); err != nil {
			return fmt.Errorf("pattern %d of %s: invalid regex: %w", i, c.Name, err)
		}
		if p.FilePattern != "" {
			if _, err := filepath.Match(p.FilePattern, ""); err != nil {
				return fmt.Errorf("pattern %d of %s: invalid file_pattern: %w", i, c.Name, err)
			}
		}
	}
	return nil
}

type compiledRule struct {
	PatternRule
	re *regexp.Regexp
}

// Pattern searches every text file of a working copy for a set of regexes
// and matches when any of them hits.
type Pattern struct {
	name     string
	maxBytes int64
	rules    []compiledRule
}

// NewPattern compiles cfg into a handler.
func NewPattern(cfg PatternConfig) (*Pattern, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pattern{name: cfg.Name, maxBytes: cfg.MaxFileBytes}
	if p.maxBytes <= 0 {
		p.maxBytes = defaultMaxFileBytes
	}
	for _, r := range cfg.Patterns {
		if r.ExcludeDirs == nil {
			r.ExcludeDirs = DefaultExcludeDirs
		}
		p.rules = append(p.rules, compiledRule{PatternRule: r, re: regexp.MustCompile(r.Regex)})
	}
	return p, nil
}

// LoadPatternFile reads a YAML pattern handler definition.
func LoadPatternFile(path string) (*Pattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pattern handler %s: %w", path, err)
	}
	var cfg PatternConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing pattern handler %s: %w", path, err)
	}
	h, err := NewPattern(cfg)
	if err != nil {
		return nil, fmt.Errorf("pattern handler %s: %w", path, err)
	}
	return h, nil
}

// NewSecrets returns the builtin credential scanner.
func NewSecrets() *Pattern {
	h, err := NewPattern(PatternConfig{
		Name:     "secrets",
		Patterns: []PatternRule{{Name: "credential-assignment", Regex: CredentialPattern}},
	})
	if err != nil {
		panic(err)
	}
	return h
}

// Name implements Handler.
func (p *Pattern) Name() string { return p.name }

// Run implements Handler. Without a working copy there is nothing to
// search and the repository never matches.
func (p *Pattern) Run(ctx context.Context, localPath string, repo *types.Repository, log LogSink) (bool, error) {
	if localPath == "" {
		return false, nil
	}
	matches, err := p.Find(ctx, localPath)
	if err != nil {
		return false, err
	}
	for _, m := range matches {
		log.Log("Found match in file %s: %s", m.File, m.Text)
	}
	return len(matches) > 0, nil
}

// Match is one regex hit.
type Match struct {
	Rule string
	File string // relative to the working copy root
	Line int    // 1-indexed
	Text string
}

// Find returns every match under root in walk order.
func (p *Pattern) Find(ctx context.Context, root string) ([]Match, error) {
	var matches []Match

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && p.excludedEverywhere(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		rules := p.rulesFor(rel)
		if len(rules) == 0 {
			return nil
		}

		found, err := p.searchFile(path, rel, rules)
		if err != nil {
			// Unreadable files are skipped.
			return nil
		}
		matches = append(matches, found...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", root, err)
	}
	return matches, nil
}

// excludedEverywhere reports whether every rule excludes dir, which is the
// only case where the walk can skip it entirely.
func (p *Pattern) excludedEverywhere(dir string) bool {
	for _, r := range p.rules {
		if !slices.Contains(r.ExcludeDirs, dir) {
			return false
		}
	}
	return true
}

func (p *Pattern) rulesFor(rel string) []compiledRule {
	dirs := splitDirs(filepath.Dir(rel))
	base := filepath.Base(rel)

	var out []compiledRule
	for _, r := range p.rules {
		if r.FilePattern != "" {
			if ok, _ := filepath.Match(r.FilePattern, base); !ok {
				continue
			}
		}
		excluded := false
		for _, d := range dirs {
			if slices.Contains(r.ExcludeDirs, d) {
				excluded = true
				break
			}
		}
		if !excluded {
			out = append(out, r)
		}
	}
	return out
}

func (p *Pattern) searchFile(path, rel string, rules []compiledRule) ([]Match, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, p.maxBytes))
	if err != nil {
		return nil, err
	}
	if isBinary(data) {
		return nil, nil
	}

	var matches []Match
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), int(p.maxBytes)+1)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		for _, r := range rules {
			for _, hit := range r.re.FindAllString(line, -1) {
				matches = append(matches, Match{Rule: r.Name, File: rel, Line: lineNum, Text: hit})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return matches, nil
}

// isBinary uses the same heuristic as git: a NUL byte in the first 8000
// bytes.
func isBinary(data []byte) bool {
	if len(data) > 8000 {
		data = data[:8000]
	}
	return bytes.IndexByte(data, 0) >= 0
}

func splitDirs(dir string) []string {
	if dir == "." || dir == "" {
		return nil
	}
	var parts []string
	for dir != "." && dir != string(filepath.Separator) && dir != "" {
		parts = append(parts, filepath.Base(dir))
		dir = filepath.Dir(dir)
	}
	return parts
}
