package markdown

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/forPelevin/scriptreel/internal/types"
)

type frontmatter struct {
	Title          string `yaml:"title"`
	DemoURL        string `yaml:"demo_url"`
	Voice          string `yaml:"voice"`
	WordsPerMinute int    `yaml:"words_per_minute"`
}

// Parser reads markdown (or HTML) scripts. Every "##" heading opens a scene.
type Parser struct {
	conv *md.Converter
}

func New() *Parser {
	return &Parser{conv: md.NewConverter("", true, nil)}
}

func (p *Parser) Parse(ctx context.Context, path string) (types.Script, error) {
	if err := ctx.Err(); err != nil {
		return types.Script{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return types.Script{}, errors.Wrap(err, "read script")
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return types.Script{}, errors.Errorf("script %s is empty", path)
	}

	text := string(b)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		text, err = p.conv.ConvertString(text)
		if err != nil {
			return types.Script{}, errors.Wrap(err, "convert html script")
		}
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	fm, body, err := splitFrontmatter(text)
	if err != nil {
		return types.Script{}, err
	}

	docTitle, scenes := parseScenes(body)
	s := types.Script{
		Path:           path,
		Title:          strings.TrimSpace(fm.Title),
		DemoURL:        strings.TrimSpace(fm.DemoURL),
		Voice:          strings.TrimSpace(fm.Voice),
		WordsPerMinute: fm.WordsPerMinute,
		Scenes:         scenes,
	}
	if s.Title == "" {
		s.Title = docTitle
	}
	if s.Title == "" {
		s.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	for i := range s.Scenes {
		s.Scenes[i].Voice = s.Voice
	}
	return s, nil
}

func splitFrontmatter(text string) (frontmatter, string, error) {
	var fm frontmatter
	if !strings.HasPrefix(text, "---\n") {
		return fm, text, nil
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		// unterminated block is treated as body
		return fm, text, nil
	}
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return fm, "", errors.Wrap(err, "parse frontmatter")
	}
	body := rest[end+len("\n---"):]
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}
	return fm, body, nil
}

var (
	sceneNumberRe = regexp.MustCompile(`(?i)^scene\s+\d+\s*[:.\-]\s*`)
	imageRe       = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	linkRe        = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	listRe        = regexp.MustCompile(`^(\s*[-*+]\s+|\s*\d+[.)]\s+)`)
	emphasisRe    = regexp.MustCompile("(\\*\\*|__|\\*|`)")
	htmlTagRe     = regexp.MustCompile(`<[^>]+>`)
)

type sceneBuilder struct {
	scene     types.Scene
	narration []string
}

func (b *sceneBuilder) build() types.Scene {
	sc := b.scene
	sc.Narration = strings.Join(strings.Fields(strings.Join(b.narration, " ")), " ")
	return sc
}

// parseScenes returns the first "#" heading and the scenes with narration,
// numbered from 1.
func parseScenes(body string) (string, []types.Scene) {
	var (
		docTitle   string
		preamble   sceneBuilder
		cur        *sceneBuilder
		built      []*sceneBuilder
		inFence    bool
		fenceLang  string
		fenceLines []string
	)
	target := func() *sceneBuilder {
		if cur != nil {
			return cur
		}
		return &preamble
	}

	for _, raw := range strings.Split(body, "\n") {
		line := strings.TrimRight(raw, " \t")
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			if !inFence {
				inFence = true
				fenceLang = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(trimmed, "```")))
				fenceLines = fenceLines[:0]
				continue
			}
			inFence = false
			if fenceLang == "mermaid" {
				t := target()
				if t.scene.Diagram == "" {
					t.scene.Diagram = strings.TrimSpace(strings.Join(fenceLines, "\n"))
				}
			}
			continue
		}
		if inFence {
			fenceLines = append(fenceLines, line)
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, "## "):
			cur = &sceneBuilder{}
			cur.scene.Title = sceneNumberRe.ReplaceAllString(stripInline(trimmed[3:]), "")
			built = append(built, cur)
			continue
		case strings.HasPrefix(trimmed, "# "):
			if docTitle == "" {
				docTitle = stripInline(trimmed[2:])
			}
			continue
		case strings.HasPrefix(trimmed, "#"), strings.HasPrefix(trimmed, "<!--"), trimmed == "---":
			continue
		}

		plain := stripInline(trimmed)
		if v, ok := directive(plain, "demo"); ok {
			target().scene.Demo = v
			continue
		}
		if v, ok := directive(plain, "visual"); ok {
			target().scene.VisualHint = v
			continue
		}
		if plain != "" {
			t := target()
			t.narration = append(t.narration, plain)
		}
	}

	if len(built) == 0 {
		preamble.scene.Title = docTitle
		built = []*sceneBuilder{&preamble}
	}

	var scenes []types.Scene
	for _, b := range built {
		sc := b.build()
		if sc.Narration == "" {
			continue
		}
		sc.Index = len(scenes) + 1
		scenes = append(scenes, sc)
	}
	return docTitle, scenes
}

func directive(line, name string) (string, bool) {
	i := strings.IndexByte(line, ':')
	if i <= 0 || !strings.EqualFold(strings.TrimSpace(line[:i]), name) {
		return "", false
	}
	return strings.TrimSpace(line[i+1:]), true
}

func stripInline(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "> ")
	s = listRe.ReplaceAllString(s, "")
	s = imageRe.ReplaceAllString(s, "")
	s = linkRe.ReplaceAllString(s, "$1")
	s = htmlTagRe.ReplaceAllString(s, "")
	s = emphasisRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
