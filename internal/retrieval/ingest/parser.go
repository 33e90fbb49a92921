package ingest

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/todomyday/recall/internal/retrieval/rerr"
)

// Parser turns an uploaded file into ordered text sections. File-format
// parsing beyond plain text and markdown belongs to the application; only
// the section sequence matters downstream.
type Parser interface {
	Validate(filename string, size int64) error
	Parse(filename string, content []byte) ([]Section, error)
}

// FileParser handles .txt and .md uploads: a text file is one section, a
// markdown file is split on its top-level (# and ##) headings.
type FileParser struct {
	MaxFileSize int64
}

// headingRe matches # or ## headings, not ### and deeper.
var headingRe = regexp.MustCompile(`(?m)^(#{1,2})\s+(.+)$`)

func (p *FileParser) maxSize() int64 {
	if p.MaxFileSize > 0 {
		return p.MaxFileSize
	}
	return 5 * 1024 * 1024
}

func (p *FileParser) Validate(filename string, size int64) error {
	if size > p.maxSize() {
		return rerr.Validation("file exceeds %d byte limit", p.maxSize())
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md":
		return nil
	default:
		return rerr.Validation("only .txt and .md files allowed")
	}
}

func (p *FileParser) Parse(filename string, content []byte) ([]Section, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt":
		return parseText(filename, content)
	case ".md":
		return parseMarkdown(filename, content)
	default:
		return nil, rerr.Validation("only .txt and .md files allowed")
	}
}

// parseText treats the entire file as a single section.
func parseText(filename string, content []byte) ([]Section, error) {
	text := strings.TrimSpace(string(content))
	if text == "" {
		return nil, rerr.Validation("file is empty")
	}
	return []Section{{Heading: filename, Content: text}}, nil
}

// parseMarkdown splits on # and ## headings, keeping file order. A file
// without headings becomes a single section.
func parseMarkdown(filename string, content []byte) ([]Section, error) {
	text := string(content)
	matches := headingRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil, rerr.Validation("file is empty")
		}
		return []Section{{Heading: filename, Content: trimmed}}, nil
	}

	var sections []Section
	for i, match := range matches {
		heading := text[match[4]:match[5]]
		bodyStart := match[1]
		if bodyStart < len(text) && text[bodyStart] == '\n' {
			bodyStart++
		}
		bodyEnd := len(text)
		if i < len(matches)-1 {
			bodyEnd = matches[i+1][0]
		}
		body := strings.TrimSpace(text[bodyStart:bodyEnd])
		if body == "" {
			continue
		}
		sections = append(sections, Section{Heading: heading, Content: body, Order: i})
	}
	if len(sections) == 0 {
		return nil, rerr.Validation("file contains no content")
	}
	return sections, nil
}
