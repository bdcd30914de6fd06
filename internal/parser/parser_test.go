package parser

import (
	"reflect"
	"testing"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\ntitle: Hello\ntags:\n  - go\n  - vault\n---\n# Hello\nBody text.\n")
	r := Parse(input)
	if r.Title != "Hello" {
		t.Errorf("title = %q, want %q", r.Title, "Hello")
	}
	if len(r.Tags) < 2 || r.Tags[0] != "go" || r.Tags[1] != "vault" {
		t.Errorf("tags = %v, want [go vault]", r.Tags)
	}
	if r.Body != "# Hello\nBody text.\n" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	input := []byte("# Just a heading\nSome text.\n")
	r := Parse(input)
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter, got %v", r.Frontmatter)
	}
	if r.Title != "Just a heading" {
		t.Errorf("title = %q, want %q", r.Title, "Just a heading")
	}
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	input := []byte("---\n: invalid: yaml: {{{\n---\nBody\n")
	r := Parse(input)
	// Invalid YAML falls back to treating everything as body.
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter on invalid YAML")
	}
	if r.Body == "Body\n" {
		t.Error("body should include the unparsed frontmatter block")
	}
}

func TestParse_ScalarTags(t *testing.T) {
	input := []byte("---\ntags: project, daily\n---\ntext\n")
	r := Parse(input)
	want := []string{"project", "daily"}
	if !reflect.DeepEqual(r.Tags, want) {
		t.Errorf("tags = %v, want %v", r.Tags, want)
	}
}

func TestExtractLinks_Basic(t *testing.T) {
	body := "See [[Note A]] and [[Note B|alias]].\nAlso [[Note A]] again."
	links := extractLinks(body)
	if len(links) != 2 {
		t.Fatalf("len(links) = %d, want 2", len(links))
	}
	if links[0] != "Note A" || links[1] != "Note B" {
		t.Errorf("links = %v", links)
	}
}

func TestExtractTags_BodyAndFrontmatter(t *testing.T) {
	fm := map[string]any{"tags": []any{"draft", "go"}}
	tags := extractTags("Inline #go and #project/alpha here.", fm)
	want := []string{"draft", "go", "project/alpha"}
	if !reflect.DeepEqual(tags, want) {
		t.Errorf("tags = %v, want %v", tags, want)
	}
}

func TestExtractHeadings_Order(t *testing.T) {
	body := "# One\ntext\n## Two\n### Three\nnot # a heading\n"
	got := extractHeadings(body)
	want := []string{"One", "Two", "Three"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("headings = %v, want %v", got, want)
	}
}

func TestParse_WordCount(t *testing.T) {
	r := Parse([]byte("---\ntitle: T\n---\none two three\nfour\n"))
	if r.WordCount != 4 {
		t.Errorf("word count = %d, want 4", r.WordCount)
	}
}

func TestDeriveTitle_NoCandidates(t *testing.T) {
	r := Parse([]byte("plain text without headings"))
	if r.Title != "" {
		t.Errorf("title = %q, want empty", r.Title)
	}
}
