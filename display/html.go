package display

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/teranos/compliq/compliance"
	"github.com/teranos/compliq/errors"
)

var page = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 52rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.5; }
h1 { border-bottom: 1px solid #ddd; padding-bottom: .3rem; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: .25rem .5rem; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// DefaultHTMLTitle is used when RenderHTML gets no title
const DefaultHTMLTitle = "Compliance Report"

// anchorIDs gives headings the same ids the table of contents links to
type anchorIDs struct {
	seen map[string]int
}

func (a *anchorIDs) Generate(value []byte, _ ast.NodeKind) []byte {
	id := compliance.Anchor(string(value))
	if id == "" {
		id = "section"
	}
	n := a.seen[id]
	a.seen[id] = n + 1
	if n > 0 {
		id = fmt.Sprintf("%s-%d", id, n)
	}
	return []byte(id)
}

func (a *anchorIDs) Put(value []byte) {
	a.seen[string(value)]++
}

// RenderHTML converts a Markdown report into a standalone HTML page
func RenderHTML(markdown, title string) ([]byte, error) {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	)

	var body bytes.Buffer
	ctx := parser.NewContext(parser.WithIDs(&anchorIDs{seen: make(map[string]int)}))
	if err := md.Convert([]byte(markdown), &body, parser.WithContext(ctx)); err != nil {
		return nil, errors.Wrap(err, "failed to render markdown")
	}

	if strings.TrimSpace(title) == "" {
		title = DefaultHTMLTitle
	}
	var out bytes.Buffer
	err := page.Execute(&out, struct {
		Title string
		Body  template.HTML
	}{Title: title, Body: template.HTML(body.String())})
	if err != nil {
		return nil, errors.Wrap(err, "failed to render report page")
	}
	return out.Bytes(), nil
}
