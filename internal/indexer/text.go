package indexer

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"github.com/kalambet/dqlgen/internal/knowledge"
)

const maxChunkChars = 1200

var blankLines = regexp.MustCompile(`\n\s*\n`)

func pdfText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var skipElements = map[string]bool{"script": true, "style": true, "noscript": true, "head": true, "template": true}

var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "br": true,
	"tr": true, "table": true, "pre": true, "blockquote": true, "dt": true, "dd": true,
}

// htmlText extracts visible text, separating block elements by blank lines.
func htmlText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if s := strings.Join(strings.Fields(n.Data), " "); s != "" {
				sb.WriteString(s)
				sb.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] {
			sb.WriteString("\n\n")
		}
	}
	walk(doc)
	return sb.String(), nil
}

// chunkText splits text into paragraphs and packs them into chunks of at
// most maxChars. A paragraph longer than maxChars is split on word
// boundaries.
func chunkText(text string, maxChars int) []string {
	var chunks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}
	add := func(p string) {
		if cur.Len() > 0 && cur.Len()+2+len(p) > maxChars {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	for _, para := range blankLines.Split(text, -1) {
		para = strings.Join(strings.Fields(para), " ")
		if para == "" {
			continue
		}
		if len(para) <= maxChars {
			add(para)
			continue
		}
		var line strings.Builder
		for _, w := range strings.Fields(para) {
			if line.Len() > 0 && line.Len()+1+len(w) > maxChars {
				add(line.String())
				flush()
				line.Reset()
			}
			if line.Len() > 0 {
				line.WriteByte(' ')
			}
			line.WriteString(w)
		}
		if line.Len() > 0 {
			add(line.String())
		}
	}
	flush()
	return chunks
}

func textItems(text, name, defaultType, provenance string) ([]knowledge.Item, error) {
	t := knowledge.TypeGuideline
	if defaultType != "" {
		var err error
		if t, err = knowledge.ParseType(defaultType); err != nil {
			return nil, err
		}
	}
	switch t {
	case knowledge.TypeSchema, knowledge.TypeExample, knowledge.TypeFeedbackPositive, knowledge.TypeFeedbackNegative:
		return nil, fmt.Errorf("%s items need structured fields and cannot be built from %s text", t, provenance)
	}

	chunks := chunkText(text, maxChunkChars)
	items := make([]knowledge.Item, 0, len(chunks))
	for _, c := range chunks {
		it := knowledge.Item{
			Type:       t,
			Payload:    knowledge.TextPayload{Title: name, Content: c},
			Provenance: provenance,
		}
		it.ID = contentID(it)
		items = append(items, it)
	}
	return items, nil
}
