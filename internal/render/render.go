// Package render turns conversation paths into terminal output.
package render

import (
	"bytes"
	"fmt"
	"text/tabwriter"
	"text/template"

	"github.com/charmbracelet/glamour"

	"github.com/comigor/forkchat/internal/tree"
)

const shortIDLen = 8

const pathTemplate = `# {{ .Title }}
{{ range .Entries }}
### {{ .Speaker }} ` + "`{{ .ShortID }}`" + `{{ if .Flagged }} ★{{ end }}{{ if gt .Siblings 1 }} · branch {{ .Index }}/{{ .Siblings }}{{ end }}

{{ .Content }}
{{ if gt .Continuations 1 }}
> {{ .Continuations }} continuations from here
{{ end }}{{ end }}`

var pathTmpl = template.Must(template.New("path").Parse(pathTemplate))

type entry struct {
	Speaker       string
	ShortID       string
	Flagged       bool
	Index         int
	Siblings      int
	Continuations int
	Content       string
}

// Options configures a Renderer.
type Options struct {
	// Plain skips terminal styling and returns markdown.
	Plain bool
	// Style is a glamour standard style ("dark", "light", "notty"); empty
	// picks one from the terminal.
	Style string
	Width int
}

type Renderer struct {
	term *glamour.TermRenderer
}

func New(opts Options) (*Renderer, error) {
	if opts.Plain {
		return &Renderer{}, nil
	}
	width := opts.Width
	if width <= 0 {
		width = 80
	}
	style := glamour.WithAutoStyle()
	if opts.Style != "" {
		style = glamour.WithStandardStyle(opts.Style)
	}
	term, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return nil, err
	}
	return &Renderer{term: term}, nil
}

// Path renders path, normally the active path of t, with branch indicators:
// the position of every message among its siblings and the number of
// continuations below it.
func (r *Renderer) Path(title string, t *tree.Tree, path []*tree.Node) (string, error) {
	md, err := PathMarkdown(title, t, path)
	if err != nil {
		return "", err
	}
	return r.Markdown(md)
}

// Markdown styles md for the terminal, or returns it unchanged in plain mode.
func (r *Renderer) Markdown(md string) (string, error) {
	if r.term == nil {
		return md, nil
	}
	return r.term.Render(md)
}

// PathMarkdown is the unstyled form of Path.
func PathMarkdown(title string, t *tree.Tree, path []*tree.Node) (string, error) {
	data := struct {
		Title   string
		Entries []entry
	}{Title: title}

	for _, n := range path {
		e := entry{
			Speaker:       speaker(n.Role),
			ShortID:       ShortID(n.ID),
			Flagged:       n.Flagged,
			Continuations: len(n.Children),
			Content:       n.Content,
		}
		if n.IsRoot() {
			e.Content = "_" + n.Content + "_"
		} else if parent, ok := t.Node(n.ParentID); ok {
			e.Siblings = len(parent.Children)
			e.Index = indexOf(parent.Children, n.ID) + 1
		}
		data.Entries = append(data.Entries, e)
	}

	var buf bytes.Buffer
	if err := pathTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Nodes lists nodes one per line: short id, role, flag, continuations and a
// topic label.
func Nodes(nodes []*tree.Node) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tROLE\tFLAG\tNEXT\tLABEL")
	for _, n := range nodes {
		flag := ""
		if n.Flagged {
			flag = "★"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", ShortID(n.ID), n.Role, flag, len(n.Children), label(n))
	}
	w.Flush()
	return buf.String()
}

// ShortID is the prefix of id shown to users.
func ShortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

func label(n *tree.Node) string {
	if n.IsRoot() {
		return n.Content
	}
	return tree.LabelFor(n.Content)
}

func speaker(r tree.Role) string {
	switch r {
	case tree.RoleUser:
		return "You"
	case tree.RoleAssistant:
		return "Assistant"
	case tree.RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
