// Package browser provides hosts that run SSO login flows outside a GUI.
//
// HTTPHost is a headless browser: it follows redirects and submits forms
// itself, asking the flow's policy before every navigation. InteractiveHost
// opens the user's system browser and takes the final redirect from the
// user.
package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	ErrUnsupportedScript = errors.New("script not supported by host")
	ErrElementNotFound   = errors.New("element not found")
)

// field is a named form control.
type field struct {
	name  string
	value string
	typ   string
}

// form is an HTML form found on a page.
type form struct {
	action string
	method string
	fields []field
}

// values returns the successful controls of f keyed by name.
func (f form) values() map[string]string {
	out := make(map[string]string, len(f.fields))
	for _, fl := range f.fields {
		if fl.name == "" || fl.typ == "submit" || fl.typ == "button" {
			continue
		}
		out[fl.name] = fl.value
	}
	return out
}

// hiddenOnly reports whether f has no control a user would fill in.
func (f form) hiddenOnly() bool {
	hidden := 0
	for _, fl := range f.fields {
		switch fl.typ {
		case "hidden":
			hidden++
		case "submit", "button":
		default:
			return false
		}
	}
	return hidden > 0
}

// page is a parsed HTML document.
type page struct {
	url   *url.URL
	root  *html.Node
	forms []form
}

func parsePage(u *url.URL, body []byte) (*page, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	p := &page{url: u, root: root}
	p.forms = collectForms(root)
	return p, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// collectForms returns the forms of a page with their controls. A control
// belongs to the form it is nested in, or to the form its form attribute
// names. Parsing <form> inside a table leaves an empty form element and
// moves the controls out of it; such controls are assigned to that form
// when they appear later in the same table. Controls moved out of a form by
// other misnesting are not recovered.
func collectForms(root *html.Node) []form {
	var forms []form
	byID := make(map[string]int)

	type owned struct {
		owner string
		fl    field
	}
	var deferred []owned

	// orphan is the empty form left by table parsing, or -1.
	orphan := -1

	add := func(cur int, n *html.Node, fl field) {
		if owner := attr(n, "form"); owner != "" {
			deferred = append(deferred, owned{owner: owner, fl: fl})
			return
		}
		if cur < 0 {
			cur = orphan
		}
		if cur >= 0 {
			forms[cur].fields = append(forms[cur].fields, fl)
		}
	}

	var walk func(n *html.Node, cur int)
	walk = func(n *html.Node, cur int) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Table:
				saved := orphan
				defer func() { orphan = saved }()
			case atom.Form:
				forms = append(forms, form{
					action: attr(n, "action"),
					method: strings.ToUpper(attr(n, "method")),
				})
				cur = len(forms) - 1
				if id := attr(n, "id"); id != "" {
					if _, ok := byID[id]; !ok {
						byID[id] = cur
					}
				}
				if n.FirstChild == nil && inTable(n) {
					orphan = cur
				}
			case atom.Input:
				typ := strings.ToLower(attr(n, "type"))
				if typ == "" {
					typ = "text"
				}
				add(cur, n, field{name: attr(n, "name"), value: attr(n, "value"), typ: typ})
			case atom.Textarea:
				add(cur, n, field{name: attr(n, "name"), value: textContent(n), typ: "textarea"})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, cur)
		}
	}
	walk(root, -1)

	for _, d := range deferred {
		if i, ok := byID[d.owner]; ok {
			forms[i].fields = append(forms[i].fields, d.fl)
		}
	}
	return forms
}

func inTable(n *html.Node) bool {
	if n.Parent == nil {
		return false
	}
	switch n.Parent.DataAtom {
	case atom.Table, atom.Tbody, atom.Thead, atom.Tfoot, atom.Tr:
		return true
	}
	return false
}

func textContent(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

// inputValue returns the value of the first named control, optionally
// limited to controls inside a form.
func (p *page) inputValue(name string, inForm bool) (string, bool) {
	for _, f := range p.forms {
		for _, fl := range f.fields {
			if fl.name == name {
				return fl.value, true
			}
		}
	}
	if inForm {
		return "", false
	}

	var found *html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Input && attr(n, "name") == name {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(p.root)
	if found == nil {
		return "", false
	}
	return attr(found, "value"), true
}

// valueScript matches document.querySelector("<selector>").value where the
// selector names an input by its name attribute.
var valueScript = regexp.MustCompile(`^\s*document\.querySelector\(\s*(?:"((?:[^"\\]|\\.)*)"|'((?:[^'\\]|\\.)*)')\s*\)\.value\s*;?\s*$`)

var inputSelector = regexp.MustCompile(`^\s*(form\s+)?input\[\s*name\s*=\s*(?:"([^"]*)"|'([^']*)'|([\w-]+))\s*\]\s*$`)

// EvaluateScript supports reading an input's value with querySelector,
// which is all the login flows need.
func (p *page) EvaluateScript(_ context.Context, js string) (any, error) {
	m := valueScript.FindStringSubmatch(js)
	if m == nil {
		return nil, ErrUnsupportedScript
	}
	selector := m[1] + m[2]
	selector = strings.NewReplacer(`\"`, `"`, `\'`, `'`, `\\`, `\`).Replace(selector)

	s := inputSelector.FindStringSubmatch(selector)
	if s == nil {
		return nil, fmt.Errorf("%w: selector %q", ErrUnsupportedScript, selector)
	}
	name := s[2] + s[3] + s[4]

	v, ok := p.inputValue(name, s[1] != "")
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return v, nil
}
