package htmldoc

import (
	"strings"

	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
)

// setStyleProperty returns style with prop set to value. Existing
// declarations keep their order; an unparsable style is replaced.
func setStyleProperty(style, prop, value string) string {
	decls, err := parser.ParseDeclarations(style)
	if err != nil {
		decls = nil
	}

	replaced := false
	out := make([]*css.Declaration, 0, len(decls)+1)
	for _, d := range decls {
		if strings.EqualFold(d.Property, prop) {
			if replaced {
				continue
			}
			d = &css.Declaration{Property: prop, Value: value}
			replaced = true
		}
		out = append(out, d)
	}
	if !replaced {
		out = append(out, &css.Declaration{Property: prop, Value: value})
	}

	parts := make([]string, 0, len(out))
	for _, d := range out {
		s := d.Property + ": " + d.Value
		if d.Important {
			s += " !important"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "; ")
}

// styleProperty returns the last value declared for prop in style.
func styleProperty(style, prop string) (string, bool) {
	decls, err := parser.ParseDeclarations(style)
	if err != nil {
		return "", false
	}
	var (
		val   string
		found bool
	)
	for _, d := range decls {
		if strings.EqualFold(d.Property, prop) {
			val, found = strings.TrimSpace(d.Value), true
		}
	}
	return val, found
}
