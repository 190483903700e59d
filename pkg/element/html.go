package element

import (
	"fmt"
	"io/fs"
	"strings"

	"github.com/flosch/pongo2/v6"
)

// emptyFS backs the text template set so that no template can load another.
type emptyFS struct{}

func (emptyFS) Open(name string) (fs.File, error) {
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

var textSet = newTextSet()

func newTextSet() *pongo2.TemplateSet {
	set := pongo2.NewSet("element-text", pongo2.NewFSLoader(emptyFS{}))
	for _, tag := range []string{"include", "ssi", "import", "extends"} {
		if err := set.BanTag(tag); err != nil {
			panic(err)
		}
	}
	return set
}

// CompileText checks that user supplied text is a valid placeholder template
func CompileText(text string) error {
	_, err := textSet.FromString(wrapRaw(text))
	return err
}

// RenderText substitutes the placeholders of user supplied text. The result
// is plain text; HTML escaping is applied later by the markup templates.
func RenderText(text string, rc *RenderContext) (string, error) {
	tpl, err := textSet.FromString(wrapRaw(text))
	if err != nil {
		return "", fmt.Errorf("failed to parse text: %w", err)
	}
	out, err := tpl.Execute(placeholderContext(rc))
	if err != nil {
		return "", fmt.Errorf("failed to render text: %w", err)
	}
	return out, nil
}

func wrapRaw(text string) string {
	return "{% autoescape off %}" + text + "{% endautoescape %}"
}

func placeholderContext(rc *RenderContext) pongo2.Context {
	code := rc.Code()
	issue := map[string]interface{}{
		"code":       code,
		"verify_url": rc.Links.VerifyURL(code),
		"url":        rc.Links.IssuePDFURL(code),
	}
	if rc.Issue != nil && !rc.Preview {
		issue["issued"] = rc.Issue.CreatedAt
		issue["expires"] = rc.Issue.ExpiresAt
	}

	data := rc.IssueData()
	if data == nil {
		data = map[string]interface{}{}
	}

	return pongo2.Context{
		"user":     map[string]interface{}{"fullname": rc.UserFullName()},
		"issue":    issue,
		"template": map[string]interface{}{"name": rc.TemplateName()},
		"data":     data,
		"preview":  rc.Preview,
	}
}

// Markup templates use the default set, which escapes variables.
var (
	spanHTML = pongo2.Must(pongo2.FromString(
		`<span class="element element-{{ type }}" style="font-family: {{ style.Font }}; font-size: {{ style.FontSize }}pt; color: {{ style.Colour }};{% if style.Width %} width: {{ style.Width }}mm; display: inline-block;{% endif %} text-align: {{ align }};">{{ text|escape|linebreaksbr|safe }}</span>`))

	imgHTML = pongo2.Must(pongo2.FromString(
		`<img class="element element-{{ type }}" src="{{ src }}" alt="{{ alt }}"{% if width %} style="width: {{ width }}mm;{% if height %} height: {{ height }}mm;{% endif %}"{% endif %}>{% if caption %}<div class="element-caption">{{ caption }}</div>{% endif %}`))
)

func styledSpan(elementType, text string, style TextStyle) (string, error) {
	return spanHTML.Execute(pongo2.Context{
		"type":  elementType,
		"text":  text,
		"style": style,
		"align": alignCSS(style.Align),
	})
}

func imageTag(elementType, src, alt string, width, height float64, caption string) (string, error) {
	if src == "" {
		return "", nil
	}
	return imgHTML.Execute(pongo2.Context{
		"type":    elementType,
		"src":     src,
		"alt":     alt,
		"width":   width,
		"height":  height,
		"caption": caption,
	})
}

func alignCSS(align string) string {
	switch strings.ToUpper(align) {
	case "C":
		return "center"
	case "R":
		return "right"
	default:
		return "left"
	}
}
