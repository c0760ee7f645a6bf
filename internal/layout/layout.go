package layout

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"
)

type Kind string

const (
	KindView      Kind = "view"
	KindContainer Kind = "container"
)

// ViewWrapper is the built-in resizable frame a view is placed in.
const ViewWrapper = "View"

var ErrUnknownComponent = errors.New("unknown component type")

// Registry maps component names used in a layout tree to their kind.
type Registry struct {
	mu         sync.RWMutex
	components map[string]Kind
}

func NewRegistry() *Registry {
	return &Registry{components: map[string]Kind{}}
}

func (r *Registry) Register(name string, kind Kind) error {
	name = strings.TrimSpace(name)
	if name == "" || name == ViewWrapper {
		return fmt.Errorf("invalid component name %q", name)
	}
	if kind != KindView && kind != KindContainer {
		return fmt.Errorf("component %s: invalid kind %q", name, kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.components[name]; ok {
		return fmt.Errorf("component %s already registered", name)
	}
	r.components[name] = kind
	return nil
}

func (r *Registry) Lookup(name string) (Kind, bool) {
	if name == ViewWrapper {
		return KindContainer, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.components[name]
	return k, ok
}

// Node is one element of a layout tree.
type Node struct {
	Type     string         `yaml:"type" json:"type"`
	Props    map[string]any `yaml:"props,omitempty" json:"props,omitempty"`
	Children []Node         `yaml:"children,omitempty" json:"children,omitempty"`
}

func Parse(b []byte) (Node, error) {
	var n Node
	if err := yaml.Unmarshal(b, &n); err != nil {
		return Node{}, fmt.Errorf("parse layout: %w", err)
	}
	if n.Type == "" {
		return Node{}, errors.New("parse layout: root type required")
	}
	return n, nil
}

func LoadFile(path string) (Node, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Node{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(b)
}

// Default is a column Flexbox holding one resizable View with the depth table.
func Default(component string) Node {
	return Node{
		Type:  "Flexbox",
		Props: map[string]any{"style": map[string]any{"flexDirection": "column"}},
		Children: []Node{{
			Type: ViewWrapper,
			Props: map[string]any{
				"resizeable": true,
				"style":      map[string]any{"flexBasis": 0, "flexGrow": 1, "flexShrink": 1, "height": "auto", "width": "auto"},
			},
			Children: []Node{{Type: component}},
		}},
	}
}

// Validate checks every node is registered and that views have no children.
func (r *Registry) Validate(n Node) error {
	kind, ok := r.Lookup(n.Type)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownComponent, n.Type)
	}
	if kind == KindView && len(n.Children) > 0 {
		return fmt.Errorf("view %s cannot have children", n.Type)
	}
	for _, c := range n.Children {
		if err := r.Validate(c); err != nil {
			return err
		}
	}
	return nil
}

// Mount renders the tree as nested elements. Views become empty
// data-component mount points the browser fills in.
func (r *Registry) Mount(n Node) (template.HTML, error) {
	if err := r.Validate(n); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	r.mount(&buf, n)
	return template.HTML(buf.String()), nil
}

func (r *Registry) mount(buf *bytes.Buffer, n Node) {
	kind, _ := r.Lookup(n.Type)
	class := strings.ToLower(n.Type)
	style := styleAttr(n.Props)
	if kind == KindView {
		fmt.Fprintf(buf, `<div class="component" data-component="%s"%s></div>`, template.HTMLEscapeString(n.Type), style)
		return
	}
	fmt.Fprintf(buf, `<div class="%s"%s>`, template.HTMLEscapeString(class), style)
	for _, c := range n.Children {
		r.mount(buf, c)
	}
	buf.WriteString(`</div>`)
}

func styleAttr(props map[string]any) string {
	style, _ := props["style"].(map[string]any)
	if len(style) == 0 {
		return ""
	}
	keys := make([]string, 0, len(style))
	for k := range style {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, kebab(k)+": "+cssValue(k, style[k]))
	}
	return ` style="` + template.HTMLEscapeString(strings.Join(parts, "; ")) + `"`
}

// unitless properties take bare numbers; everything else numeric is pixels.
var unitless = map[string]bool{"flexGrow": true, "flexShrink": true, "opacity": true, "zIndex": true, "order": true}

func cssValue(prop string, v any) string {
	switch x := v.(type) {
	case int:
		return number(prop, float64(x))
	case float64:
		return number(prop, x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func number(prop string, f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if unitless[prop] || f == 0 {
		return s
	}
	return s + "px"
}

// kebab turns "flexDirection" into "flex-direction".
func kebab(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsUpper(r) {
			b.WriteByte('-')
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
