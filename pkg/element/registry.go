package element

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps type tags to variants
type Registry struct {
	mu       sync.RWMutex
	variants map[string]Variant
	disabled map[string]bool
}

// NewRegistry creates an empty registry. Disabled types can still be
// rendered but no new elements of those types can be created.
func NewRegistry(disabled ...string) *Registry {
	r := &Registry{
		variants: make(map[string]Variant),
		disabled: make(map[string]bool),
	}
	for _, t := range disabled {
		r.disabled[t] = true
	}
	return r
}

// DefaultRegistry returns a registry with every built-in variant
func DefaultRegistry(disabled ...string) *Registry {
	r := NewRegistry(disabled...)
	r.Register(NewTextVariant())
	r.Register(NewImageVariant())
	r.Register(NewDigitalSignatureVariant())
	r.Register(NewUserPictureVariant())
	r.Register(NewDateVariant())
	r.Register(NewCodeVariant())
	r.Register(NewQRCodeVariant())
	r.Register(NewCourseNameVariant())
	return r
}

// Register adds or replaces a variant
func (r *Registry) Register(v Variant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variants[v.Type()] = v
}

// Get returns the variant for a type tag, disabled or not
func (r *Registry) Get(elementType string) (Variant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.variants[elementType]
	if !ok {
		return nil, fmt.Errorf("unknown element type %q", elementType)
	}
	return v, nil
}

// Enabled reports whether new elements of the type may be created
func (r *Registry) Enabled(elementType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.variants[elementType]
	return ok && !r.disabled[elementType]
}

// Types lists the enabled type tags, sorted
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.variants))
	for t := range r.variants {
		if !r.disabled[t] {
			types = append(types, t)
		}
	}
	sort.Strings(types)
	return types
}

// TypeInfo describes an element type and its form
type TypeInfo struct {
	Type   string      `json:"type"`
	Fields []FormField `json:"fields"`
}

// Describe returns the form descriptors of every enabled type
func (r *Registry) Describe() []TypeInfo {
	types := r.Types()
	infos := make([]TypeInfo, 0, len(types))
	for _, t := range types {
		v, err := r.Get(t)
		if err != nil {
			continue
		}
		fields := append(CommonFormFields(), v.FormFields()...)
		infos = append(infos, TypeInfo{Type: t, Fields: fields})
	}
	return infos
}
