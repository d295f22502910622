package actions

import (
	"sort"
	"sync"

	"github.com/digideskio/pallet/pkg/schema"
)

// RefSpec describes an action being registered.
type RefSpec struct {
	Name        string
	Kind        Kind
	Impls       map[string]ImplFn
	Generate    GeneratorFn
	ArgSchema   string // optional JSON Schema for the options-map argument
	Description string
}

// Registry is the thread-safe registry of action references. It exposes each
// action's execution kind and named implementations to the builder and the
// executor.
type Registry struct {
	mu   sync.RWMutex
	refs map[string]*Ref
	desc map[string]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		refs: make(map[string]*Ref),
		desc: make(map[string]string),
	}
}

// Register adds an action to the registry. Returns an error on duplicate
// names, missing implementations, or an invalid argument schema.
func (r *Registry) Register(spec RefSpec) (*Ref, error) {
	if spec.Name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "action name is empty")
	}
	if spec.Kind.Deferred() {
		if spec.Generate == nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"deferred action %q has no generator", spec.Name)
		}
	} else if len(spec.Impls) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"action %q has no implementations", spec.Name)
	}

	ref := &Ref{
		name:     spec.Name,
		kind:     spec.Kind,
		impls:    make(map[string]ImplFn, len(spec.Impls)),
		generate: spec.Generate,
	}
	for n, fn := range spec.Impls {
		ref.impls[n] = fn
	}

	if spec.ArgSchema != "" {
		as, err := compileArgSchema(spec.Name, spec.ArgSchema)
		if err != nil {
			return nil, err
		}
		ref.argSchema = as
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.refs[spec.Name]; exists {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "action %q already registered", spec.Name)
	}
	r.refs[spec.Name] = ref
	r.desc[spec.Name] = spec.Description
	return ref, nil
}

// Get retrieves an action by name.
func (r *Registry) Get(name string) (*Ref, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref, ok := r.refs[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "action %q not registered", name)
	}
	return ref, nil
}

// Has checks if an action is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.refs[name]
	return ok
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.refs)
}

// Info is a summary of a registered action for listing.
type Info struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Impls       int    `json:"impls"`
	Description string `json:"description,omitempty"`
}

// List returns info for all registered actions, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.refs))
	for name, ref := range r.refs {
		infos = append(infos, Info{
			Name:        name,
			Kind:        ref.kind.String(),
			Impls:       len(ref.impls),
			Description: r.desc[name],
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
