package domain

// ResourceKind is the category of backing record a document represents.
type ResourceKind string

const (
	ResourceProject  ResourceKind = "project"
	ResourceProposal ResourceKind = "proposal"
)

// KindSpec describes how one resource kind is authorized and persisted.
type KindSpec struct {
	// Claim names the credential claim holding the ids the principal may edit.
	Claim string
	// Persisted reports whether documents of this kind are loaded from and saved to the record store.
	Persisted bool
	// Collection is the record store path segment, e.g. "proposals".
	Collection string
	// Fields lists the content fields tracked in the document and pushed on save.
	Fields []string
	// Flags are written into document metadata when the document is first loaded.
	Flags map[string]any
}

var kinds = map[ResourceKind]KindSpec{
	ResourceProject: {
		Claim:      "editableProjects",
		Collection: "projects",
	},
	ResourceProposal: {
		Claim:      "editableProposals",
		Persisted:  true,
		Collection: "proposals",
		Fields:     []string{"actionMandate", "comment", "introduction", "reasoning"},
		Flags:      map[string]any{"autosave": true},
	},
}

// Valid reports whether k belongs to the closed set of resource kinds.
func (k ResourceKind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

// Spec returns the table entry for k.
func (k ResourceKind) Spec() (KindSpec, bool) {
	s, ok := kinds[k]
	return s, ok
}

// Persisted reports whether documents of kind k are backed by the record store.
func (k ResourceKind) Persisted() bool {
	return kinds[k].Persisted
}
