package document

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"collab-realtime/backend/internal/session/domain"
)

// createTimeout bounds a document's creation hook independently of any single acquirer.
const createTimeout = 30 * time.Second

// CreateFunc populates a freshly created document before any peer sees it.
// A returned error aborts the acquire and the document is discarded.
type CreateFunc func(ctx context.Context, doc *Document, session domain.Context) error

// Registry owns the live documents, one per document name. Documents are created on first
// Acquire and dropped once the last holder releases them.
type Registry struct {
	onCreate CreateFunc
	onChange ChangeFunc

	mu    sync.Mutex
	docs  map[string]*Document
	group singleflight.Group
}

// NewRegistry returns an empty registry. Either hook may be nil.
func NewRegistry(onCreate CreateFunc, onChange ChangeFunc) *Registry {
	return &Registry{
		onCreate: onCreate,
		onChange: onChange,
		docs:     make(map[string]*Document),
	}
}

// Acquire returns the document for session, creating and populating it if needed. Concurrent
// first acquirers of one name share a single creation. Each successful Acquire must be paired
// with a Release.
func (r *Registry) Acquire(ctx context.Context, session domain.Context) (*Document, error) {
	name := session.DocumentName()
	for {
		r.mu.Lock()
		if doc, ok := r.docs[name]; ok {
			doc.refs++
			r.mu.Unlock()
			return doc, nil
		}
		r.mu.Unlock()

		_, err, _ := r.group.Do(name, func() (any, error) {
			r.mu.Lock()
			existing, ok := r.docs[name]
			r.mu.Unlock()
			if ok {
				return existing, nil
			}
			doc := New(name, r.onChange)
			if r.onCreate != nil {
				// Joiners share this creation, so it must not end with the first caller's request.
				createCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), createTimeout)
				err := r.onCreate(createCtx, doc, session)
				cancel()
				if err != nil {
					return nil, err
				}
			}
			r.mu.Lock()
			r.docs[name] = doc
			r.mu.Unlock()
			return doc, nil
		})
		if err != nil {
			return nil, err
		}
		// Loop to take a reference under the lock; the document may already have been
		// released by a racing holder, in which case it is created again.
	}
}

// Release drops one reference. The last release removes the document from the registry.
func (r *Registry) Release(doc *Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if doc.refs > 0 {
		doc.refs--
	}
	if doc.refs == 0 && r.docs[doc.name] == doc {
		delete(r.docs, doc.name)
	}
}

// Get returns the live document with name.
func (r *Registry) Get(name string) (*Document, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[name]
	return doc, ok
}

// Len returns the number of live documents.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}

// CloseAll closes every attached peer of every live document.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	docs := make([]*Document, 0, len(r.docs))
	for _, doc := range r.docs {
		docs = append(docs, doc)
	}
	r.mu.Unlock()
	for _, doc := range docs {
		for _, p := range doc.Connections() {
			p.Close()
		}
	}
}
