package provider

import (
	"context"
	"sort"
)

// Credentials is the opaque provider token taken from the request headers.
// The gateway never interprets it; adapters forward it verbatim to their
// upstream. Backends without an upstream (local storage) ignore it.
type Credentials struct {
	Token string
}

// Upload describes a file payload staged to local disk by the HTTP layer.
type Upload struct {
	// Path is the staged temporary file on local disk.
	Path     string
	Name     string
	MimeType string
	Size     int64
}

// UpdateBody carries the partially updatable fields of a resource. Content
// arrives separately as an Upload. Adapters apply whichever fields are
// present, in the order content, rename, move, timestamps.
type UpdateBody struct {
	// Name renames the resource in place.
	Name string
	// Path moves the resource into another folder (absolute logical path).
	Path string
	// Timestamps overwrite the provider's stored times when supported.
	CreatedAtTime    string
	LastModifiedTime string
}

// Empty reports whether no updatable field is present.
func (b UpdateBody) Empty() bool {
	return b.Name == "" && b.Path == "" && b.CreatedAtTime == "" && b.LastModifiedTime == ""
}

// ListResult is a filtered, ordered page of resources plus the opaque
// cursor for the next page ("" when the listing is exhausted).
type ListResult struct {
	Resources    []Resource
	NextSetToken string
}

// DataProvider is the uniform five-operation contract every storage
// backend implements. All operations validate their paths before any I/O,
// translate upstream failures into the taxonomy in errors.go, and produce
// fully populated Resources.
//
// Adapters are stateless: they hold configuration and an HTTP client, never
// per-request state, so a single instance serves concurrent requests.
type DataProvider interface {
	// ID returns the stable provider identifier used in request routing
	// and in Resource.Provider.
	ID() string

	// List returns the direct children of folderPath, with the filter and
	// sort from opts applied. An existing empty folder yields an empty
	// list, never an error. "/" addresses the provider's root.
	List(ctx context.Context, folderPath string, opts ListOptions, creds Credentials) (*ListResult, error)

	// Read returns the single resource at folderPath/fileName, with its
	// content URI derived per opts.ExportType.
	Read(ctx context.Context, folderPath, fileName string, opts ListOptions, creds Credentials) (*Resource, error)

	// Create stores a new file from upload at folderPath/fileName,
	// creating missing intermediate folders. Fails with ErrFileExists if
	// the path is already occupied and ErrMissingParameter without an
	// upload.
	Create(ctx context.Context, folderPath, fileName string, upload *Upload, creds Credentials) (*Resource, error)

	// Update applies the present fields of body and the optional new
	// content to an existing resource. Fails with ErrMissingParameter when
	// neither body fields nor content are supplied.
	Update(ctx context.Context, folderPath, fileName string, body UpdateBody, upload *Upload, creds Credentials) (*Resource, error)

	// Delete removes the file at folderPath/fileName, or the whole folder
	// when fileName is empty.
	Delete(ctx context.Context, folderPath, fileName string, creds Credentials) error
}

// Registry maps provider IDs to their adapter instances. Built once at
// startup; read-only afterwards.
type Registry struct {
	providers map[string]DataProvider
}

func NewRegistry(providers ...DataProvider) *Registry {
	m := make(map[string]DataProvider, len(providers))
	for _, p := range providers {
		m[p.ID()] = p
	}

	return &Registry{providers: m}
}

// Get resolves a provider ID from the request path. Unknown IDs are a
// client error, not an internal one.
func (r *Registry) Get(id string) (DataProvider, error) {
	p, ok := r.providers[id]
	if !ok {
		return nil, Errorf(ErrBadRequest, "unknown provider %q", id)
	}

	return p, nil
}

// IDs returns the registered provider IDs in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}
