package httpapi

import (
	"errors"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dabbu-knowledge-platform/files-api-server/internal/provider"
)

// maxUploadMemory caps the in-memory portion of multipart parsing; larger
// payloads spill to disk via the standard library before being staged.
const maxUploadMemory = 32 << 20

// pathParam returns a URL-decoded route parameter. Logical paths travel
// as single URL-encoded segments ("%2F" for the slashes inside them).
func pathParam(r *http.Request, name string) (string, error) {
	raw := chi.URLParam(r, name)

	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", provider.Errorf(provider.ErrBadRequest, "parameter %q is not valid URL encoding", name)
	}

	return decoded, nil
}

// dataProvider resolves the adapter addressed by the request.
func (s *Server) dataProvider(r *http.Request) (provider.DataProvider, error) {
	return s.registry.Get(chi.URLParam(r, "providerID"))
}

// parseListOptions builds the filter/sort/pagination options from the
// query string.
func parseListOptions(r *http.Request) provider.ListOptions {
	q := r.URL.Query()

	limit, _ := strconv.Atoi(q.Get("limit"))

	return provider.ListOptions{
		CompareWith:  q.Get("compareWith"),
		Operator:     q.Get("operator"),
		Value:        q.Get("value"),
		OrderBy:      q.Get("orderBy"),
		Direction:    q.Get("direction"),
		ExportType:   q.Get("exportType"),
		NextSetToken: q.Get("nextSetToken"),
		Limit:        limit,
	}
}

// ListHandler serves GET /data/{providerID}/{folderPath}.
func (s *Server) ListHandler(w http.ResponseWriter, r *http.Request) {
	p, err := s.dataProvider(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	folderPath, err := pathParam(r, "folderPath")
	if err != nil {
		s.respondError(w, err)
		return
	}

	result, err := p.List(r.Context(), folderPath, parseListOptions(r), providerCredentials(r))
	if err != nil {
		s.respondError(w, err)
		return
	}

	// An empty folder is an empty array on the wire, not null.
	resources := result.Resources
	if resources == nil {
		resources = []provider.Resource{}
	}

	s.respond(w, http.StatusOK, resources, result.NextSetToken)
}

// ReadHandler serves GET /data/{providerID}/{folderPath}/{fileName}.
func (s *Server) ReadHandler(w http.ResponseWriter, r *http.Request) {
	p, err := s.dataProvider(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	folderPath, fileName, err := filePathParams(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	resource, err := p.Read(r.Context(), folderPath, fileName, parseListOptions(r), providerCredentials(r))
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respond(w, http.StatusOK, resource, "")
}

// CreateHandler serves POST /data/{providerID}/{folderPath}/{fileName}
// with a multipart "content" file field.
func (s *Server) CreateHandler(w http.ResponseWriter, r *http.Request) {
	p, err := s.dataProvider(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	folderPath, fileName, err := filePathParams(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	upload, cleanup, err := s.stageUpload(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	defer cleanup()

	resource, err := p.Create(r.Context(), folderPath, fileName, upload, providerCredentials(r))
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.publishEvent(p.ID(), resource.Path, "create")
	s.respond(w, http.StatusCreated, resource, "")
}

// UpdateHandler serves PUT /data/{providerID}/{folderPath}/{fileName}.
// Content, name, path, and timestamps are all optional; at least one must
// be present.
func (s *Server) UpdateHandler(w http.ResponseWriter, r *http.Request) {
	p, err := s.dataProvider(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	folderPath, fileName, err := filePathParams(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	upload, cleanup, err := s.stageUpload(r)
	if err != nil && !errors.Is(err, provider.ErrMissingParameter) {
		s.respondError(w, err)
		return
	}
	defer cleanup()

	body := provider.UpdateBody{
		Name:             r.FormValue("name"),
		Path:             r.FormValue("path"),
		CreatedAtTime:    r.FormValue("createdAtTime"),
		LastModifiedTime: r.FormValue("lastModifiedTime"),
	}

	resource, err := p.Update(r.Context(), folderPath, fileName, body, upload, providerCredentials(r))
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.publishEvent(p.ID(), resource.Path, "update")
	s.respond(w, http.StatusOK, resource, "")
}

// DeleteHandler serves DELETE for both folder and file paths; fileName is
// empty for folder deletes.
func (s *Server) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	p, err := s.dataProvider(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	folderPath, err := pathParam(r, "folderPath")
	if err != nil {
		s.respondError(w, err)
		return
	}

	fileName := ""

	if chi.URLParam(r, "fileName") != "" {
		if _, fileName, err = filePathParams(r); err != nil {
			s.respondError(w, err)
			return
		}
	}

	if err := p.Delete(r.Context(), folderPath, fileName, providerCredentials(r)); err != nil {
		s.respondError(w, err)
		return
	}

	logical := folderPath
	if fileName != "" {
		logical = folderPath + "/" + fileName
	}

	s.publishEvent(p.ID(), logical, "delete")
	s.respond(w, http.StatusOK, nil, "")
}

// ProvidersHandler lists the enabled provider IDs.
func (s *Server) ProvidersHandler(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, s.registry.IDs(), "")
}

// CacheHandler streams a generated artifact back by its cache-relative
// path.
func (s *Server) CacheHandler(w http.ResponseWriter, r *http.Request) {
	rel, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil {
		s.respondError(w, provider.NewError(provider.ErrBadRequest, "cache path is not valid URL encoding"))
		return
	}

	f, info, err := s.cache.Open(rel)
	if err != nil {
		s.respondError(w, err)
		return
	}
	defer f.Close()

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// RegisterClientHandler issues a new client ID and secret. The secret is
// returned exactly once.
func (s *Server) RegisterClientHandler(w http.ResponseWriter, r *http.Request) {
	id, secret, err := s.keys.Register(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respond(w, http.StatusCreated, map[string]string{
		"id":     id,
		"apiKey": secret,
	}, "")
}

// RevokeClientHandler removes the authenticated client. Clients can only
// revoke themselves.
func (s *Server) RevokeClientHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "clientID")

	if id != clientFromContext(r.Context()) {
		s.respondErrorTag(w, http.StatusUnauthorized, reasonInvalidClient,
			"clients can only revoke their own credentials")
		return
	}

	if err := s.keys.Revoke(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}

	s.respond(w, http.StatusOK, nil, "")
}

// filePathParams decodes the folder path and file name route parameters.
func filePathParams(r *http.Request) (folderPath, fileName string, err error) {
	if folderPath, err = pathParam(r, "folderPath"); err != nil {
		return "", "", err
	}

	if fileName, err = pathParam(r, "fileName"); err != nil {
		return "", "", err
	}

	return folderPath, fileName, nil
}

// stageUpload spools the multipart "content" file to local disk and
// describes it for the adapter. Requests without a payload return
// ErrMissingParameter and a no-op cleanup; Update treats that as "no new
// content" while Create surfaces it.
func (s *Server) stageUpload(r *http.Request) (*provider.Upload, func(), error) {
	noop := func() {}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			// Field-only update bodies may arrive URL-encoded.
			if formErr := r.ParseForm(); formErr != nil {
				return nil, noop, provider.WrapError(provider.ErrBadRequest, "parsing request body", formErr)
			}

			return nil, noop, provider.NewError(provider.ErrMissingParameter, "no file payload supplied")
		}

		return nil, noop, provider.WrapError(provider.ErrBadRequest, "parsing multipart body", err)
	}

	file, header, err := r.FormFile("content")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, noop, provider.NewError(provider.ErrMissingParameter, "no file payload supplied")
		}

		return nil, noop, provider.WrapError(provider.ErrBadRequest, "reading file payload", err)
	}
	defer file.Close()

	staged, size, err := s.cache.Stage(file)
	if err != nil {
		return nil, noop, provider.WrapError(provider.ErrProviderInteraction, "staging upload", err)
	}

	upload := &provider.Upload{
		Path:     staged,
		Name:     header.Filename,
		MimeType: mimeTypeOf(header),
		Size:     size,
	}

	return upload, func() { os.Remove(staged) }, nil
}

func mimeTypeOf(header *multipart.FileHeader) string {
	if ct := header.Header.Get("Content-Type"); ct != "" {
		return ct
	}

	return "application/octet-stream"
}
