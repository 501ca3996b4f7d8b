// Package gdrive implements the DataProvider contract against the Google
// Drive v3 REST API. Drive addresses files by opaque IDs and exposes no
// path lookup, so every logical path is resolved with a segment-by-segment
// folder query walk. Google-native document types (Docs, Sheets, Slides)
// have no raw bytes and are exported through a fixed conversion table.
package gdrive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/dabbu-knowledge-platform/files-api-server/internal/provider"
	"github.com/dabbu-knowledge-platform/files-api-server/internal/remote"
)

// ProviderID is the routing identifier for this adapter.
const ProviderID = "googledrive"

// Production API roots. Metadata and content uploads live on different
// hosts, so the adapter carries two clients.
const (
	DefaultBaseURL       = "https://www.googleapis.com/drive/v3"
	DefaultUploadBaseURL = "https://www.googleapis.com/upload/drive/v3"
)

// listPageSize is the pageSize for files.list calls.
const listPageSize = 50

// Provider is the Google Drive adapter. Stateless: credentials arrive with
// each request and are forwarded as bearer tokens.
type Provider struct {
	api     *remote.Client
	upload  *remote.Client
	logger  *slog.Logger
	pageCap int
}

// New creates a Drive provider talking to the given API roots (the
// Default* constants in production; tests point both at a local stand-in).
func New(baseURL, uploadBaseURL string, httpClient *http.Client, pageCap int, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}

	if pageCap <= 0 {
		pageCap = provider.DefaultPageCap
	}

	return &Provider{
		api:     remote.NewClient(baseURL, httpClient, logger),
		upload:  remote.NewClient(uploadBaseURL, httpClient, logger),
		logger:  logger,
		pageCap: pageCap,
	}
}

func (p *Provider) ID() string { return ProviderID }

func (p *Provider) List(
	ctx context.Context, folderPath string, opts provider.ListOptions, creds provider.Credentials,
) (*provider.ListResult, error) {
	if err := provider.ValidatePath(folderPath); err != nil {
		return nil, err
	}

	token := remote.TokenSource(creds)
	if token == nil {
		return nil, provider.NewError(provider.ErrMissingCredentials, "no provider credential supplied")
	}

	var query string

	if shared, segments := provider.SplitShared(folderPath); shared && len(segments) == 0 {
		// "/Shared" itself: the whole shared-with-me corpus.
		query = "sharedWithMe = true and trashed = false"
	} else {
		folderID, err := p.resolveFolder(ctx, token, folderPath, false)
		if err != nil {
			return nil, err
		}

		query = fmt.Sprintf("'%s' in parents and trashed = false", escapeQueryValue(folderID))
	}

	files, nextToken, err := provider.DrainPages(ctx, opts.NextSetToken, opts.DrainCap(p.pageCap),
		func(ctx context.Context, cursor string) (provider.Page[driveFile], error) {
			path := fmt.Sprintf("/files?q=%s&fields=%s&pageSize=%d",
				url.QueryEscape(query), url.QueryEscape(listFields), listPageSize)
			if cursor != "" {
				path += "&pageToken=" + url.QueryEscape(cursor)
			}

			var page fileListResponse
			if err := p.api.GetJSON(ctx, token, path, &page); err != nil {
				return provider.Page[driveFile]{}, err
			}

			return provider.Page[driveFile]{Items: page.Files, NextToken: page.NextPageToken}, nil
		})
	if err != nil {
		return nil, err
	}

	resources := make([]provider.Resource, 0, len(files))
	for i := range files {
		resources = append(resources, p.toResource(folderPath, &files[i], opts.ExportType))
	}

	filtered, err := provider.Apply(resources, opts)
	if err != nil {
		return nil, err
	}

	p.logger.Info("listed folder",
		slog.String("provider", ProviderID),
		slog.String("path", folderPath),
		slog.Int("total_items", len(filtered)),
	)

	return &provider.ListResult{Resources: filtered, NextSetToken: nextToken}, nil
}

func (p *Provider) Read(
	ctx context.Context, folderPath, fileName string, opts provider.ListOptions, creds provider.Credentials,
) (*provider.Resource, error) {
	if err := validatePaths(folderPath, fileName); err != nil {
		return nil, err
	}

	token := remote.TokenSource(creds)
	if token == nil {
		return nil, provider.NewError(provider.ErrMissingCredentials, "no provider credential supplied")
	}

	_, file, err := p.resolveFile(ctx, token, folderPath, fileName, false, false)
	if err != nil {
		return nil, err
	}

	r := p.toResource(folderPath, file, opts.ExportType)

	return &r, nil
}

func (p *Provider) Create(
	ctx context.Context, folderPath, fileName string, upload *provider.Upload, creds provider.Credentials,
) (*provider.Resource, error) {
	if err := validatePaths(folderPath, fileName); err != nil {
		return nil, err
	}

	if upload == nil {
		return nil, provider.NewError(provider.ErrMissingParameter, "no file payload supplied")
	}

	token := remote.TokenSource(creds)
	if token == nil {
		return nil, provider.NewError(provider.ErrMissingCredentials, "no provider credential supplied")
	}

	// Missing intermediate folders are created on the way down; the file
	// itself must not already exist.
	parentID, _, err := p.resolveFile(ctx, token, folderPath, fileName, true, true)
	if err != nil {
		return nil, err
	}

	file, err := p.uploadMultipart(ctx, token, parentID, fileName, upload)
	if err != nil {
		return nil, err
	}

	p.logger.Info("created file",
		slog.String("provider", ProviderID),
		slog.String("path", folderPath+"/"+fileName),
		slog.Int64("size", upload.Size),
	)

	r := p.toResource(folderPath, file, "")

	return &r, nil
}

func (p *Provider) Update(
	ctx context.Context, folderPath, fileName string, body provider.UpdateBody,
	upload *provider.Upload, creds provider.Credentials,
) (*provider.Resource, error) {
	if err := validatePaths(folderPath, fileName); err != nil {
		return nil, err
	}

	if body.Path != "" {
		if err := provider.ValidatePath(body.Path); err != nil {
			return nil, err
		}
	}

	if body.Empty() && upload == nil {
		return nil, provider.NewError(provider.ErrMissingParameter, "no updatable field supplied")
	}

	token := remote.TokenSource(creds)
	if token == nil {
		return nil, provider.NewError(provider.ErrMissingCredentials, "no provider credential supplied")
	}

	parentID, file, err := p.resolveFile(ctx, token, folderPath, fileName, false, false)
	if err != nil {
		return nil, err
	}

	// Fixed application order: content, rename, move, timestamps.
	if upload != nil {
		if file, err = p.uploadMedia(ctx, token, file.ID, upload); err != nil {
			return nil, err
		}
	}

	logicalFolder := folderPath

	if body.Name != "" {
		if file, err = p.patchMetadata(ctx, token, file.ID, "", fileMetadata{Name: body.Name}); err != nil {
			return nil, err
		}
	}

	if body.Path != "" {
		targetID, err := p.resolveFolder(ctx, token, body.Path, false)
		if err != nil {
			return nil, err
		}

		params := fmt.Sprintf("?addParents=%s&removeParents=%s&fields=%s",
			url.QueryEscape(targetID), url.QueryEscape(parentID), url.QueryEscape(singleFileFields))

		if file, err = p.patchMetadata(ctx, token, file.ID, params, fileMetadata{}); err != nil {
			return nil, err
		}

		logicalFolder = body.Path
	}

	if body.LastModifiedTime != "" {
		t, err := time.Parse(time.RFC3339, body.LastModifiedTime)
		if err != nil {
			return nil, provider.Errorf(provider.ErrBadRequest, "lastModifiedTime %q is not RFC 3339", body.LastModifiedTime)
		}

		meta := fileMetadata{ModifiedTime: t.UTC().Format(time.RFC3339)}
		if file, err = p.patchMetadata(ctx, token, file.ID, "", meta); err != nil {
			return nil, err
		}
	}

	if body.CreatedAtTime != "" {
		// Drive's createdTime is immutable after creation.
		p.logger.Debug("ignoring createdAtTime update on Google Drive",
			slog.String("file_id", file.ID),
		)
	}

	r := p.toResource(logicalFolder, file, "")

	return &r, nil
}

func (p *Provider) Delete(
	ctx context.Context, folderPath, fileName string, creds provider.Credentials,
) error {
	if err := validatePaths(folderPath, fileName); err != nil {
		return err
	}

	token := remote.TokenSource(creds)
	if token == nil {
		return provider.NewError(provider.ErrMissingCredentials, "no provider credential supplied")
	}

	var targetID string

	if fileName == "" {
		folderID, err := p.resolveFolder(ctx, token, folderPath, false)
		if err != nil {
			return deleteResolveError(err, folderPath)
		}

		if folderID == rootFolderID {
			return provider.NewError(provider.ErrBadRequest, "the drive root cannot be deleted")
		}

		targetID = folderID
	} else {
		_, file, err := p.resolveFile(ctx, token, folderPath, fileName, false, false)
		if err != nil {
			return deleteResolveError(err, folderPath+"/"+fileName)
		}

		targetID = file.ID
	}

	resp, err := p.api.Do(ctx, token, http.MethodDelete, "/files/"+url.PathEscape(targetID), "", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()

	return nil
}

// singleFileFields is the $fields projection for single-file responses.
const singleFileFields = "id,name,mimeType,size,createdTime,modifiedTime,webViewLink,webContentLink,exportLinks"

// uploadMultipart creates a new file with one multipart/related request
// carrying the metadata JSON and the content bytes together.
func (p *Provider) uploadMultipart(
	ctx context.Context, token oauth2.TokenSource, parentID, name string, upload *provider.Upload,
) (*driveFile, error) {
	f, err := os.Open(upload.Path)
	if err != nil {
		return nil, provider.WrapError(provider.ErrProviderInteraction, "opening staged upload", err)
	}
	defer f.Close()

	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")

	metaPart, err := writer.CreatePart(metaHeader)
	if err != nil {
		return nil, provider.WrapError(provider.ErrProviderInteraction, "building upload request", err)
	}

	meta := fileMetadata{Name: name, Parents: []string{parentID}}
	if err := json.NewEncoder(metaPart).Encode(meta); err != nil {
		return nil, provider.WrapError(provider.ErrProviderInteraction, "building upload request", err)
	}

	contentType := upload.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	contentHeader := textproto.MIMEHeader{}
	contentHeader.Set("Content-Type", contentType)

	contentPart, err := writer.CreatePart(contentHeader)
	if err != nil {
		return nil, provider.WrapError(provider.ErrProviderInteraction, "building upload request", err)
	}

	if _, err := io.Copy(contentPart, f); err != nil {
		return nil, provider.WrapError(provider.ErrProviderInteraction, "reading staged upload", err)
	}

	if err := writer.Close(); err != nil {
		return nil, provider.WrapError(provider.ErrProviderInteraction, "building upload request", err)
	}

	path := "/files?uploadType=multipart&fields=" + url.QueryEscape(singleFileFields)
	related := "multipart/related; boundary=" + writer.Boundary()

	resp, err := p.upload.Do(ctx, token, http.MethodPost, path, related, &buf)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var created driveFile
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, provider.WrapError(provider.ErrProviderInteraction, "decoding upload response", err)
	}

	return &created, nil
}

// uploadMedia replaces an existing file's content in place.
func (p *Provider) uploadMedia(
	ctx context.Context, token oauth2.TokenSource, fileID string, upload *provider.Upload,
) (*driveFile, error) {
	f, err := os.Open(upload.Path)
	if err != nil {
		return nil, provider.WrapError(provider.ErrProviderInteraction, "opening staged upload", err)
	}
	defer f.Close()

	contentType := upload.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	path := fmt.Sprintf("/files/%s?uploadType=media&fields=%s",
		url.PathEscape(fileID), url.QueryEscape(singleFileFields))

	resp, err := p.upload.Do(ctx, token, http.MethodPatch, path, contentType, f)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var updated driveFile
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		return nil, provider.WrapError(provider.ErrProviderInteraction, "decoding upload response", err)
	}

	return &updated, nil
}

func (p *Provider) patchMetadata(
	ctx context.Context, token oauth2.TokenSource, fileID, params string, meta fileMetadata,
) (*driveFile, error) {
	if params == "" {
		params = "?fields=" + url.QueryEscape(singleFileFields)
	}

	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, provider.WrapError(provider.ErrProviderInteraction, "marshaling metadata patch", err)
	}

	var updated driveFile
	if err := p.api.DoJSON(ctx, token, http.MethodPatch,
		"/files/"+url.PathEscape(fileID)+params, bytes.NewReader(raw), &updated); err != nil {
		return nil, err
	}

	return &updated, nil
}

func deleteResolveError(err error, logical string) error {
	if errors.Is(err, provider.ErrNotFound) {
		return provider.Errorf(provider.ErrBadRequest, "nothing to delete at %q", logical)
	}

	return err
}

func validatePaths(folderPath, fileName string) error {
	if err := provider.ValidatePath(folderPath); err != nil {
		return err
	}

	if fileName != "" {
		return provider.ValidatePath(fileName)
	}

	return nil
}
