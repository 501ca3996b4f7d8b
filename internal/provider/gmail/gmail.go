// Package gmail implements the DataProvider contract over the Gmail REST
// API, presenting mail as a filesystem: labels are folders (nested by the
// "/" in label names), threads are files with the synthetic MIME type
// mail/thread. A thread has no single binary representation, so Read
// materializes one — a zip archive of message texts and attachments —
// into the artifact cache.
//
// Create and Update are not implemented: the gateway does not send mail.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/dabbu-knowledge-platform/files-api-server/internal/cache"
	"github.com/dabbu-knowledge-platform/files-api-server/internal/provider"
	"github.com/dabbu-knowledge-platform/files-api-server/internal/remote"
)

// ProviderID is the routing identifier for this adapter.
const ProviderID = "gmail"

// DefaultBaseURL is the production Gmail API root, pre-scoped to the
// authenticated user.
const DefaultBaseURL = "https://gmail.googleapis.com/gmail/v1/users/me"

// listPageSize is the maxResults for thread listings. Smaller than the
// other adapters because every listed thread costs one extra metadata
// fetch.
const listPageSize = 25

// Provider is the Gmail adapter.
type Provider struct {
	client         *remote.Client
	cache          *cache.Manager
	cacheURLPrefix string
	logger         *slog.Logger
	pageCap        int
}

// New creates a Gmail provider. Generated archives land in cacheManager;
// cacheURLPrefix is the public route prefix under which the HTTP layer
// serves them back.
func New(
	baseURL string, httpClient *http.Client, cacheManager *cache.Manager,
	cacheURLPrefix string, pageCap int, logger *slog.Logger,
) *Provider {
	if logger == nil {
		logger = slog.Default()
	}

	if pageCap <= 0 {
		pageCap = provider.DefaultPageCap
	}

	return &Provider{
		client:         remote.NewClient(baseURL, httpClient, logger),
		cache:          cacheManager,
		cacheURLPrefix: strings.TrimSuffix(cacheURLPrefix, "/"),
		logger:         logger,
		pageCap:        pageCap,
	}
}

func (p *Provider) ID() string { return ProviderID }

// List returns labels for the root path and threads for a label path.
// Gmail has no true root folder, so "/" yields the synthetic label
// listing. Unlike the drive-backed providers, listing a nonexistent
// label is NotFound: labels must pre-exist.
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

	if len(provider.SplitPath(folderPath)) == 0 {
		return p.listLabels(ctx, token, opts)
	}

	return p.listThreads(ctx, token, folderPath, opts)
}

func (p *Provider) listLabels(
	ctx context.Context, token oauth2.TokenSource, opts provider.ListOptions,
) (*provider.ListResult, error) {
	var resp labelListResponse
	if err := p.client.GetJSON(ctx, token, "/labels", &resp); err != nil {
		return nil, err
	}

	resources := make([]provider.Resource, 0, len(resp.Labels))
	for i := range resp.Labels {
		resources = append(resources, toLabelResource(&resp.Labels[i]))
	}

	filtered, err := provider.Apply(resources, opts)
	if err != nil {
		return nil, err
	}

	return &provider.ListResult{Resources: filtered}, nil
}

// listThreads drains the thread listing for a label, then fetches each
// thread's metadata sequentially to synthesize its file name and
// timestamps. Any individual fetch failure aborts the whole list: a
// partially named listing would not round-trip through Read.
func (p *Provider) listThreads(
	ctx context.Context, token oauth2.TokenSource, folderPath string, opts provider.ListOptions,
) (*provider.ListResult, error) {
	lbl, err := p.resolveLabel(ctx, token, folderPath)
	if err != nil {
		return nil, err
	}

	refs, nextToken, err := provider.DrainPages(ctx, opts.NextSetToken, opts.DrainCap(p.pageCap),
		func(ctx context.Context, cursor string) (provider.Page[threadRef], error) {
			path := fmt.Sprintf("/threads?labelIds=%s&maxResults=%d", url.QueryEscape(lbl.ID), listPageSize)
			if cursor != "" {
				path += "&pageToken=" + url.QueryEscape(cursor)
			}

			var page threadListResponse
			if err := p.client.GetJSON(ctx, token, path, &page); err != nil {
				return provider.Page[threadRef]{}, err
			}

			return provider.Page[threadRef]{Items: page.Threads, NextToken: page.NextPageToken}, nil
		})
	if err != nil {
		return nil, err
	}

	resources := make([]provider.Resource, 0, len(refs))

	for _, ref := range refs {
		t, err := p.fetchThread(ctx, token, ref.ID, false)
		if err != nil {
			return nil, err
		}

		resources = append(resources, p.toThreadResource(folderPath, t, opts.ExportType))
	}

	filtered, err := provider.Apply(resources, opts)
	if err != nil {
		return nil, err
	}

	p.logger.Info("listed label",
		slog.String("provider", ProviderID),
		slog.String("path", folderPath),
		slog.Int("total_items", len(filtered)),
	)

	return &provider.ListResult{Resources: filtered, NextSetToken: nextToken}, nil
}

// Read materializes the addressed thread as a zip archive and returns a
// resource whose contentUri streams it from the cache. With exportType
// "view" the archive is skipped and the Gmail web link returned instead.
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

	threadID := threadIDFromFileName(fileName)
	if threadID == "" {
		return nil, provider.Errorf(provider.ErrBadRequest, "file name %q carries no thread ID", fileName)
	}

	t, err := p.fetchThread(ctx, token, threadID, true)
	if err != nil {
		return nil, err
	}

	r := p.toThreadResource(folderPath, t, opts.ExportType)

	if opts.ExportType == provider.ExportView {
		return &r, nil
	}

	rel, size, err := p.buildArchive(ctx, token, t, r.Name)
	if err != nil {
		return nil, err
	}

	r.Size = size
	r.ContentURI = p.cacheURLPrefix + "/" + rel

	return &r, nil
}

// Create is unsupported: the gateway does not compose mail.
func (p *Provider) Create(
	_ context.Context, _, _ string, _ *provider.Upload, _ provider.Credentials,
) (*provider.Resource, error) {
	return nil, provider.NewError(provider.ErrNotImplemented, "gmail does not support creating files")
}

// Update is unsupported: threads are immutable through this gateway.
func (p *Provider) Update(
	_ context.Context, _, _ string, _ provider.UpdateBody, _ *provider.Upload, _ provider.Credentials,
) (*provider.Resource, error) {
	return nil, provider.NewError(provider.ErrNotImplemented, "gmail does not support updating files")
}

// Delete trashes a thread, or deletes a label when no file name is given.
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

	if fileName == "" {
		lbl, err := p.resolveLabel(ctx, token, folderPath)
		if err != nil {
			return deleteResolveError(err, folderPath)
		}

		resp, err := p.client.Do(ctx, token, http.MethodDelete, "/labels/"+url.PathEscape(lbl.ID), "", nil)
		if err != nil {
			return err
		}
		resp.Body.Close()

		return nil
	}

	threadID := threadIDFromFileName(fileName)
	if threadID == "" {
		return provider.Errorf(provider.ErrMissingParameter, "file name %q carries no thread ID", fileName)
	}

	// Trash rather than hard-delete: recoverable from the Gmail UI.
	resp, err := p.client.Do(ctx, token, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/trash", "", nil)
	if err != nil {
		return deleteResolveError(err, folderPath+"/"+fileName)
	}
	resp.Body.Close()

	return nil
}

func deleteResolveError(err error, logical string) error {
	if errors.Is(err, provider.ErrNotFound) {
		return provider.Errorf(provider.ErrBadRequest, "nothing to delete at %q", logical)
	}

	return err
}

// resolveLabel maps a folder path to a label: path segments joined by "/"
// must equal the label name. Exact match wins; a case-insensitive match is
// accepted for system labels like INBOX.
func (p *Provider) resolveLabel(
	ctx context.Context, token oauth2.TokenSource, folderPath string,
) (*label, error) {
	name := strings.Join(provider.SplitPath(folderPath), "/")

	var resp labelListResponse
	if err := p.client.GetJSON(ctx, token, "/labels", &resp); err != nil {
		return nil, err
	}

	var fold *label

	for i := range resp.Labels {
		if resp.Labels[i].Name == name {
			return &resp.Labels[i], nil
		}

		if fold == nil && strings.EqualFold(resp.Labels[i].Name, name) {
			fold = &resp.Labels[i]
		}
	}

	if fold != nil {
		return fold, nil
	}

	return nil, provider.Errorf(provider.ErrNotFound, "no label named %q", name)
}

// fetchThread retrieves one thread, fully (message bodies and attachment
// references) or metadata-only (headers for naming).
func (p *Provider) fetchThread(
	ctx context.Context, token oauth2.TokenSource, threadID string, full bool,
) (*thread, error) {
	format := "metadata&metadataHeaders=Subject&metadataHeaders=Date&metadataHeaders=From&metadataHeaders=To"
	if full {
		format = "full"
	}

	var t thread
	if err := p.client.GetJSON(ctx, token,
		"/threads/"+url.PathEscape(threadID)+"?format="+format, &t); err != nil {
		return nil, err
	}

	return &t, nil
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
