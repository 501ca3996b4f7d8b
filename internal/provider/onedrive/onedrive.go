// Package onedrive implements the DataProvider contract against the
// Microsoft Graph API (v1.0). Folders and files are addressed by opaque
// item IDs, so every logical path is resolved segment by segment before
// the operation proper.
package onedrive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/dabbu-knowledge-platform/files-api-server/internal/provider"
	"github.com/dabbu-knowledge-platform/files-api-server/internal/remote"
)

// ProviderID is the routing identifier for this adapter.
const ProviderID = "onedrive"

// DefaultBaseURL is the production Graph API root.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// listPageSize is the $top value for children listings, chosen to line up
// with the gateway's page cap.
const listPageSize = 50

// Provider is the Microsoft Graph adapter. Stateless: credentials arrive
// with each request and are forwarded as bearer tokens.
type Provider struct {
	client  *remote.Client
	logger  *slog.Logger
	pageCap int
}

// New creates a OneDrive provider talking to baseURL (DefaultBaseURL in
// production; tests point it at a local stand-in).
func New(baseURL string, httpClient *http.Client, pageCap int, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}

	if pageCap <= 0 {
		pageCap = provider.DefaultPageCap
	}

	return &Provider{
		client:  remote.NewClient(baseURL, httpClient, logger),
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

	var firstPage string

	if shared, segments := provider.SplitShared(folderPath); shared && len(segments) == 0 {
		// "/Shared" itself: the whole shared-with-me listing.
		firstPage = "/me/drive/sharedWithMe"
	} else {
		folder, err := p.resolveFolder(ctx, token, folderPath, false)
		if err != nil {
			return nil, err
		}

		firstPage = fmt.Sprintf("%s/children?$top=%d", folder.apiPath(), listPageSize)
	}

	items, nextToken, err := provider.DrainPages(ctx, opts.NextSetToken, opts.DrainCap(p.pageCap),
		func(ctx context.Context, cursor string) (provider.Page[driveItem], error) {
			path := firstPage
			if cursor != "" {
				path = cursor
			}

			var page childrenResponse
			if err := p.client.GetJSON(ctx, token, path, &page); err != nil {
				return provider.Page[driveItem]{}, err
			}

			next := ""

			if page.NextLink != "" {
				stripped, err := p.stripBaseURL(page.NextLink)
				if err != nil {
					return provider.Page[driveItem]{}, err
				}

				next = stripped
			}

			return provider.Page[driveItem]{Items: page.Value, NextToken: next}, nil
		})
	if err != nil {
		return nil, err
	}

	resources := make([]provider.Resource, 0, len(items))
	for i := range items {
		resources = append(resources, p.toResource(folderPath, &items[i], opts.ExportType))
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

	_, item, err := p.resolveFile(ctx, token, folderPath, fileName, false, false)
	if err != nil {
		return nil, err
	}

	r := p.toResource(folderPath, item, opts.ExportType)

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
	parent, _, err := p.resolveFile(ctx, token, folderPath, fileName, true, true)
	if err != nil {
		return nil, err
	}

	item, err := p.uploadContent(ctx, token, parent, fileName, upload)
	if err != nil {
		return nil, err
	}

	p.logger.Info("created file",
		slog.String("provider", ProviderID),
		slog.String("path", folderPath+"/"+fileName),
		slog.Int64("size", upload.Size),
	)

	r := p.toResource(folderPath, item, "")

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

	ref, item, err := p.resolveFile(ctx, token, folderPath, fileName, false, false)
	if err != nil {
		return nil, err
	}

	// Fixed application order: content, rename, move, timestamps.
	if upload != nil {
		parent := itemRef{DriveID: ref.DriveID, ItemID: ""}
		if item.ParentReference != nil {
			parent.ItemID = item.ParentReference.ID
		}

		if item, err = p.uploadContent(ctx, token, parent, item.Name, upload); err != nil {
			return nil, err
		}

		ref = refOf(parent, item)
	}

	logicalFolder := folderPath

	if body.Name != "" {
		if item, err = p.patchItem(ctx, token, ref, moveRequest{Name: body.Name}); err != nil {
			return nil, err
		}
	}

	if body.Path != "" {
		target, err := p.resolveFolder(ctx, token, body.Path, false)
		if err != nil {
			return nil, err
		}

		if item, err = p.patchItem(ctx, token, ref,
			moveRequest{ParentReference: &moveParentRef{ID: target.ItemID}}); err != nil {
			return nil, err
		}

		logicalFolder = body.Path
	}

	if body.CreatedAtTime != "" || body.LastModifiedTime != "" {
		patch, err := timestampPatchFor(body)
		if err != nil {
			return nil, err
		}

		raw, err := json.Marshal(patch)
		if err != nil {
			return nil, provider.WrapError(provider.ErrProviderInteraction, "marshaling timestamp patch", err)
		}

		var updated driveItem
		if err := p.client.DoJSON(ctx, token, http.MethodPatch, ref.apiPath(), bytes.NewReader(raw), &updated); err != nil {
			return nil, err
		}

		item = &updated
	}

	r := p.toResource(logicalFolder, item, "")

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

	var ref itemRef

	if fileName == "" {
		folder, err := p.resolveFolder(ctx, token, folderPath, false)
		if err != nil {
			if isNotFound(err) {
				return provider.Errorf(provider.ErrBadRequest, "nothing to delete at %q", folderPath)
			}

			return err
		}

		if folder.ItemID == rootItemID {
			return provider.NewError(provider.ErrBadRequest, "the drive root cannot be deleted")
		}

		ref = folder
	} else {
		fileRef, _, err := p.resolveFile(ctx, token, folderPath, fileName, false, false)
		if err != nil {
			if isNotFound(err) {
				return provider.Errorf(provider.ErrBadRequest, "nothing to delete at %q/%q", folderPath, fileName)
			}

			return err
		}

		ref = fileRef
	}

	resp, err := p.client.Do(ctx, token, http.MethodDelete, ref.apiPath(), "", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()

	return nil
}

// uploadContent stores file bytes with a single content PUT. The staged
// upload is streamed from disk, not buffered.
func (p *Provider) uploadContent(
	ctx context.Context, token oauth2.TokenSource, parent itemRef, name string, upload *provider.Upload,
) (*driveItem, error) {
	f, err := os.Open(upload.Path)
	if err != nil {
		return nil, provider.WrapError(provider.ErrProviderInteraction, "opening staged upload", err)
	}
	defer f.Close()

	path := fmt.Sprintf("%s:/%s:/content", parent.apiPath(), url.PathEscape(name))

	resp, err := p.client.Do(ctx, token, http.MethodPut, path, "application/octet-stream", f)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var item driveItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, provider.WrapError(provider.ErrProviderInteraction, "decoding upload response", err)
	}

	return &item, nil
}

func (p *Provider) patchItem(
	ctx context.Context, token oauth2.TokenSource, ref itemRef, patch moveRequest,
) (*driveItem, error) {
	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, provider.WrapError(provider.ErrProviderInteraction, "marshaling patch", err)
	}

	var item driveItem
	if err := p.client.DoJSON(ctx, token, http.MethodPatch, ref.apiPath(), bytes.NewReader(raw), &item); err != nil {
		return nil, err
	}

	return &item, nil
}

func timestampPatchFor(body provider.UpdateBody) (timestampPatch, error) {
	var patch timestampPatch

	if body.CreatedAtTime != "" {
		t, err := time.Parse(time.RFC3339, body.CreatedAtTime)
		if err != nil {
			return patch, provider.Errorf(provider.ErrBadRequest, "createdAtTime %q is not RFC 3339", body.CreatedAtTime)
		}

		patch.FileSystemInfo.CreatedDateTime = t.UTC().Format(time.RFC3339)
	}

	if body.LastModifiedTime != "" {
		t, err := time.Parse(time.RFC3339, body.LastModifiedTime)
		if err != nil {
			return patch, provider.Errorf(provider.ErrBadRequest, "lastModifiedTime %q is not RFC 3339", body.LastModifiedTime)
		}

		patch.FileSystemInfo.LastModifiedDateTime = t.UTC().Format(time.RFC3339)
	}

	return patch, nil
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
