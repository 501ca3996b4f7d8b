package gdrive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/text/unicode/norm"

	"github.com/dabbu-knowledge-platform/files-api-server/internal/provider"
)

// rootFolderID is the Drive API alias for the My Drive root. Resolving "/"
// returns it directly with no remote call.
const rootFolderID = "root"

// escapeQueryValue escapes a name for interpolation into a Drive search
// query, which delimits strings with single quotes.
func escapeQueryValue(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, `\`, `\\`), `'`, `\'`)
}

// sameName compares names after Unicode NFC normalization. Drive stores
// names verbatim, so unlike OneDrive the comparison is case-sensitive.
func sameName(a, b string) bool {
	return norm.NFC.String(a) == norm.NFC.String(b)
}

// resolveFolder walks a logical path segment by segment from the root,
// querying each segment as a named folder under the current parent.
// With createMissing, absent segments are created on the way down. Paths
// under "/Shared" match the first segment against the shared-with-me
// corpus; nested segments resolve as normal children.
func (p *Provider) resolveFolder(
	ctx context.Context, token oauth2.TokenSource, folderPath string, createMissing bool,
) (string, error) {
	shared, segments := provider.SplitShared(folderPath)

	if shared && len(segments) == 0 {
		// The shared corpus has no folder ID of its own; List special-cases
		// it before resolving.
		return "", provider.NewError(provider.ErrBadRequest,
			"the shared scope itself cannot be addressed as a folder")
	}

	parentID := rootFolderID

	for i, segment := range segments {
		var query string

		if shared && i == 0 {
			query = fmt.Sprintf("sharedWithMe = true and name = '%s' and mimeType = '%s' and trashed = false",
				escapeQueryValue(segment), folderMimeType)
		} else {
			query = fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
				escapeQueryValue(segment), escapeQueryValue(parentID), folderMimeType)
		}

		found, err := p.findByQuery(ctx, token, query, segment)
		if err == nil {
			parentID = found.ID

			continue
		}

		if !createMissing || !errors.Is(err, provider.ErrNotFound) {
			return "", err
		}

		created, err := p.createFolder(ctx, token, parentID, segment)
		if err != nil {
			return "", err
		}

		parentID = created.ID
	}

	return parentID, nil
}

// resolveFile resolves the parent folder, then queries the file by name
// under it. createFolders creates missing path segments on the way down.
// With errorOutIfExists (used by create), an existing match is a conflict
// and an absent one returns the parent for the caller to upload into.
func (p *Provider) resolveFile(
	ctx context.Context, token oauth2.TokenSource, folderPath, fileName string,
	createFolders, errorOutIfExists bool,
) (parentID string, file *driveFile, err error) {
	parentID, err = p.resolveFolder(ctx, token, folderPath, createFolders)
	if err != nil {
		return "", nil, err
	}

	found, err := p.fileByName(ctx, token, parentID, fileName)
	if err != nil {
		if errorOutIfExists && errors.Is(err, provider.ErrNotFound) {
			return parentID, nil, nil
		}

		return "", nil, err
	}

	if errorOutIfExists {
		return "", nil, provider.Errorf(provider.ErrFileExists, "%q already exists", fileName)
	}

	return parentID, found, nil
}

// fileByName queries a file under parentID, first by its verbatim name,
// then — for names carrying a synthesized export extension — by the
// stripped name, so reads of "Report.docx" find the Google Doc "Report".
func (p *Provider) fileByName(
	ctx context.Context, token oauth2.TokenSource, parentID, fileName string,
) (*driveFile, error) {
	names := []string{fileName}
	if stripped := trimExportExtension(fileName); stripped != fileName {
		names = append(names, stripped)
	}

	for i, name := range names {
		query := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType != '%s' and trashed = false",
			escapeQueryValue(name), escapeQueryValue(parentID), folderMimeType)

		found, err := p.findByQuery(ctx, token, query, name)
		if err == nil {
			return found, nil
		}

		if !errors.Is(err, provider.ErrNotFound) || i == len(names)-1 {
			return nil, err
		}
	}

	return nil, provider.Errorf(provider.ErrNotFound, "no item named %q", fileName)
}

// findByQuery runs one files.list search and returns the first NFC-equal
// name match.
func (p *Provider) findByQuery(
	ctx context.Context, token oauth2.TokenSource, query, name string,
) (*driveFile, error) {
	path := "/files?q=" + url.QueryEscape(query) + "&fields=" + url.QueryEscape(listFields)

	var resp fileListResponse
	if err := p.api.GetJSON(ctx, token, path, &resp); err != nil {
		return nil, err
	}

	for i := range resp.Files {
		if sameName(resp.Files[i].Name, name) {
			return &resp.Files[i], nil
		}
	}

	return nil, provider.Errorf(provider.ErrNotFound, "no item named %q", name)
}

func (p *Provider) createFolder(
	ctx context.Context, token oauth2.TokenSource, parentID, name string,
) (*driveFile, error) {
	body, err := json.Marshal(fileMetadata{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{parentID},
	})
	if err != nil {
		return nil, provider.WrapError(provider.ErrProviderInteraction, "marshaling create folder request", err)
	}

	var created driveFile
	if err := p.api.DoJSON(ctx, token, http.MethodPost, "/files", bytes.NewReader(body), &created); err != nil {
		return nil, err
	}

	return &created, nil
}

// trimExportExtension strips the synthesized export extension from a file
// name so reads of "Report.docx" find the Google Doc named "Report".
// Names that never had a synthesized extension pass through unchanged;
// the caller's query also matches the verbatim name via NFC comparison.
func trimExportExtension(name string) string {
	for _, format := range workspaceExports {
		if strings.HasSuffix(name, format.extension) {
			return strings.TrimSuffix(name, format.extension)
		}
	}

	return name
}
