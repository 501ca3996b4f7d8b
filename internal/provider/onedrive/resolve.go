package onedrive

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

// rootItemID is the Graph API alias for the drive root. Resolving "/"
// returns it directly with no remote call.
const rootItemID = "root"

// itemRef addresses one drive item. DriveID is empty for items in the
// caller's own drive (/me/drive); shared items carry the sharer's drive.
type itemRef struct {
	DriveID string
	ItemID  string
}

// apiPath returns the Graph API path addressing this item.
func (r itemRef) apiPath() string {
	if r.DriveID != "" {
		return fmt.Sprintf("/drives/%s/items/%s", url.PathEscape(r.DriveID), url.PathEscape(r.ItemID))
	}

	return "/me/drive/items/" + url.PathEscape(r.ItemID)
}

// sameName compares item names the way OneDrive does: case-insensitively,
// after Unicode NFC normalization (the API returns mixed normalization
// forms for names entered on different platforms).
func sameName(a, b string) bool {
	return strings.EqualFold(norm.NFC.String(a), norm.NFC.String(b))
}

// resolveFolder walks a logical path segment by segment from the root,
// returning the folder's item reference. With createMissing, absent
// segments are created on the way down. Paths under "/Shared" resolve the
// first segment against the shared-with-me listing instead of the owned
// hierarchy.
func (p *Provider) resolveFolder(
	ctx context.Context, token oauth2.TokenSource, folderPath string, createMissing bool,
) (itemRef, error) {
	shared, segments := provider.SplitShared(folderPath)

	ref := itemRef{ItemID: rootItemID}

	if shared {
		if len(segments) == 0 {
			return itemRef{}, provider.NewError(provider.ErrBadRequest,
				"the shared scope itself cannot be addressed as a folder")
		}

		first, err := p.sharedItemByName(ctx, token, segments[0], true)
		if err != nil {
			return itemRef{}, err
		}

		ref = first
		segments = segments[1:]
	}

	for _, segment := range segments {
		child, err := p.childByName(ctx, token, ref, segment)
		if err == nil {
			if !child.isFolder() {
				return itemRef{}, provider.Errorf(provider.ErrNotFound, "%q is a file, not a folder", segment)
			}

			ref = refOf(ref, child)

			continue
		}

		if !createMissing || !isNotFound(err) {
			return itemRef{}, err
		}

		created, err := p.createFolder(ctx, token, ref, segment)
		if err != nil {
			return itemRef{}, err
		}

		ref = refOf(ref, created)
	}

	return ref, nil
}

// resolveFile resolves the parent folder, then the file itself.
// createFolders creates missing path segments on the way down. With
// errorOutIfExists (used by create), an existing match is a conflict and
// an absent one returns the parent for the caller to upload into.
func (p *Provider) resolveFile(
	ctx context.Context, token oauth2.TokenSource, folderPath, fileName string,
	createFolders, errorOutIfExists bool,
) (itemRef, *driveItem, error) {
	parent, err := p.resolveFolder(ctx, token, folderPath, createFolders)
	if err != nil {
		return itemRef{}, nil, err
	}

	item, err := p.childByName(ctx, token, parent, fileName)
	if err != nil {
		if errorOutIfExists && isNotFound(err) {
			return parent, nil, nil
		}

		return itemRef{}, nil, err
	}

	if errorOutIfExists {
		return itemRef{}, nil, provider.Errorf(provider.ErrFileExists, "%q already exists", fileName)
	}

	return refOf(parent, item), item, nil
}

// childByName finds a direct child by display name, paging through the
// children listing. The walk is sequential: each page's nextLink feeds the
// next fetch.
func (p *Provider) childByName(
	ctx context.Context, token oauth2.TokenSource, parent itemRef, name string,
) (*driveItem, error) {
	path := parent.apiPath() + "/children?$top=200"

	for path != "" {
		var page childrenResponse
		if err := p.client.GetJSON(ctx, token, path, &page); err != nil {
			return nil, err
		}

		for i := range page.Value {
			if sameName(page.Value[i].Name, name) {
				return &page.Value[i], nil
			}
		}

		path = ""

		if page.NextLink != "" {
			stripped, err := p.stripBaseURL(page.NextLink)
			if err != nil {
				return nil, err
			}

			path = stripped
		}
	}

	return nil, provider.Errorf(provider.ErrNotFound, "no item named %q", name)
}

// sharedItemByName matches one entry of the shared-with-me listing by
// name. Shared entries carry a remoteItem facet addressing the item in the
// sharer's drive.
func (p *Provider) sharedItemByName(
	ctx context.Context, token oauth2.TokenSource, name string, wantFolder bool,
) (itemRef, error) {
	path := "/me/drive/sharedWithMe"

	for path != "" {
		var page childrenResponse
		if err := p.client.GetJSON(ctx, token, path, &page); err != nil {
			return itemRef{}, err
		}

		for i := range page.Value {
			item := &page.Value[i]
			if !sameName(item.Name, name) {
				continue
			}

			if wantFolder && !item.isFolder() {
				continue
			}

			if item.RemoteItem != nil && item.RemoteItem.ParentReference != nil {
				return itemRef{
					DriveID: strings.ToLower(item.RemoteItem.ParentReference.DriveID),
					ItemID:  item.RemoteItem.ID,
				}, nil
			}

			return itemRef{ItemID: item.ID}, nil
		}

		path = ""

		if page.NextLink != "" {
			stripped, err := p.stripBaseURL(page.NextLink)
			if err != nil {
				return itemRef{}, err
			}

			path = stripped
		}
	}

	return itemRef{}, provider.Errorf(provider.ErrNotFound, "no shared item named %q", name)
}

// createFolder creates one folder under parent. conflictBehavior "fail"
// surfaces concurrent-create races as conflicts instead of silently
// renaming.
func (p *Provider) createFolder(
	ctx context.Context, token oauth2.TokenSource, parent itemRef, name string,
) (*driveItem, error) {
	body, err := json.Marshal(createFolderRequest{
		Name:             name,
		Folder:           folderFacet{},
		ConflictBehavior: "fail",
	})
	if err != nil {
		return nil, provider.WrapError(provider.ErrProviderInteraction, "marshaling create folder request", err)
	}

	var created driveItem
	if err := p.client.DoJSON(ctx, token, http.MethodPost,
		parent.apiPath()+"/children", bytes.NewReader(body), &created); err != nil {
		return nil, err
	}

	return &created, nil
}

// refOf produces the reference for a child found under parent, keeping the
// parent's drive for shared subtrees.
func refOf(parent itemRef, item *driveItem) itemRef {
	ref := itemRef{DriveID: parent.DriveID, ItemID: item.ID}

	if item.RemoteItem != nil && item.RemoteItem.ParentReference != nil {
		ref.DriveID = strings.ToLower(item.RemoteItem.ParentReference.DriveID)
		ref.ItemID = item.RemoteItem.ID
	}

	return ref
}

func (p *Provider) stripBaseURL(fullURL string) (string, error) {
	if !strings.HasPrefix(fullURL, p.client.BaseURL()) {
		return "", provider.Errorf(provider.ErrProviderInteraction,
			"nextLink %q does not match the API base URL", fullURL)
	}

	return fullURL[len(p.client.BaseURL()):], nil
}

func isNotFound(err error) bool {
	return errors.Is(err, provider.ErrNotFound)
}
