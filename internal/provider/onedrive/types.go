package onedrive

import (
	"log/slog"
	"time"

	"github.com/dabbu-knowledge-platform/files-api-server/internal/provider"
)

// driveItem mirrors the Graph API driveItem JSON. Unexported — callers see
// only the canonical Resource produced by toResource.
type driveItem struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Size                 int64        `json:"size"`
	CreatedDateTime      string       `json:"createdDateTime"`
	LastModifiedDateTime string       `json:"lastModifiedDateTime"`
	WebURL               string       `json:"webUrl"`
	File                 *fileFacet   `json:"file"`
	Folder               *folderFacet `json:"folder"`
	RemoteItem           *remoteItem  `json:"remoteItem"`
	ParentReference      *parentRef   `json:"parentReference"`
	DownloadURL          string       `json:"@microsoft.graph.downloadUrl"`
}

type fileFacet struct {
	MimeType string `json:"mimeType"`
}

type folderFacet struct {
	ChildCount int `json:"childCount"`
}

type parentRef struct {
	ID      string `json:"id"`
	DriveID string `json:"driveId"`
}

// remoteItem is the facet present on shared-with-me listings; it addresses
// the item in the sharer's drive.
type remoteItem struct {
	ID              string       `json:"id"`
	ParentReference *parentRef   `json:"parentReference"`
	File            *fileFacet   `json:"file"`
	Folder          *folderFacet `json:"folder"`
}

type childrenResponse struct {
	Value    []driveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

type moveRequest struct {
	Name            string         `json:"name,omitempty"`
	ParentReference *moveParentRef `json:"parentReference,omitempty"`
}

type moveParentRef struct {
	ID string `json:"id"`
}

type timestampPatch struct {
	FileSystemInfo fileSystemInfo `json:"fileSystemInfo"`
}

type fileSystemInfo struct {
	CreatedDateTime      string `json:"createdDateTime,omitempty"`
	LastModifiedDateTime string `json:"lastModifiedDateTime,omitempty"`
}

type createFolderRequest struct {
	Name             string      `json:"name"`
	Folder           folderFacet `json:"folder"`
	ConflictBehavior string      `json:"@microsoft.graph.conflictBehavior"`
}

// isFolder is true for owned folders and for shared items whose remote
// facet is a folder.
func (d *driveItem) isFolder() bool {
	if d.Folder != nil {
		return true
	}

	return d.RemoteItem != nil && d.RemoteItem.Folder != nil
}

// toResource normalizes a Graph drive item into the canonical shape.
// folderPath is the logical folder the item was addressed under.
func (p *Provider) toResource(folderPath string, d *driveItem, exportType string) provider.Resource {
	kind := provider.KindFile
	size := d.Size
	mimeType := "application/octet-stream"

	if d.isFolder() {
		kind = provider.KindFolder
		size = provider.SizeUnknown
		mimeType = "inode/directory"
	} else if d.File != nil && d.File.MimeType != "" {
		mimeType = d.File.MimeType
	}

	segments := append(provider.SplitPath(folderPath), d.Name)

	return provider.Resource{
		Name:             d.Name,
		Path:             provider.JoinPath(segments...),
		Kind:             kind,
		Provider:         ProviderID,
		MimeType:         mimeType,
		Size:             size,
		CreatedAtTime:    normalizeTimestamp(d.CreatedDateTime, "createdDateTime", d.ID, p.logger),
		LastModifiedTime: normalizeTimestamp(d.LastModifiedDateTime, "lastModifiedDateTime", d.ID, p.logger),
		ContentURI:       p.contentURI(d, exportType),
	}
}

// contentURI derives the dereferenceable link for an item. "view" always
// prefers the OneDrive web UI; "media" (and everything else) prefers the
// pre-authenticated download URL, falling back to the web link and then a
// synthesized API content link. Never fails: a folder with no link yields
// the empty string.
func (p *Provider) contentURI(d *driveItem, exportType string) string {
	if exportType == provider.ExportView {
		return d.WebURL
	}

	if d.DownloadURL != "" {
		return d.DownloadURL
	}

	if d.isFolder() {
		return d.WebURL
	}

	if d.ID != "" {
		return p.client.BaseURL() + "/me/drive/items/" + d.ID + "/content"
	}

	return d.WebURL
}

// normalizeTimestamp re-renders a Graph RFC 3339 timestamp for the wire.
// Malformed values become the empty string (field present, explicitly
// unknown) with a warning, never a synthesized time.
func normalizeTimestamp(raw, field, itemID string, logger *slog.Logger) string {
	if raw == "" {
		return ""
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger.Warn("invalid timestamp from provider",
			slog.String("field", field),
			slog.String("item_id", itemID),
			slog.String("raw", raw),
		)

		return ""
	}

	return provider.Timestamp(t)
}
