package gdrive

import (
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/dabbu-knowledge-platform/files-api-server/internal/provider"
)

// folderMimeType marks folders in Drive metadata; workspacePrefix marks
// Google-native document types that have no raw byte representation.
const (
	folderMimeType  = "application/vnd.google-apps.folder"
	workspacePrefix = "application/vnd.google-apps."
)

// listFields is the $fields projection requested on every files.list call.
const listFields = "nextPageToken,files(id,name,mimeType,size,createdTime,modifiedTime,webViewLink,webContentLink,exportLinks)"

// driveFile mirrors one Drive v3 files resource. Size arrives as a JSON
// string, Drive API quirk.
type driveFile struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	MimeType       string            `json:"mimeType"`
	Size           string            `json:"size"`
	CreatedTime    string            `json:"createdTime"`
	ModifiedTime   string            `json:"modifiedTime"`
	WebViewLink    string            `json:"webViewLink"`
	WebContentLink string            `json:"webContentLink"`
	ExportLinks    map[string]string `json:"exportLinks"`
}

type fileListResponse struct {
	NextPageToken string      `json:"nextPageToken"`
	Files         []driveFile `json:"files"`
}

type fileMetadata struct {
	Name         string   `json:"name,omitempty"`
	MimeType     string   `json:"mimeType,omitempty"`
	Parents      []string `json:"parents,omitempty"`
	ModifiedTime string   `json:"modifiedTime,omitempty"`
}

func (f *driveFile) isFolder() bool {
	return f.MimeType == folderMimeType
}

// exportFormat maps a Google Workspace MIME type to the conversion used
// when the client wants raw bytes: the target MIME type and the file
// extension appended to the displayed name.
type exportFormat struct {
	mimeType  string
	extension string
}

// workspaceExports is the fixed conversion table for Google-native
// document types.
var workspaceExports = map[string]exportFormat{
	"application/vnd.google-apps.document": {
		mimeType:  "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		extension: ".docx",
	},
	"application/vnd.google-apps.spreadsheet": {
		mimeType:  "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		extension: ".xlsx",
	},
	"application/vnd.google-apps.presentation": {
		mimeType:  "application/vnd.openxmlformats-officedocument.presentationml.presentation",
		extension: ".pptx",
	},
	"application/vnd.google-apps.drawing": {
		mimeType:  "image/png",
		extension: ".png",
	},
	"application/vnd.google-apps.script": {
		mimeType:  "application/vnd.google-apps.script+json",
		extension: ".json",
	},
}

// toResource normalizes a Drive file into the canonical shape. Google-
// native documents get a synthesized extension on their display name so
// the exported bytes round-trip with a sensible filename.
func (p *Provider) toResource(folderPath string, f *driveFile, exportType string) provider.Resource {
	kind := provider.KindFile
	var size int64 = provider.SizeUnknown

	if f.isFolder() {
		kind = provider.KindFolder
	} else if n, err := strconv.ParseInt(f.Size, 10, 64); err == nil {
		size = n
	}

	name := f.Name
	if format, ok := workspaceExports[f.MimeType]; ok {
		name += format.extension
	}

	segments := append(provider.SplitPath(folderPath), name)

	return provider.Resource{
		Name:             name,
		Path:             provider.JoinPath(segments...),
		Kind:             kind,
		Provider:         ProviderID,
		MimeType:         f.MimeType,
		Size:             size,
		CreatedAtTime:    normalizeTimestamp(f.CreatedTime, "createdTime", f.ID, p.logger),
		LastModifiedTime: normalizeTimestamp(f.ModifiedTime, "modifiedTime", f.ID, p.logger),
		ContentURI:       p.contentURI(f, exportType),
	}
}

// contentURI derives the dereferenceable link for a Drive file:
//
//   - "view" always prefers the Drive web UI link;
//   - Google-native documents export through the fixed conversion table
//     (or the explicitly requested MIME type);
//   - plain files prefer the direct download link, then a synthesized API
//     media link;
//   - when nothing matches, the web link, then the empty string. Missing
//     links are never an error.
func (p *Provider) contentURI(f *driveFile, exportType string) string {
	if exportType == provider.ExportView {
		return f.WebViewLink
	}

	wantMime := ""

	if exportType != "" && exportType != provider.ExportMedia {
		wantMime = exportType
	} else if format, ok := workspaceExports[f.MimeType]; ok {
		wantMime = format.mimeType
	}

	if wantMime != "" {
		if link, ok := f.ExportLinks[wantMime]; ok {
			return link
		}

		if f.ID != "" {
			return p.api.BaseURL() + "/files/" + f.ID + "/export?mimeType=" + url.QueryEscape(wantMime)
		}
	}

	if f.isFolder() {
		return f.WebViewLink
	}

	if f.WebContentLink != "" {
		return f.WebContentLink
	}

	if f.ID != "" {
		return p.api.BaseURL() + "/files/" + f.ID + "?alt=media"
	}

	return f.WebViewLink
}

func normalizeTimestamp(raw, field, fileID string, logger *slog.Logger) string {
	if raw == "" {
		return ""
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger.Warn("invalid timestamp from provider",
			slog.String("field", field),
			slog.String("file_id", fileID),
			slog.String("raw", raw),
		)

		return ""
	}

	return provider.Timestamp(t)
}
