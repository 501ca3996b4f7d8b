package gdrive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dabbu-knowledge-platform/files-api-server/internal/provider"
)

func testCreds() provider.Credentials {
	return provider.Credentials{Token: "drive-token"}
}

// fakeDrive answers files.list searches from a canned table keyed by the
// exact q expression, recording every query received.
type fakeDrive struct {
	t       *testing.T
	results map[string][]driveFile
	queries []string

	srv *httptest.Server
}

func newFakeDrive(t *testing.T) *fakeDrive {
	t.Helper()

	d := &fakeDrive{t: t, results: map[string][]driveFile{}}

	d.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		d.queries = append(d.queries, q)

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(fileListResponse{Files: d.results[q]}))
	}))
	t.Cleanup(d.srv.Close)

	return d
}

func (d *fakeDrive) provider() *Provider {
	return New(d.srv.URL, d.srv.URL, d.srv.Client(), 0, nil)
}

func childrenQuery(parentID string) string {
	return "'" + parentID + "' in parents and trashed = false"
}

func folderQuery(name, parentID string) string {
	return "name = '" + name + "' and '" + parentID + "' in parents and mimeType = '" +
		folderMimeType + "' and trashed = false"
}

func fileQuery(name, parentID string) string {
	return "name = '" + name + "' and '" + parentID + "' in parents and mimeType != '" +
		folderMimeType + "' and trashed = false"
}

func plainFile(id, name, size string) driveFile {
	return driveFile{
		ID:             id,
		Name:           name,
		MimeType:       "text/plain",
		Size:           size,
		CreatedTime:    "2021-01-01T00:00:00Z",
		ModifiedTime:   "2021-02-01T00:00:00Z",
		WebViewLink:    "https://drive.example/view/" + id,
		WebContentLink: "https://drive.example/download/" + id,
	}
}

func driveFolder(id, name string) driveFile {
	return driveFile{
		ID:          id,
		Name:        name,
		MimeType:    folderMimeType,
		WebViewLink: "https://drive.example/view/" + id,
	}
}

func googleDoc(id, name string) driveFile {
	return driveFile{
		ID:       id,
		Name:     name,
		MimeType: "application/vnd.google-apps.document",
		ExportLinks: map[string]string{
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "https://drive.example/export/" + id,
		},
		WebViewLink: "https://drive.example/view/" + id,
	}
}

func TestListRoot(t *testing.T) {
	d := newFakeDrive(t)
	d.results[childrenQuery("root")] = []driveFile{
		driveFolder("f1", "docs"),
		plainFile("a1", "a.txt", "23"),
	}

	result, err := d.provider().List(context.Background(), "/", provider.ListOptions{}, testCreds())
	require.NoError(t, err)
	require.Len(t, result.Resources, 2)

	// "/" is the root alias; only the listing query goes out.
	assert.Equal(t, []string{childrenQuery("root")}, d.queries)

	folder := result.Resources[0]
	assert.Equal(t, provider.KindFolder, folder.Kind)
	assert.EqualValues(t, provider.SizeUnknown, folder.Size)

	file := result.Resources[1]
	assert.Equal(t, "/a.txt", file.Path)
	assert.Equal(t, ProviderID, file.Provider)
	assert.EqualValues(t, 23, file.Size, "Drive reports size as a JSON string")
	assert.Equal(t, "https://drive.example/download/a1", file.ContentURI)
}

func TestListResolvesNestedFolders(t *testing.T) {
	d := newFakeDrive(t)
	d.results[folderQuery("docs", "root")] = []driveFile{driveFolder("f1", "docs")}
	d.results[childrenQuery("f1")] = []driveFile{plainFile("a1", "report.pdf", "100")}

	result, err := d.provider().List(context.Background(), "/docs", provider.ListOptions{}, testCreds())
	require.NoError(t, err)

	require.Len(t, result.Resources, 1)
	assert.Equal(t, "/docs/report.pdf", result.Resources[0].Path)
	assert.Equal(t, []string{folderQuery("docs", "root"), childrenQuery("f1")}, d.queries)
}

func TestListSharedScope(t *testing.T) {
	d := newFakeDrive(t)
	d.results["sharedWithMe = true and trashed = false"] = []driveFile{plainFile("s1", "shared.txt", "10")}

	result, err := d.provider().List(context.Background(), "/Shared", provider.ListOptions{}, testCreds())
	require.NoError(t, err)

	require.Len(t, result.Resources, 1)
	assert.Equal(t, "/Shared/shared.txt", result.Resources[0].Path)
}

func TestListWorkspaceDocGetsExportExtension(t *testing.T) {
	d := newFakeDrive(t)
	d.results[childrenQuery("root")] = []driveFile{googleDoc("d1", "Report")}

	result, err := d.provider().List(context.Background(), "/", provider.ListOptions{}, testCreds())
	require.NoError(t, err)
	require.Len(t, result.Resources, 1)

	doc := result.Resources[0]
	assert.Equal(t, "Report.docx", doc.Name)
	assert.Equal(t, "/Report.docx", doc.Path)
	assert.Equal(t, "application/vnd.google-apps.document", doc.MimeType)
	assert.EqualValues(t, provider.SizeUnknown, doc.Size)
	assert.Equal(t, "https://drive.example/export/d1", doc.ContentURI)
}

func TestReadStripsExportExtension(t *testing.T) {
	d := newFakeDrive(t)
	// The verbatim name has no match; the stripped name finds the Doc.
	d.results[fileQuery("Report", "root")] = []driveFile{googleDoc("d1", "Report")}

	got, err := d.provider().Read(context.Background(), "/", "Report.docx", provider.ListOptions{}, testCreds())
	require.NoError(t, err)

	assert.Equal(t, "Report.docx", got.Name)
	assert.Equal(t, []string{fileQuery("Report.docx", "root"), fileQuery("Report", "root")}, d.queries,
		"the verbatim name is tried before the stripped one")
}

func TestReadVerbatimNameWins(t *testing.T) {
	d := newFakeDrive(t)
	// A real .docx upload whose name includes the extension.
	d.results[fileQuery("notes.docx", "root")] = []driveFile{plainFile("n1", "notes.docx", "512")}

	got, err := d.provider().Read(context.Background(), "/", "notes.docx", provider.ListOptions{}, testCreds())
	require.NoError(t, err)

	assert.Equal(t, "notes.docx", got.Name)
	assert.Equal(t, []string{fileQuery("notes.docx", "root")}, d.queries)
}

func TestReadExportViewPrefersWebLink(t *testing.T) {
	d := newFakeDrive(t)
	d.results[fileQuery("a.txt", "root")] = []driveFile{plainFile("a1", "a.txt", "23")}

	got, err := d.provider().Read(context.Background(), "/", "a.txt",
		provider.ListOptions{ExportType: provider.ExportView}, testCreds())
	require.NoError(t, err)

	assert.Equal(t, "https://drive.example/view/a1", got.ContentURI)
}

func TestReadExportTypeMime(t *testing.T) {
	d := newFakeDrive(t)
	d.results[fileQuery("Report", "root")] = []driveFile{googleDoc("d1", "Report")}

	got, err := d.provider().Read(context.Background(), "/", "Report",
		provider.ListOptions{ExportType: "application/pdf"}, testCreds())
	require.NoError(t, err)

	// No pdf export link on the file: a synthesized export URL is derived.
	assert.Contains(t, got.ContentURI, "/files/d1/export?mimeType=application%2Fpdf")
}

func TestReadMissingFile(t *testing.T) {
	d := newFakeDrive(t)

	_, err := d.provider().Read(context.Background(), "/", "ghost.txt", provider.ListOptions{}, testCreds())
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestCreateConflict(t *testing.T) {
	d := newFakeDrive(t)
	d.results[fileQuery("a.txt", "root")] = []driveFile{plainFile("a1", "a.txt", "23")}

	staged := filepath.Join(t.TempDir(), "staged")
	require.NoError(t, os.WriteFile(staged, []byte("x"), 0o644))

	_, err := d.provider().Create(context.Background(), "/", "a.txt",
		&provider.Upload{Path: staged, Name: "a.txt", Size: 1}, testCreds())
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrFileExists)
}

func TestDeleteRootRefused(t *testing.T) {
	d := newFakeDrive(t)

	err := d.provider().Delete(context.Background(), "/", "", testCreds())
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrBadRequest)
	assert.Empty(t, d.queries, "refusal happens before any remote call")
}

func TestDeleteMissingTargetIsBadRequest(t *testing.T) {
	d := newFakeDrive(t)

	err := d.provider().Delete(context.Background(), "/ghost", "", testCreds())
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrBadRequest)
}

func TestOperationsRejectTraversal(t *testing.T) {
	d := newFakeDrive(t)

	_, err := d.provider().List(context.Background(), "/../secret", provider.ListOptions{}, testCreds())
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrBadRequest)

	assert.Empty(t, d.queries)
}

func TestOperationsRequireCredentials(t *testing.T) {
	d := newFakeDrive(t)

	_, err := d.provider().List(context.Background(), "/", provider.ListOptions{}, provider.Credentials{})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrMissingCredentials)
}

func TestEscapeQueryValue(t *testing.T) {
	assert.Equal(t, `plain`, escapeQueryValue(`plain`))
	assert.Equal(t, `it\'s`, escapeQueryValue(`it's`))
	assert.Equal(t, `back\\slash`, escapeQueryValue(`back\slash`))
}

func TestTrimExportExtension(t *testing.T) {
	assert.Equal(t, "Report", trimExportExtension("Report.docx"))
	assert.Equal(t, "Budget", trimExportExtension("Budget.xlsx"))
	assert.Equal(t, "notes.txt", trimExportExtension("notes.txt"))
}
