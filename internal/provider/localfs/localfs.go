// Package localfs implements the DataProvider contract over a directory
// on the gateway's own filesystem. All logical paths are confined to the
// configured base path; the traversal check runs before any filesystem
// call and the joined path is verified to stay under the base.
package localfs

import (
	"context"
	"io"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dabbu-knowledge-platform/files-api-server/internal/provider"
)

// ProviderID is the routing identifier for this adapter.
const ProviderID = "localfs"

// Provider serves files from a base directory. Stateless; one instance
// serves concurrent requests.
type Provider struct {
	basePath string
	logger   *slog.Logger
}

// New creates a local filesystem provider rooted at basePath, creating
// the directory if needed.
func New(basePath string, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, provider.WrapError(provider.ErrProviderInteraction, "resolving base path", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, provider.WrapError(provider.ErrProviderInteraction, "creating base path", err)
	}

	return &Provider{basePath: abs, logger: logger}, nil
}

func (p *Provider) ID() string { return ProviderID }

// resolve maps a logical path to an absolute filesystem path under the
// base, rejecting anything that would escape it.
func (p *Provider) resolve(logical string) (string, error) {
	if err := provider.ValidatePath(logical); err != nil {
		return "", err
	}

	full := filepath.Join(p.basePath, filepath.FromSlash(logical))
	if full != p.basePath && !strings.HasPrefix(full, p.basePath+string(filepath.Separator)) {
		return "", provider.Errorf(provider.ErrBadRequest, "path %q escapes the base path", logical)
	}

	return full, nil
}

func (p *Provider) List(
	ctx context.Context, folderPath string, opts provider.ListOptions, _ provider.Credentials,
) (*provider.ListResult, error) {
	dir, err := p.resolve(folderPath)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, provider.Errorf(provider.ErrNotFound, "folder %q does not exist", folderPath)
		}

		return nil, provider.WrapError(provider.ErrProviderInteraction, "reading folder", err)
	}

	resources := make([]provider.Resource, 0, len(entries))

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			// Entry vanished between ReadDir and Stat.
			continue
		}

		resources = append(resources, p.toResource(folderPath, info))
	}

	filtered, err := provider.Apply(resources, opts)
	if err != nil {
		return nil, err
	}

	return &provider.ListResult{Resources: filtered}, nil
}

func (p *Provider) Read(
	ctx context.Context, folderPath, fileName string, opts provider.ListOptions, _ provider.Credentials,
) (*provider.Resource, error) {
	full, err := p.resolve(joinLogical(folderPath, fileName))
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, provider.Errorf(provider.ErrNotFound, "file %q does not exist", fileName)
		}

		return nil, provider.WrapError(provider.ErrProviderInteraction, "reading file metadata", err)
	}

	r := p.toResource(folderPath, info)

	return &r, nil
}

func (p *Provider) Create(
	ctx context.Context, folderPath, fileName string, upload *provider.Upload, _ provider.Credentials,
) (*provider.Resource, error) {
	if upload == nil {
		return nil, provider.NewError(provider.ErrMissingParameter, "no file payload supplied")
	}

	full, err := p.resolve(joinLogical(folderPath, fileName))
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(full); err == nil {
		return nil, provider.Errorf(provider.ErrFileExists, "%q already exists", fileName)
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, provider.WrapError(provider.ErrProviderInteraction, "creating parent folders", err)
	}

	if err := copyFile(upload.Path, full); err != nil {
		return nil, provider.WrapError(provider.ErrProviderInteraction, "storing file content", err)
	}

	p.logger.Info("created file",
		slog.String("provider", ProviderID),
		slog.String("path", joinLogical(folderPath, fileName)),
		slog.Int64("size", upload.Size),
	)

	return p.Read(ctx, folderPath, fileName, provider.ListOptions{}, provider.Credentials{})
}

func (p *Provider) Update(
	ctx context.Context, folderPath, fileName string, body provider.UpdateBody,
	upload *provider.Upload, _ provider.Credentials,
) (*provider.Resource, error) {
	if body.Empty() && upload == nil {
		return nil, provider.NewError(provider.ErrMissingParameter, "no updatable field supplied")
	}

	full, err := p.resolve(joinLogical(folderPath, fileName))
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return nil, provider.Errorf(provider.ErrNotFound, "file %q does not exist", fileName)
		}

		return nil, provider.WrapError(provider.ErrProviderInteraction, "reading file metadata", err)
	}

	// Updates apply in a fixed order: content, rename, move, timestamps.
	if upload != nil {
		if err := copyFile(upload.Path, full); err != nil {
			return nil, provider.WrapError(provider.ErrProviderInteraction, "replacing file content", err)
		}
	}

	newFolder, newName := folderPath, fileName

	if body.Name != "" {
		target, err := p.resolve(joinLogical(newFolder, body.Name))
		if err != nil {
			return nil, err
		}

		if err := os.Rename(full, target); err != nil {
			return nil, provider.WrapError(provider.ErrProviderInteraction, "renaming file", err)
		}

		full, newName = target, body.Name
	}

	if body.Path != "" {
		target, err := p.resolve(joinLogical(body.Path, newName))
		if err != nil {
			return nil, err
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, provider.WrapError(provider.ErrProviderInteraction, "creating target folder", err)
		}

		if err := os.Rename(full, target); err != nil {
			return nil, provider.WrapError(provider.ErrProviderInteraction, "moving file", err)
		}

		full, newFolder = target, body.Path
	}

	if body.LastModifiedTime != "" {
		t, err := time.Parse(time.RFC3339, body.LastModifiedTime)
		if err != nil {
			return nil, provider.Errorf(provider.ErrBadRequest, "lastModifiedTime %q is not RFC 3339", body.LastModifiedTime)
		}

		if err := os.Chtimes(full, t, t); err != nil {
			return nil, provider.WrapError(provider.ErrProviderInteraction, "setting timestamps", err)
		}
	}

	if body.CreatedAtTime != "" {
		// Creation time is not settable through portable filesystem calls.
		p.logger.Debug("ignoring createdAtTime update on local storage",
			slog.String("path", joinLogical(newFolder, newName)),
		)
	}

	return p.Read(ctx, newFolder, newName, provider.ListOptions{}, provider.Credentials{})
}

func (p *Provider) Delete(
	ctx context.Context, folderPath, fileName string, _ provider.Credentials,
) error {
	full, err := p.resolve(joinLogical(folderPath, fileName))
	if err != nil {
		return err
	}

	if full == p.basePath {
		return provider.NewError(provider.ErrBadRequest, "the storage root cannot be deleted")
	}

	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return provider.Errorf(provider.ErrBadRequest, "nothing to delete at %q", joinLogical(folderPath, fileName))
		}

		return provider.WrapError(provider.ErrProviderInteraction, "reading file metadata", err)
	}

	if fileName == "" || info.IsDir() {
		// Folder deletes are recursive on hierarchical local storage.
		if err := os.RemoveAll(full); err != nil {
			return provider.WrapError(provider.ErrProviderInteraction, "deleting folder", err)
		}

		return nil
	}

	if err := os.Remove(full); err != nil {
		return provider.WrapError(provider.ErrProviderInteraction, "deleting file", err)
	}

	return nil
}

// toResource converts a stat result into the canonical representation.
// Local filesystems expose no portable creation time, so createdAtTime is
// left empty rather than guessed.
func (p *Provider) toResource(folderPath string, info os.FileInfo) provider.Resource {
	logical := joinLogical(folderPath, info.Name())

	kind := provider.KindFile
	size := info.Size()
	mimeType := mime.TypeByExtension(filepath.Ext(info.Name()))

	if info.IsDir() {
		kind = provider.KindFolder
		size = provider.SizeUnknown
		mimeType = "inode/directory"
	}

	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return provider.Resource{
		Name:             info.Name(),
		Path:             logical,
		Kind:             kind,
		Provider:         ProviderID,
		MimeType:         mimeType,
		Size:             size,
		CreatedAtTime:    "",
		LastModifiedTime: provider.Timestamp(info.ModTime()),
		ContentURI:       p.contentURI(logical),
	}
}

func (p *Provider) contentURI(logical string) string {
	full := filepath.Join(p.basePath, filepath.FromSlash(logical))

	u := url.URL{Scheme: "file", Path: filepath.ToSlash(full)}

	return u.String()
}

func joinLogical(folderPath, fileName string) string {
	segments := provider.SplitPath(folderPath)
	if fileName != "" {
		segments = append(segments, fileName)
	}

	return provider.JoinPath(segments...)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}
