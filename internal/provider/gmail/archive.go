package gmail

import (
	"archive/zip"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/oauth2"

	"github.com/dabbu-knowledge-platform/files-api-server/internal/provider"
)

// buildArchive materializes a thread as a zip archive in the cache: one
// text file per message plus one file per attachment. Attachment fetches
// are sequential, and an individual failure degrades to a note in the
// message text instead of aborting the archive — a thread with one dead
// attachment is still worth returning.
//
// Returns the cache-relative path of the archive and its size.
func (p *Provider) buildArchive(
	ctx context.Context, token oauth2.TokenSource, t *thread, archiveName string,
) (string, int64, error) {
	scratch, err := p.cache.ScratchDir()
	if err != nil {
		return "", 0, provider.WrapError(provider.ErrProviderInteraction, "creating scratch directory", err)
	}
	defer os.RemoveAll(scratch)

	for i := range t.Messages {
		if err := p.writeMessage(ctx, token, scratch, i, &t.Messages[i]); err != nil {
			return "", 0, err
		}
	}

	rel, size, err := p.zipDirectory(scratch, archiveName)
	if err != nil {
		return "", 0, err
	}

	p.logger.Info("generated thread archive",
		slog.String("thread_id", t.ID),
		slog.String("cache_path", rel),
		slog.Int64("size", size),
	)

	return rel, size, nil
}

// writeMessage renders one message into "Message N.txt" plus its
// attachment files.
func (p *Provider) writeMessage(
	ctx context.Context, token oauth2.TokenSource, scratch string, index int, m *message,
) error {
	var text strings.Builder

	for _, name := range []string{"From", "To", "Cc", "Subject", "Date"} {
		if v := m.header(name); v != "" {
			fmt.Fprintf(&text, "%s: %s\n", name, v)
		}
	}

	text.WriteString("\n")
	text.WriteString(messageBodyText(m.Payload))

	// Attachments, fetched one at a time. Failures degrade to notes.
	for _, att := range collectAttachments(m.Payload) {
		data, err := p.fetchAttachment(ctx, token, m.ID, att)
		if err != nil {
			fmt.Fprintf(&text, "\n[failed to fetch attachment %q: %v]\n", att.Filename, err)
			p.logger.Warn("attachment fetch failed",
				slog.String("message_id", m.ID),
				slog.String("filename", att.Filename),
				slog.String("error", err.Error()),
			)

			continue
		}

		name := fmt.Sprintf("Message %d - %s", index+1, sanitizeFileName(att.Filename))
		if err := os.WriteFile(filepath.Join(scratch, name), data, 0o644); err != nil {
			return provider.WrapError(provider.ErrProviderInteraction, "writing attachment", err)
		}
	}

	name := fmt.Sprintf("Message %d.txt", index+1)
	if err := os.WriteFile(filepath.Join(scratch, name), []byte(text.String()), 0o644); err != nil {
		return provider.WrapError(provider.ErrProviderInteraction, "writing message text", err)
	}

	return nil
}

// fetchAttachment retrieves one attachment's bytes. Inline parts carry the
// data directly; stored attachments need a follow-up call.
func (p *Provider) fetchAttachment(
	ctx context.Context, token oauth2.TokenSource, messageID string, att *messagePart,
) ([]byte, error) {
	if att.Body == nil {
		return nil, provider.NewError(provider.ErrProviderInteraction, "attachment has no body")
	}

	if att.Body.Data != "" {
		return decodeBody(att.Body.Data)
	}

	path := fmt.Sprintf("/messages/%s/attachments/%s",
		url.PathEscape(messageID), url.PathEscape(att.Body.AttachmentID))

	var resp attachmentResponse
	if err := p.client.GetJSON(ctx, token, path, &resp); err != nil {
		return nil, err
	}

	return decodeBody(resp.Data)
}

// zipDirectory packages every file in scratch into one cache artifact.
func (p *Provider) zipDirectory(scratch, archiveName string) (string, int64, error) {
	out, rel, err := p.cache.Create(archiveName)
	if err != nil {
		return "", 0, provider.WrapError(provider.ErrProviderInteraction, "creating cache artifact", err)
	}

	zw := zip.NewWriter(out)

	entries, err := os.ReadDir(scratch)
	if err != nil {
		out.Close()
		return "", 0, provider.WrapError(provider.ErrProviderInteraction, "reading scratch directory", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		w, err := zw.Create(entry.Name())
		if err != nil {
			out.Close()
			return "", 0, provider.WrapError(provider.ErrProviderInteraction, "adding archive entry", err)
		}

		f, err := os.Open(filepath.Join(scratch, entry.Name()))
		if err != nil {
			out.Close()
			return "", 0, provider.WrapError(provider.ErrProviderInteraction, "reading scratch file", err)
		}

		_, err = io.Copy(w, f)
		f.Close()

		if err != nil {
			out.Close()
			return "", 0, provider.WrapError(provider.ErrProviderInteraction, "writing archive entry", err)
		}
	}

	if err := zw.Close(); err != nil {
		out.Close()
		return "", 0, provider.WrapError(provider.ErrProviderInteraction, "finalizing archive", err)
	}

	if err := out.Close(); err != nil {
		return "", 0, provider.WrapError(provider.ErrProviderInteraction, "finalizing archive", err)
	}

	full := filepath.Join(p.cache.Root(), filepath.FromSlash(rel))

	info, err := os.Stat(full)
	if err != nil {
		return "", 0, provider.WrapError(provider.ErrProviderInteraction, "reading archive metadata", err)
	}

	return rel, info.Size(), nil
}

// messageBodyText extracts the best text rendition of a message part
// tree: a text/plain part verbatim, else a text/html part stripped to
// text, else "".
func messageBodyText(part *messagePart) string {
	if part == nil {
		return ""
	}

	if plain := findPart(part, "text/plain"); plain != nil {
		if data, err := decodeBody(plain.Body.Data); err == nil {
			return string(data)
		}
	}

	if htmlPart := findPart(part, "text/html"); htmlPart != nil {
		if data, err := decodeBody(htmlPart.Body.Data); err == nil {
			return htmlToText(string(data))
		}
	}

	return ""
}

// findPart walks the part tree depth-first for the first non-attachment
// part of the given MIME type with inline data.
func findPart(part *messagePart, mimeType string) *messagePart {
	if part.MimeType == mimeType && part.Filename == "" && part.Body != nil && part.Body.Data != "" {
		return part
	}

	for i := range part.Parts {
		if found := findPart(&part.Parts[i], mimeType); found != nil {
			return found
		}
	}

	return nil
}

// collectAttachments walks the part tree for named attachment parts.
func collectAttachments(part *messagePart) []*messagePart {
	if part == nil {
		return nil
	}

	var attachments []*messagePart

	if part.Filename != "" && part.Body != nil {
		attachments = append(attachments, part)
	}

	for i := range part.Parts {
		attachments = append(attachments, collectAttachments(&part.Parts[i])...)
	}

	return attachments
}

// decodeBody decodes Gmail's URL-safe base64 body encoding.
func decodeBody(data string) ([]byte, error) {
	decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return nil, provider.WrapError(provider.ErrProviderInteraction, "decoding message body", err)
	}

	return decoded, nil
}

// htmlToText strips an HTML document to its visible text.
func htmlToText(raw string) string {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return raw
	}

	var text strings.Builder

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style"):
			return
		case n.Type == html.TextNode:
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				text.WriteString(trimmed)
				text.WriteString("\n")
			}
		}

		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}

	walk(doc)

	return text.String()
}

// sanitizeFileName keeps attachment names from escaping the scratch
// directory or splitting into path segments.
func sanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.ReplaceAll(name, `\`, "-")

	if name == "" || name == "." || name == ".." {
		return "attachment"
	}

	return name
}
