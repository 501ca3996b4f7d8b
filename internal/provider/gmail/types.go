package gmail

import (
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/dabbu-knowledge-platform/files-api-server/internal/provider"
)

// Synthetic MIME types for Gmail's non-file concepts.
const (
	labelMimeType  = "mail/label"
	threadMimeType = "mail/thread"
)

// Wire shapes for the Gmail REST API (users/me scope).

type labelListResponse struct {
	Labels []label `json:"labels"`
}

type label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type threadListResponse struct {
	Threads       []threadRef `json:"threads"`
	NextPageToken string      `json:"nextPageToken"`
}

type threadRef struct {
	ID string `json:"id"`
}

type thread struct {
	ID       string    `json:"id"`
	Messages []message `json:"messages"`
}

type message struct {
	ID           string       `json:"id"`
	InternalDate string       `json:"internalDate"`
	Payload      *messagePart `json:"payload"`
}

type messagePart struct {
	PartID   string        `json:"partId"`
	MimeType string        `json:"mimeType"`
	Filename string        `json:"filename"`
	Headers  []mailHeader  `json:"headers"`
	Body     *partBody     `json:"body"`
	Parts    []messagePart `json:"parts"`
}

type mailHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type partBody struct {
	AttachmentID string `json:"attachmentId"`
	Size         int64  `json:"size"`
	Data         string `json:"data"`
}

type attachmentResponse struct {
	Size int64  `json:"size"`
	Data string `json:"data"`
}

// header returns the named header of a message, or "".
func (m *message) header(name string) string {
	if m.Payload == nil {
		return ""
	}

	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}

	return ""
}

// when returns the message time: the Date header when parseable, falling
// back to Gmail's internalDate (milliseconds since epoch).
func (m *message) when() time.Time {
	if raw := m.header("Date"); raw != "" {
		if t, err := mail.ParseDate(raw); err == nil {
			return t
		}
	}

	if ms, err := strconv.ParseInt(m.InternalDate, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms)
	}

	return time.Time{}
}

// threadFileName synthesizes the stable display name of a thread. The
// thread ID is embedded so path-based addressing can recover it; the
// suffix marks the downloadable representation as an archive.
func threadFileName(t *thread) string {
	subject := "(No subject)"
	date := ""

	if len(t.Messages) > 0 {
		first := &t.Messages[0]

		if s := first.header("Subject"); s != "" {
			subject = s
		}

		if w := first.when(); !w.IsZero() {
			date = w.UTC().Format("02 Jan 2006")
		}
	}

	// Slashes would split the name into extra path segments.
	subject = strings.ReplaceAll(subject, "/", "-")

	return fmt.Sprintf("%s - %s - %s.zip", date, t.ID, subject)
}

// threadIDFromFileName recovers the thread ID embedded in a synthesized
// file name. Returns "" when the name does not carry one.
func threadIDFromFileName(fileName string) string {
	parts := strings.Split(fileName, " - ")
	if len(parts) < 3 {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// toThreadResource normalizes a fully or partially fetched thread.
func (p *Provider) toThreadResource(folderPath string, t *thread, exportType string) provider.Resource {
	name := threadFileName(t)
	segments := append(provider.SplitPath(folderPath), name)

	created, modified := "", ""

	if len(t.Messages) > 0 {
		if w := t.Messages[0].when(); !w.IsZero() {
			created = provider.Timestamp(w)
		}

		if w := t.Messages[len(t.Messages)-1].when(); !w.IsZero() {
			modified = provider.Timestamp(w)
		}
	}

	return provider.Resource{
		Name:             name,
		Path:             provider.JoinPath(segments...),
		Kind:             provider.KindFile,
		Provider:         ProviderID,
		MimeType:         threadMimeType,
		Size:             provider.SizeUnknown,
		CreatedAtTime:    created,
		LastModifiedTime: modified,
		ContentURI:       mailDeepLink(t.ID),
	}
}

// toLabelResource presents a label as a folder. Nested label names keep
// their full "A/B" form; each path segment resolves as one level.
func toLabelResource(l *label) provider.Resource {
	return provider.Resource{
		Name:             l.Name,
		Path:             "/" + l.Name,
		Kind:             provider.KindFolder,
		Provider:         ProviderID,
		MimeType:         labelMimeType,
		Size:             provider.SizeUnknown,
		CreatedAtTime:    "",
		LastModifiedTime: "",
		ContentURI:       "https://mail.google.com/mail/u/0/#label/" + l.Name,
	}
}

// mailDeepLink is the Gmail web UI link for a thread.
func mailDeepLink(threadID string) string {
	return "https://mail.google.com/mail/u/0/#inbox/" + threadID
}
