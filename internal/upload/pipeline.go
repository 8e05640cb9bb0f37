package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is where a staged attachment sits in its lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateStaged    State = "staged"
	StateUploading State = "uploading"
	StateSent      State = "sent"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// ErrNothingStaged is returned by Upload when no attachment is staged.
var ErrNothingStaged = errors.New("upload: no attachment staged")

// File is the minimal description of a local file to attach.
type File struct {
	Name     string
	MIMEType string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

// FileFromPath builds a File backed by the local filesystem.
func FileFromPath(path, mimeType string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, err
	}
	return File{
		Name:     info.Name(),
		MIMEType: mimeType,
		Size:     info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// PendingAttachment is a validated file staged for upload.
type PendingAttachment struct {
	ID         string
	Name       string
	Size       int64
	SizeLabel  string
	Kind       Kind
	MIMEType   string
	PreviewURL string

	file        File
	releaseOnce sync.Once
	release     func()
}

// ReleasePreview frees the local preview resource. Safe to call more than
// once and on attachments without a preview.
func (p *PendingAttachment) ReleasePreview() {
	p.releaseOnce.Do(func() {
		if p.release != nil {
			p.release()
		}
	})
}

// ObjectStore is the storage surface the pipeline needs: upload an object
// and delete one that turned out to be orphaned.
type ObjectStore interface {
	UploadObject(ctx context.Context, bucket, path string, body io.Reader, contentType string) error
	DeleteObject(ctx context.Context, bucket, path string) error
}

// Prefetcher warms a URL cache for a freshly uploaded object so the sent
// message renders without a second round trip.
type Prefetcher interface {
	Prefetch(ctx context.Context, bucket, path string)
}

// Sender delivers the chat message that references the uploaded object.
type Sender interface {
	SendAttachmentMessage(ctx context.Context, conversationID, clientID, attachmentPath, attachmentKind, caption string) error
}

// PreviewFactory produces a locally viewable preview for a staged file and
// a release func that frees it. Implementations may return an empty URL for
// kinds with no preview.
type PreviewFactory func(file File, kind Kind) (url string, release func(), err error)

// Pipeline stages one attachment at a time for a conversation and moves it
// through staged → uploading → sent, with cancellation at any point before
// the send. Cancellation cannot abort in-flight network I/O; instead every
// completion re-checks a monotonic token and deletes the object it just
// wrote when the token moved on.
type Pipeline struct {
	Store       ObjectStore
	Prefetch    Prefetcher
	Sender      Sender
	Bucket      string
	Convo       string
	UserID      string
	Limits      Limits
	MakePreview PreviewFactory

	mu      sync.Mutex
	token   uint64
	pending *PendingAttachment
	state   State
	lastErr error

	// test seams
	now   func() time.Time
	newID func() string
}

// NewPipeline wires a pipeline for one conversation.
func NewPipeline(store ObjectStore, prefetch Prefetcher, sender Sender, bucket, conversationID, userID string) *Pipeline {
	return &Pipeline{
		Store:    store,
		Prefetch: prefetch,
		Sender:   sender,
		Bucket:   bucket,
		Convo:    conversationID,
		UserID:   userID,
		Limits:   DefaultLimits,
		state:    StateIdle,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
}

// State reports the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err reports the error from the last failed upload, if any.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Pending returns the currently staged attachment, or nil.
func (p *Pipeline) Pending() *PendingAttachment {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// SelectFile validates a file and stages it, replacing any previous staged
// attachment and invalidating any upload in flight. A validation failure
// leaves the previous staged attachment untouched and returns a *Rejection.
func (p *Pipeline) SelectFile(file File) (*PendingAttachment, error) {
	kind, err := Validate(file.Name, file.MIMEType, file.Size, p.Limits)
	if err != nil {
		return nil, err
	}

	var previewURL string
	var release func()
	if p.MakePreview != nil {
		previewURL, release, err = p.MakePreview(file, kind)
		if err != nil {
			slog.Debug("attachment preview unavailable", "file", file.Name, "error", err)
			previewURL, release = "", nil
		}
	}

	att := &PendingAttachment{
		ID:         p.newID(),
		Name:       file.Name,
		Size:       file.Size,
		SizeLabel:  FormatSize(file.Size),
		Kind:       kind,
		MIMEType:   file.MIMEType,
		PreviewURL: previewURL,
		file:       file,
		release:    release,
	}

	p.mu.Lock()
	p.token++
	old := p.pending
	p.pending = att
	p.state = StateStaged
	p.lastErr = nil
	p.mu.Unlock()

	if old != nil {
		old.ReleasePreview()
	}
	return att, nil
}

// Cancel discards the staged attachment and invalidates any upload in
// flight. Idempotent; a no-op when nothing is staged or uploading.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	if p.state != StateStaged && p.state != StateUploading {
		p.mu.Unlock()
		return
	}
	p.token++
	old := p.pending
	p.pending = nil
	p.state = StateCancelled
	p.lastErr = nil
	p.mu.Unlock()

	if old != nil {
		old.ReleasePreview()
	}
}

// Clear resets a terminal pipeline back to idle so a new file can be staged
// without carrying a stale error or attachment.
func (p *Pipeline) Clear() {
	p.mu.Lock()
	if p.state == StateUploading {
		p.mu.Unlock()
		return
	}
	p.token++
	old := p.pending
	p.pending = nil
	p.state = StateIdle
	p.lastErr = nil
	p.mu.Unlock()

	if old != nil {
		old.ReleasePreview()
	}
}

// Upload ships the staged attachment and sends the message that references
// it. If Cancel or SelectFile ran while the object upload was in flight,
// the freshly written object is deleted best-effort and no message is sent;
// Upload then returns nil because the cancellation already won.
func (p *Pipeline) Upload(ctx context.Context, caption string) error {
	p.mu.Lock()
	if p.pending == nil || p.state != StateStaged {
		p.mu.Unlock()
		return ErrNothingStaged
	}
	att := p.pending
	myToken := p.token
	p.state = StateUploading
	p.mu.Unlock()

	path, err := p.buildPath(att)
	if err != nil {
		return p.fail(myToken, att, err)
	}

	body, err := att.file.Open()
	if err != nil {
		return p.fail(myToken, att, fmt.Errorf("open %s: %w", att.Name, err))
	}
	uploadErr := p.Store.UploadObject(ctx, p.Bucket, path, body, att.MIMEType)
	body.Close()

	// The storage call cannot be aborted mid-flight, so a cancellation that
	// raced it is detected here. The object landed; remove it.
	if p.stale(myToken) {
		p.deleteOrphan(path)
		return nil
	}
	if uploadErr != nil {
		return p.fail(myToken, att, fmt.Errorf("upload %s: %w", att.Name, uploadErr))
	}

	if p.Prefetch != nil {
		p.Prefetch.Prefetch(ctx, p.Bucket, path)
	}

	if p.stale(myToken) {
		p.deleteOrphan(path)
		return nil
	}

	if err := p.Sender.SendAttachmentMessage(ctx, p.Convo, p.newID(), path, string(att.Kind), caption); err != nil {
		// The object stays; a retry can reference it or the next upload
		// writes a fresh path.
		return p.fail(myToken, att, fmt.Errorf("send message: %w", err))
	}

	p.mu.Lock()
	if p.token == myToken {
		p.pending = nil
		p.state = StateSent
		p.lastErr = nil
	}
	p.mu.Unlock()
	att.ReleasePreview()
	return nil
}

func (p *Pipeline) stale(token uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token != token
}

// fail records a retryable failure unless a cancellation already superseded
// this attempt.
func (p *Pipeline) fail(token uint64, att *PendingAttachment, err error) error {
	p.mu.Lock()
	if p.token != token {
		p.mu.Unlock()
		return nil
	}
	p.pending = att
	p.state = StateFailed
	p.lastErr = err
	p.mu.Unlock()
	return err
}

// deleteOrphan removes an object whose upload was cancelled after the bytes
// already landed. Best effort: a leaked object is invisible to users and
// cheap, a blocked cancel is not.
func (p *Pipeline) deleteOrphan(path string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.Store.DeleteObject(ctx, p.Bucket, path); err != nil {
		slog.Debug("orphaned attachment not deleted", "path", path, "error", err)
	}
}

func (p *Pipeline) buildPath(att *PendingAttachment) (string, error) {
	ext := SafeExtension(att.Name, att.MIMEType, att.Kind)
	if ext == "" {
		return "", fmt.Errorf("no usable extension for %s", att.Name)
	}
	return fmt.Sprintf("message_attachments/%s/%s/%d-%s.%s",
		p.Convo, p.UserID, p.now().UnixMilli(), p.newID(), ext), nil
}

// TempFilePreview is a PreviewFactory that copies the file into the OS temp
// directory so a local viewer can open it; release deletes the copy. Only
// images get previews.
func TempFilePreview(file File, kind Kind) (string, func(), error) {
	if kind != KindImage {
		return "", nil, nil
	}
	src, err := file.Open()
	if err != nil {
		return "", nil, err
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "movinesta-preview-*."+Extension(file.Name))
	if err != nil {
		return "", nil, err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, err
	}
	name := tmp.Name()
	return "file://" + name, func() { os.Remove(name) }, nil
}
