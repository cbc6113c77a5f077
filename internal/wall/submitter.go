package wall

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultAuthor    = "Jazzer Giancarlo M. Ancheta"
	DefaultBucket    = "wall-photos"
	MaxContentLength = 280
	MaxFileSize      = 5 << 20
)

// AllowedTypes 允许上传的图片类型
var AllowedTypes = []string{"image/jpeg", "image/png", "image/gif"}

// Attachment is a file selected for upload. ContentType is the declared
// media type; Open is called once per upload attempt.
type Attachment struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// FileAttachment describes a local file, detecting its media type from content.
func FileAttachment(path string) (*Attachment, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("detect type: %w", err)
	}
	return &Attachment{
		Name:        filepath.Base(path),
		ContentType: mt.String(),
		Size:        st.Size(),
		Open:        func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// Ext 取文件名最后一个 "." 之后的部分；没有 "." 时返回整个文件名
func (a *Attachment) Ext() string {
	if i := strings.LastIndex(a.Name, "."); i >= 0 {
		return a.Name[i+1:]
	}
	return a.Name
}

// Draft is the composer's input state.
type Draft struct {
	Content   string
	Remaining int
	File      *Attachment
}

// Submitter is the optimistic submission controller. A submission first
// prepends a pending placeholder to the List, then uploads the optional
// photo, inserts the row and finally replaces the placeholder with the
// committed row or removes it.
type Submitter struct {
	posts PostStore
	blobs BlobStore
	list  List

	author       string
	bucket       string
	maxLen       int
	maxFile      int64
	allowed      []string
	timeout      time.Duration
	retainFailed bool
	now          func() time.Time
	newToken     func() string
	log          *zap.Logger

	inFlight atomic.Bool

	mu      sync.Mutex
	draft   Draft
	cancel  context.CancelCauseFunc
	lastErr error
}

type Option func(*Submitter)

func WithAuthor(name string) Option { return func(s *Submitter) { s.author = name } }

func WithBucket(bucket string) Option { return func(s *Submitter) { s.bucket = bucket } }

// WithSubmitTimeout bounds a whole submission, upload included.
func WithSubmitTimeout(d time.Duration) Option { return func(s *Submitter) { s.timeout = d } }

// WithRetainFailed keeps failed placeholders in the list, marked failed with
// the error message, instead of removing them.
func WithRetainFailed(retain bool) Option { return func(s *Submitter) { s.retainFailed = retain } }

func WithClock(now func() time.Time) Option { return func(s *Submitter) { s.now = now } }

func WithTokenGenerator(gen func() string) Option { return func(s *Submitter) { s.newToken = gen } }

func WithLogger(l *zap.Logger) Option {
	return func(s *Submitter) {
		if l != nil {
			s.log = l
		}
	}
}

func NewSubmitter(posts PostStore, blobs BlobStore, list List, opts ...Option) *Submitter {
	s := &Submitter{
		posts:    posts,
		blobs:    blobs,
		list:     list,
		author:   DefaultAuthor,
		bucket:   DefaultBucket,
		maxLen:   MaxContentLength,
		maxFile:  MaxFileSize,
		allowed:  AllowedTypes,
		now:      time.Now,
		newToken: uuid.NewString,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.draft.Remaining = s.maxLen
	return s
}

// Pending reports whether a submission is in flight.
func (s *Submitter) Pending() bool { return s.inFlight.Load() }

func (s *Submitter) Draft() Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// LastError is the message of the most recent failed submission, cleared
// when the next one starts.
func (s *Submitter) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Submitter) SetContent(content string) {
	s.mu.Lock()
	s.draft.Content = content
	s.draft.Remaining = s.maxLen - utf8.RuneCountInString(content)
	s.mu.Unlock()
}

func (s *Submitter) SetFile(a *Attachment) {
	s.mu.Lock()
	s.draft.File = a
	s.mu.Unlock()
}

func (s *Submitter) ClearFile() { s.SetFile(nil) }

// CanSubmit mirrors the submit control: content present and nothing in flight.
func (s *Submitter) CanSubmit() bool {
	d := s.Draft()
	return strings.TrimSpace(d.Content) != "" && !s.Pending()
}

// Cancel aborts the in-flight submission, if any.
func (s *Submitter) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel(errCanceledByUser)
	return true
}

var errCanceledByUser = errors.New("canceled by user")

// SubmitDraft submits the current draft.
func (s *Submitter) SubmitDraft(ctx context.Context) (*Post, error) {
	d := s.Draft()
	return s.Submit(ctx, d.Content, d.File)
}

// Submit runs one optimistic submission. Preconditions on content are
// checked before any placeholder exists; every later failure removes (or
// marks) the placeholder and returns a *SubmitError.
func (s *Submitter) Submit(ctx context.Context, content string, file *Attachment) (*Post, error) {
	if strings.TrimSpace(content) == "" {
		return nil, &SubmitError{Kind: KindValidation, Message: MsgEmptyContent, Err: ErrEmptyContent}
	}
	if utf8.RuneCountInString(content) > s.maxLen {
		return nil, &SubmitError{Kind: KindValidation, Message: fmt.Sprintf(msgContentTooLong, s.maxLen), Err: ErrContentTooLong}
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSubmissionInFlight
	}
	defer s.inFlight.Store(false)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if s.timeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, s.timeout)
		defer stop()
	}

	s.mu.Lock()
	s.cancel = cancel
	s.lastErr = nil
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	token := s.newToken()
	tempID := TempPrefix + token
	s.list.Prepend(Post{
		ID:          tempID,
		Author:      s.author,
		Content:     content,
		CreatedAt:   s.now().UTC(),
		ClientToken: token,
		Status:      StatusPending,
	})

	post, err := s.run(ctx, content, file, token)
	if err != nil {
		s.rollback(tempID, err)
		return nil, err
	}

	s.list.Replace(tempID, *post)
	s.mu.Lock()
	s.draft = Draft{Remaining: s.maxLen}
	s.mu.Unlock()
	s.log.Info("post committed", zap.String("id", post.ID), zap.String("client_token", token))
	return post, nil
}

func (s *Submitter) rollback(tempID string, err error) {
	var se *SubmitError
	if !errors.As(err, &se) {
		se = &SubmitError{Kind: KindUnknown, Message: MsgUnknown, Err: err}
	}
	if s.retainFailed && se.Kind != KindCanceled {
		s.list.MarkFailed(tempID, se.Message)
	} else {
		s.list.Remove(tempID)
	}
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.log.Warn("post failed", zap.String("kind", se.Kind.String()), zap.Error(se.Err))
}

// run returns only *SubmitError errors.
func (s *Submitter) run(ctx context.Context, content string, file *Attachment, token string) (post *Post, err error) {
	defer func() {
		if r := recover(); r != nil {
			post, err = nil, unknownError(r)
		}
	}()

	var photoURL *string
	if file != nil {
		if err := s.validate(file); err != nil {
			return nil, err
		}
		url, err := s.upload(ctx, file)
		if err != nil {
			return nil, err
		}
		photoURL = &url
	}

	if err := ctx.Err(); err != nil {
		return nil, canceled(ctx)
	}
	p, err := s.posts.Insert(ctx, NewPost{
		Author:      s.author,
		Content:     content,
		PhotoURL:    photoURL,
		ClientToken: token,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, canceled(ctx)
		}
		return nil, &SubmitError{Kind: KindInsert, Message: err.Error(), Err: err}
	}
	if p == nil {
		return nil, &SubmitError{Kind: KindUnknown, Message: MsgUnknown, Err: errors.New("insert returned no row")}
	}
	return p, nil
}

func (s *Submitter) validate(file *Attachment) error {
	allowed := false
	for _, t := range s.allowed {
		if t == file.ContentType {
			allowed = true
			break
		}
	}
	if !allowed {
		return &SubmitError{Kind: KindValidation, Message: MsgFileType, Err: ErrFileType}
	}
	if file.Size > s.maxFile {
		return &SubmitError{Kind: KindValidation, Message: MsgFileSize, Err: ErrFileSize}
	}
	return nil
}

func (s *Submitter) upload(ctx context.Context, file *Attachment) (string, error) {
	key := fmt.Sprintf("%d.%s", s.now().UnixMilli(), file.Ext())

	body, err := file.Open()
	if err != nil {
		return "", &SubmitError{Kind: KindUpload, Message: MsgUploadPrefix + err.Error(), Err: err}
	}
	defer body.Close()

	path, err := s.blobs.Upload(ctx, s.bucket, key, body, file.Size, file.ContentType)
	if err != nil {
		if ctx.Err() != nil {
			return "", canceled(ctx)
		}
		return "", &SubmitError{Kind: KindUpload, Message: MsgUploadPrefix + err.Error(), Err: err}
	}
	return s.blobs.PublicURL(s.bucket, path), nil
}

func canceled(ctx context.Context) *SubmitError {
	cause := context.Cause(ctx)
	if errors.Is(cause, context.DeadlineExceeded) {
		return &SubmitError{Kind: KindCanceled, Message: MsgTimedOut, Err: cause}
	}
	return &SubmitError{Kind: KindCanceled, Message: MsgCanceled, Err: cause}
}
