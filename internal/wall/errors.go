package wall

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// User-facing messages.
const (
	MsgEmptyContent   = "Post content cannot be empty"
	MsgFileType       = "Only JPG, PNG, and GIF files are allowed"
	MsgFileSize       = "File size must be less than 5MB"
	MsgUploadPrefix   = "Upload failed: "
	MsgUnknown        = "Post failed: unknown error"
	MsgCanceled       = "Post canceled"
	MsgTimedOut       = "Post timed out"
	MsgLoading        = "Loading posts..."
	MsgEmptyFeed      = "No posts yet. Be the first to share!"
	MsgLoadFailed     = "Failed to load posts. Please refresh the page."
	msgContentTooLong = "Post content cannot exceed %d characters"
)

var (
	ErrEmptyContent       = errors.New("empty content")
	ErrContentTooLong     = errors.New("content too long")
	ErrFileType           = errors.New("file type not allowed")
	ErrFileSize           = errors.New("file too large")
	ErrSubmissionInFlight = errors.New("a submission is already in progress")
	ErrLoadFailed         = errors.New("failed to load posts")
)

type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindUpload
	KindInsert
	KindUnknown
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUpload:
		return "upload"
	case KindInsert:
		return "insert"
	case KindUnknown:
		return "unknown"
	case KindCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// SubmitError is returned by every failed submission. Message is what the
// user sees.
type SubmitError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *SubmitError) Error() string { return e.Message }

func (e *SubmitError) Unwrap() error { return e.Err }

// IsKind 判断 err 是否为指定类别的提交错误
func IsKind(err error, kind ErrorKind) bool {
	var se *SubmitError
	return errors.As(err, &se) && se.Kind == kind
}

// unknownError serializes a recovered panic value best effort.
func unknownError(v any) *SubmitError {
	if err, ok := v.(error); ok {
		return &SubmitError{Kind: KindUnknown, Message: err.Error(), Err: err}
	}
	msg := MsgUnknown
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Struct, reflect.Slice, reflect.Array, reflect.Pointer:
		if b, err := json.Marshal(v); err == nil && string(b) != "null" {
			msg = string(b)
		}
	}
	return &SubmitError{Kind: KindUnknown, Message: msg, Err: fmt.Errorf("panic: %v", v)}
}
