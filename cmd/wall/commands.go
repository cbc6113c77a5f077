package main

import (
	"context"
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"

	"github.com/d60-Lab/wall/internal/wall"
)

// postDeleter is the slice of the client the delete command needs.
type postDeleter interface {
	Delete(ctx context.Context, id string) error
}

// post submits one post through s. Upload progress goes to progress when it
// is non-nil; the result is printed to out.
func post(ctx context.Context, out, progress io.Writer, s *wall.Submitter, message, photo string) error {
	var file *wall.Attachment
	if photo != "" {
		att, err := wall.FileAttachment(photo)
		if err != nil {
			return fmt.Errorf("photo: %w", err)
		}
		if progress != nil {
			att.Open = withProgress(att.Open, progress, att.Size, "uploading "+att.Name)
		}
		file = att
	}

	p, err := s.Submit(ctx, message, file)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "posted %s at %s\n", p.ID, p.CreatedAt.Local().Format(wall.TimestampLayout))
	if p.PhotoURL != nil {
		fmt.Fprintf(out, "photo: %s\n", *p.PhotoURL)
	}
	return nil
}

func deletePost(ctx context.Context, out io.Writer, d postDeleter, id string) error {
	if err := d.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	fmt.Fprintf(out, "deleted %s\n", id)
	return nil
}

// withProgress wraps open so every read advances a byte progress bar on w.
func withProgress(open func() (io.ReadCloser, error), w io.Writer, size int64, desc string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		rc, err := open()
		if err != nil {
			return nil, err
		}
		bar := progressbar.NewOptions64(size,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(desc),
			progressbar.OptionShowBytes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(10),
			progressbar.OptionOnCompletion(func() { fmt.Fprint(w, "\n") }),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionFullWidth(),
		)
		r := progressbar.NewReader(rc, bar)
		return &r, nil
	}
}
