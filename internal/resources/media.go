package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bmr-systems/bmr-admin/internal/repository"
)

// MediaUpload attaches a file to an event.
type MediaUpload struct {
	Event     int
	Title     string
	MediaInfo string
	Filename  string
	Content   io.Reader
}

// EventMediaRepo is the event media collection with file upload.
type EventMediaRepo struct {
	*repository.Repository[EventMedia]
}

func NewEventMedia(client repository.Client, opts ...repository.Option) *EventMediaRepo {
	return &EventMediaRepo{Repository: repository.New[EventMedia](client, MustLookup("event-media").Path, opts...)}
}

// UploadFile posts the file to the collection's upload endpoint. The
// title defaults to the file name without extension.
func (r *EventMediaRepo) UploadFile(ctx context.Context, in MediaUpload) (*EventMedia, error) {
	if in.Content == nil || in.Filename == "" {
		return nil, fmt.Errorf("upload media: file is required")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(in.Filename), filepath.Ext(in.Filename))
	}

	extra := map[string]string{
		"title":     title,
		"file_name": filepath.Base(in.Filename),
		"file_type": strings.TrimPrefix(strings.ToLower(filepath.Ext(in.Filename)), "."),
	}
	if in.Event != 0 {
		extra["event"] = strconv.Itoa(in.Event)
	}
	if in.MediaInfo != "" {
		extra["media_info"] = in.MediaInfo
	}

	raw, err := r.Upload(ctx, 0, "file", filepath.Base(in.Filename), in.Content, extra)
	if err != nil {
		return nil, err
	}
	var media EventMedia
	if err := json.Unmarshal(raw, &media); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	return &media, nil
}
