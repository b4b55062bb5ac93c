package filestore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/vinylai/vinylai/pkg/filestore/local"
	"github.com/vinylai/vinylai/pkg/filestore/s3"
	"github.com/vinylai/vinylai/pkg/filestore/tgstore"
)

type fs interface {
	Upload(ctx context.Context, path, name string) (string, error)
}

// Store publishes finished artifacts and returns a reference the notifier can
// deliver.
type Store struct {
	fs fs
}

// SetMP4 uploads a finished video and returns its public reference.
func (s *Store) SetMP4(ctx context.Context, path, id string) (string, error) {
	return s.fs.Upload(ctx, path, MP4(id))
}

// SetPNG uploads a cover image and returns its public reference.
func (s *Store) SetPNG(ctx context.Context, path, id string) (string, error) {
	return s.fs.Upload(ctx, path, PNG(id))
}

// SetMP3 uploads an audio track and returns its public reference.
func (s *Store) SetMP3(ctx context.Context, path, id string) (string, error) {
	return s.fs.Upload(ctx, path, MP3(id))
}

func New(typ, conn, proxy string, debug bool) (*Store, error) {
	var fs fs
	switch typ {
	case "telegram":
		split := strings.Split(conn, "@")
		if len(split) != 2 {
			return nil, fmt.Errorf("filestore: invalid telegram connection string %q", conn)
		}
		token := split[0]
		chat, err := strconv.ParseInt(split[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("filestore: invalid telegram chat id %q: %w", split[1], err)
		}
		candidate, err := tgstore.New(token, chat, proxy, debug)
		if err != nil {
			return nil, fmt.Errorf("filestore: %w", err)
		}
		fs = candidate
	case "s3":
		split := strings.Split(conn, "@")
		if len(split) != 2 {
			return nil, fmt.Errorf("filestore: invalid s3 connection string %q", conn)
		}
		auth := strings.Split(split[0], ":")
		if len(auth) != 2 {
			return nil, fmt.Errorf("filestore: invalid s3 auth string %q", conn)
		}
		key := auth[0]
		secret := auth[1]
		loc := strings.Split(split[1], ".")
		if len(loc) != 2 {
			return nil, fmt.Errorf("filestore: invalid s3 location string %q", conn)
		}
		bucket := loc[0]
		region := loc[1]
		candidate, err := s3.New(key, secret, region, bucket, debug)
		if err != nil {
			return nil, fmt.Errorf("filestore: %w", err)
		}
		fs = candidate
	case "local":
		fs = local.New(conn, debug)
	default:
		return nil, fmt.Errorf("filestore: unknown file storage type %q", typ)
	}
	return &Store{fs: fs}, nil
}

func MP4(id string) string {
	return "vinyl_" + id + ".mp4"
}

func PNG(id string) string {
	return id + ".png"
}

func MP3(id string) string {
	return id + ".mp3"
}
