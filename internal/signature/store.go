// Package signature stores approval signature images and remembers each
// user's current signature.
package signature

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"

	"github.com/odyssey-erp/stockcontrol/internal/shared"
)

// MaxImageBytes caps decoded signature images.
const MaxImageBytes = 2 << 20

var extensions = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/svg+xml": ".svg",
}

// Config configures the store.
type Config struct {
	Dir     string
	BaseURL string
	Logger  *slog.Logger
}

// Store writes signature images to disk under their content hash and keeps a
// per-user pointer to the latest one in redis.
type Store struct {
	dir     string
	baseURL string
	redis   redis.Cmdable
	logger  *slog.Logger
}

// NewStore constructs a Store, creating the image directory when missing.
func NewStore(client redis.Cmdable, cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("signature: directory required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("signature: create dir: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:     cfg.Dir,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		redis:   client,
		logger:  logger,
	}, nil
}

// UploadSignature persists a data URL image and makes it the actor's current
// signature. Identical images map to the same file.
func (s *Store) UploadSignature(ctx context.Context, actor shared.Actor, dataURL string) (string, error) {
	mime, payload, err := decodeDataURL(dataURL)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(payload)
	name := hex.EncodeToString(sum[:]) + extensions[mime]
	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := writeAtomic(path, payload); err != nil {
			return "", fmt.Errorf("signature: write: %w", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("signature: stat: %w", err)
	}
	url := s.baseURL + "/" + name
	if err := s.redis.Set(ctx, shared.SignatureKey(actor.CompanyID, actor.ID), url, 0).Err(); err != nil {
		return "", fmt.Errorf("signature: remember current: %w", err)
	}
	s.logger.Info("signature stored", slog.Int64("user_id", actor.ID), slog.String("file", name))
	return url, nil
}

// CurrentSignatureURL returns the latest signature of actor, or "" when none
// has been uploaded.
func (s *Store) CurrentSignatureURL(ctx context.Context, actor shared.Actor) (string, error) {
	url, err := s.redis.Get(ctx, shared.SignatureKey(actor.CompanyID, actor.ID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("signature: load current: %w", err)
	}
	return url, nil
}

// Clear forgets the actor's current signature. Files stay on disk since
// approval records keep referencing them.
func (s *Store) Clear(ctx context.Context, actor shared.Actor) error {
	return s.redis.Del(ctx, shared.SignatureKey(actor.CompanyID, actor.ID)).Err()
}

func decodeDataURL(raw string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(raw), "data:")
	if !ok {
		return "", nil, fmt.Errorf("%w: signature must be a data URL", shared.ErrValidation)
	}
	header, data, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: malformed data URL", shared.ErrValidation)
	}
	mime, encoding, _ := strings.Cut(header, ";")
	if _, known := extensions[mime]; !known {
		return "", nil, fmt.Errorf("%w: unsupported signature type %q", shared.ErrValidation, mime)
	}
	if encoding != "base64" {
		return "", nil, fmt.Errorf("%w: signature must be base64 encoded", shared.ErrValidation)
	}
	if base64.StdEncoding.DecodedLen(len(data)) > MaxImageBytes+3 {
		return "", nil, fmt.Errorf("%w: signature too large", shared.ErrValidation)
	}
	payload, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", nil, fmt.Errorf("%w: signature payload: %v", shared.ErrValidation, err)
	}
	if len(payload) == 0 || len(payload) > MaxImageBytes {
		return "", nil, fmt.Errorf("%w: signature size out of range", shared.ErrValidation)
	}
	return mime, payload, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".sig-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
