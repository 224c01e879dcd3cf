package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/deskhub/pkg/logging"
	"github.com/gabriel-vasile/mimetype"
)

// AttachmentStore materialises media under a tenant/ticket scoped path and
// returns the url it will be served from.
type AttachmentStore interface {
	Store(ctx context.Context, tenantID, ticketID uint, messageID string, data []byte, suggestedName string) (string, error)
}

type FileStore struct {
	root    string
	baseURL string
	log     *logging.Logger
}

func NewFileStore(root, baseURL string, log *logging.Logger) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("creating media dir: %w", err)
	}
	return &FileStore{root: root, baseURL: strings.TrimRight(baseURL, "/"), log: log.Sub("storage")}, nil
}

func (s *FileStore) Store(ctx context.Context, tenantID, ticketID uint, messageID string, data []byte, suggestedName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty attachment for message %s", messageID)
	}

	tenant, ticket := strconv.FormatUint(uint64(tenantID), 10), strconv.FormatUint(uint64(ticketID), 10)
	dir := filepath.Join(s.root, tenant, ticket)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating attachment dir: %w", err)
	}

	name := FileName(messageID, suggestedName, data)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o640); err != nil {
		return "", fmt.Errorf("writing attachment: %w", err)
	}

	s.log.Debug().Str("file", name).Int("bytes", len(data)).Msg("attachment stored")
	return s.baseURL + "/" + path.Join(tenant, ticket, url.PathEscape(name)), nil
}

// FileName builds "<messageID>-<base name>", deriving an extension from the
// content when the suggestion has none.
func FileName(messageID, suggested string, data []byte) string {
	base := filepath.Base(filepath.Clean("/" + suggested))
	if base == "/" || base == "." {
		base = ""
	}
	safeID := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, messageID)
	if base == "" {
		return safeID + mimetype.Detect(data).Extension()
	}
	if filepath.Ext(base) == "" {
		base += mimetype.Detect(data).Extension()
	}
	return safeID + "-" + base
}
