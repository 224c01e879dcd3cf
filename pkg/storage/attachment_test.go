package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/deskhub/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func TestFileName(t *testing.T) {
	assert.Equal(t, "abc1-invoice.pdf", FileName("abc1", "invoice.pdf", []byte("%PDF-1.4")))
	assert.Equal(t, "abc1-passwd.txt", FileName("abc1", "../../etc/passwd.txt", nil))
	assert.Equal(t, "abc1-photo.png", FileName("abc1", "photo", pngHeader))
	assert.Equal(t, "abc1.png", FileName("abc1", "", pngHeader))
	assert.Equal(t, "a_b-x.png", FileName("a/b", "x.png", nil))
}

func TestStoreWritesUnderTenantAndTicket(t *testing.T) {
	root := t.TempDir()
	fs, err := NewFileStore(root, "https://cdn.example.com/media/", logging.Nop())
	require.NoError(t, err)

	url, err := fs.Store(context.Background(), 3, 42, "abc1", pngHeader, "photo.png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/media/3/42/abc1-photo.png", url)

	data, err := os.ReadFile(filepath.Join(root, "3", "42", "abc1-photo.png"))
	require.NoError(t, err)
	assert.Equal(t, pngHeader, data)
}

func TestStoreRejectsEmptyData(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), "/media", logging.Nop())
	require.NoError(t, err)
	_, err = fs.Store(context.Background(), 1, 1, "x", nil, "a.txt")
	assert.Error(t, err)
}

func TestStoreHonoursCancelledContext(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), "/media", logging.Nop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = fs.Store(ctx, 1, 1, "x", pngHeader, "a.png")
	assert.ErrorIs(t, err, context.Canceled)
}
