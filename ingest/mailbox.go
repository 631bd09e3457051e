package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"

	"nudge-core/domain"
)

// Mailbox is a durable drop-point for share payloads written by producers
// that cannot reach the repository directly. Payloads wait there until the
// next drain.
type Mailbox interface {
	// Append stores one payload at the tail of the mailbox.
	Append(ctx context.Context, p domain.SharePayload) error
	// ReadAll returns every decodable payload in arrival order, plus the
	// number of entries that could not be decoded.
	ReadAll(ctx context.Context) ([]domain.SharePayload, int, error)
	// Clear empties the mailbox.
	Clear(ctx context.Context) error
}

// FileMailbox keeps payloads in a single JSON array on disk. It is the
// default mailbox when no queue backend is configured.
type FileMailbox struct {
	path string
}

// NewFileMailbox creates a mailbox backed by the file at path. The file is
// created lazily on first append.
func NewFileMailbox(path string) *FileMailbox {
	return &FileMailbox{path: path}
}

func (m *FileMailbox) Append(ctx context.Context, p domain.SharePayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, _ := m.readRaw()
	data, err := domain.EncodeSharePayload(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	entries = append(entries, data)
	return m.writeRaw(entries)
}

// ReadAll decodes the stored payloads. Individual entries that fail to
// decode are counted and skipped; a file that is not a JSON array at all is
// treated as wholly corrupt, cleared, and reported as one bad entry.
func (m *FileMailbox) ReadAll(ctx context.Context) ([]domain.SharePayload, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	entries, err := m.readRaw()
	if err != nil {
		if clearErr := m.Clear(ctx); clearErr != nil {
			return nil, 1, fmt.Errorf("clear corrupt mailbox: %w", clearErr)
		}
		return nil, 1, nil
	}
	payloads := make([]domain.SharePayload, 0, len(entries))
	corrupt := 0
	for _, raw := range entries {
		p, err := domain.DecodeSharePayload(raw)
		if err != nil {
			corrupt++
			continue
		}
		payloads = append(payloads, p)
	}
	return payloads, corrupt, nil
}

func (m *FileMailbox) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear mailbox: %w", err)
	}
	return nil
}

func (m *FileMailbox) readRaw() ([]json.RawMessage, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read mailbox: %w", err)
	}
	var entries []json.RawMessage
	if err := sonic.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode mailbox: %w", err)
	}
	return entries, nil
}

func (m *FileMailbox) writeRaw(entries []json.RawMessage) error {
	data, err := sonic.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode mailbox: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create mailbox directory: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write mailbox: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("replace mailbox: %w", err)
	}
	return nil
}
