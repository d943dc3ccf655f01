// Package filestore keeps uploaded PDFs on disk, optionally encrypted at rest,
// and hands the pipeline a readable path for the duration of a run.
package filestore

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/joseph-ayodele/medsummary/constants"
	"github.com/joseph-ayodele/medsummary/internal/common"
)

var sealedMagic = []byte("MSE1")

const keyInfo = "medsummary upload encryption v1"

type Config struct {
	UploadDir  string
	ScratchDir string // "" -> os.TempDir()
	// EncryptionKey enables XChaCha20-Poly1305 at rest when non-empty.
	EncryptionKey string
	MaxBytes      int64
}

// Stored describes a saved upload.
type Stored struct {
	Path   string
	Size   int64
	SHA256 string
}

type Store struct {
	cfg    Config
	aead   aeadCipher
	logger *slog.Logger
}

type aeadCipher interface {
	NonceSize() int
	Overhead() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UploadDir == "" {
		return nil, fmt.Errorf("%w: upload dir is required", common.ErrValidation)
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o700); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	s := &Store{cfg: cfg, logger: logger}
	if cfg.EncryptionKey != "" {
		key := make([]byte, chacha20poly1305.KeySize)
		if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(cfg.EncryptionKey), nil, []byte(keyInfo)), key); err != nil {
			return nil, fmt.Errorf("derive key: %w", err)
		}
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("init cipher: %w", err)
		}
		s.aead = aead
	}
	return s, nil
}

// Encrypted reports whether uploads are sealed at rest.
func (s *Store) Encrypted() bool { return s.aead != nil }

func (s *Store) path(id uuid.UUID) string {
	name := id.String() + ".pdf"
	if s.Encrypted() {
		name += ".sealed"
	}
	return filepath.Join(s.cfg.UploadDir, name)
}

// Save reads one PDF from r, checks its size and signature, and writes it under id.
func (s *Store) Save(ctx context.Context, id uuid.UUID, r io.Reader) (Stored, error) {
	limit := s.cfg.MaxBytes
	if limit <= 0 {
		limit = 25 << 20
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return Stored{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return Stored{}, common.NewAppError("FILE_TOO_LARGE", fmt.Sprintf("upload exceeds %d bytes", limit), common.ErrInvalidInput)
	}
	if !bytes.HasPrefix(data, []byte(constants.PDFMagic)) {
		return Stored{}, common.NewAppError("NOT_A_PDF", "file does not start with a PDF header", common.ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return Stored{}, err
	}

	sum := sha256.Sum256(data)
	out := data
	if s.Encrypted() {
		if out, err = s.seal(id, data); err != nil {
			return Stored{}, err
		}
	}
	dst := s.path(id)
	if err := writeAtomic(dst, out); err != nil {
		return Stored{}, err
	}
	s.logger.Info("filestore.save.ok", "job_id", id, "bytes", len(data), "encrypted", s.Encrypted())
	return Stored{Path: dst, Size: int64(len(data)), SHA256: hex.EncodeToString(sum[:])}, nil
}

// Acquire returns a plaintext path for id. When uploads are encrypted the
// path is a scratch copy that release deletes; release is always safe to call.
func (s *Store) Acquire(ctx context.Context, id uuid.UUID) (string, func(), error) {
	src := s.path(id)
	if !s.Encrypted() {
		if _, err := os.Stat(src); err != nil {
			return "", func() {}, fmt.Errorf("stored upload: %w", err)
		}
		return src, func() {}, nil
	}

	sealed, err := os.ReadFile(src)
	if err != nil {
		return "", func() {}, fmt.Errorf("read sealed upload: %w", err)
	}
	plain, err := s.open(id, sealed)
	if err != nil {
		return "", func() {}, err
	}
	if err := ctx.Err(); err != nil {
		return "", func() {}, err
	}

	f, err := os.CreateTemp(s.cfg.ScratchDir, "medsum-"+id.String()+"-*.pdf")
	if err != nil {
		return "", func() {}, fmt.Errorf("create scratch file: %w", err)
	}
	scratch := f.Name()
	release := func() {
		if err := os.Remove(scratch); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("filestore.scratch.cleanup_failed", "path", scratch, "error", err)
		}
	}
	if _, err := f.Write(plain); err != nil {
		_ = f.Close()
		release()
		return "", func() {}, fmt.Errorf("write scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		release()
		return "", func() {}, fmt.Errorf("close scratch file: %w", err)
	}
	return scratch, release, nil
}

// Delete removes the stored upload for id, if any.
func (s *Store) Delete(id uuid.UUID) error {
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Sealed layout: magic | nonce | ciphertext. The job id is bound as associated data.
func (s *Store) seal(id uuid.UUID, plain []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), len(sealedMagic)+s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	out := append([]byte{}, sealedMagic...)
	out = append(out, nonce...)
	return s.aead.Seal(out, nonce, plain, id[:]), nil
}

func (s *Store) open(id uuid.UUID, sealed []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(sealed) < len(sealedMagic)+ns || !bytes.HasPrefix(sealed, sealedMagic) {
		return nil, fmt.Errorf("%w: sealed upload is malformed", common.ErrInternal)
	}
	body := sealed[len(sealedMagic):]
	plain, err := s.aead.Open(nil, body[:ns], body[ns:], id[:])
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt upload: %v", common.ErrInternal, err)
	}
	return plain, nil
}

func writeAtomic(dst string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("close upload: %w", err)
	}
	if err := os.Rename(name, dst); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("rename upload: %w", err)
	}
	return nil
}
