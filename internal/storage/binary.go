package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hyperjump/cinetalk/internal/models"
	"github.com/hyperjump/cinetalk/internal/vector"
)

// Binary cache layout, little-endian:
//
//	magic "CTLK" | version u16 | flags u8 | count u32 | model (u32 len + bytes)
//	per line: speaker (u32 len + bytes) | utterance (u32 len + bytes) | dim u32 | dim x float32
const (
	binaryMagic   = "CTLK"
	binaryVersion = 2

	flagHasSpeaker = 1 << 0
)

// BinaryStore is the default cache format: one flat file per movie.
type BinaryStore struct{}

// Format implements CacheStore.
func (s *BinaryStore) Format() string { return FormatBinary }

// Save writes snap to a temporary file next to path and renames it into place.
func (s *BinaryStore) Save(ctx context.Context, path string, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create cache file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	w := bufio.NewWriter(tmp)
	if err := encodeSnapshot(w, snap); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode cache: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

// Load reads the whole file and decodes it.
func (s *BinaryStore) Load(ctx context.Context, path string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCacheNotFound
		}
		return nil, fmt.Errorf("read cache: %w", err)
	}
	snap, err := decodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCacheCorrupt, filepath.Base(path), err)
	}
	return snap, nil
}

// Remove implements CacheStore.
func (s *BinaryStore) Remove(path string) error {
	return removeFiles(path)
}

func encodeSnapshot(w io.Writer, snap *Snapshot) error {
	var flags uint8
	if snap.HasSpeaker {
		flags |= flagHasSpeaker
	}
	if _, err := io.WriteString(w, binaryMagic); err != nil {
		return err
	}
	header := []any{uint16(binaryVersion), flags, uint32(len(snap.Lines))}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if err := writeString(w, snap.Model); err != nil {
		return err
	}
	for i := range snap.Lines {
		line := &snap.Lines[i]
		if err := writeString(w, line.Speaker); err != nil {
			return err
		}
		if err := writeString(w, line.Utterance); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(line.Embedding))); err != nil {
			return err
		}
		if _, err := w.Write(vector.EncodeFloat32s(line.Embedding)); err != nil {
			return err
		}
	}
	return nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func decodeSnapshot(data []byte) (*Snapshot, error) {
	r := bytes.NewReader(data)
	magic := make([]byte, len(binaryMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != binaryMagic {
		return nil, errors.New("bad magic")
	}
	var (
		version uint16
		flags   uint8
		count   uint32
	)
	for _, v := range []any{&version, &flags, &count} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
	}
	if version != binaryVersion {
		return nil, fmt.Errorf("unsupported version %d", version)
	}
	model, err := readBytes(r, 1)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	// Each line takes at least 12 bytes of length prefixes.
	if int64(count)*12 > int64(r.Len()) {
		return nil, fmt.Errorf("line count %d exceeds file size", count)
	}

	snap := &Snapshot{
		Model:      string(model),
		HasSpeaker: flags&flagHasSpeaker != 0,
		Lines:      make([]models.DialogueLine, count),
	}
	for i := range snap.Lines {
		speaker, err := readBytes(r, 1)
		if err != nil {
			return nil, fmt.Errorf("line %d speaker: %w", i, err)
		}
		utterance, err := readBytes(r, 1)
		if err != nil {
			return nil, fmt.Errorf("line %d utterance: %w", i, err)
		}
		emb, err := readBytes(r, 4)
		if err != nil {
			return nil, fmt.Errorf("line %d embedding: %w", i, err)
		}
		line := models.DialogueLine{Speaker: string(speaker), Utterance: string(utterance)}
		if len(emb) > 0 {
			line.Embedding = vector.DecodeFloat32s(emb)
		}
		snap.Lines[i] = line
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes", r.Len())
	}
	return snap, nil
}

// readBytes reads a u32 element count followed by count*width bytes.
func readBytes(r *bytes.Reader, width int) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	size := int64(n) * int64(width)
	if size > int64(r.Len()) {
		return nil, fmt.Errorf("length %d exceeds remaining %d bytes", size, r.Len())
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
