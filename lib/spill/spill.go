// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spill

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// Ref is the hex-encoded content hash of a spilled value.
type Ref string

// Kind hints at the payload shape so the store can pick a codec.
type Kind int

const (
	// Text is program output, tracebacks, plain and HTML renderings.
	Text Kind = iota
	// Binary is base64-encoded mime data such as image/png.
	Binary
)

// compressionTag is the first byte of every entry file.
type compressionTag uint8

const (
	compressionNone compressionTag = 0
	compressionLZ4  compressionTag = 1
	compressionZstd compressionTag = 2
)

// minCompressSize is the smallest payload worth compressing.
const minCompressSize = 256

// headerSize is the tag byte plus the uncompressed length.
const headerSize = 5

// domainKey separates spill hashes from any other BLAKE3 use.
var domainKey = [32]byte{
	's', 'c', 'r', 'i', 'b', 'e', '.', 's', 'p', 'i', 'l', 'l', '.',
	'o', 'u', 't', 'p', 'u', 't',
}

// errIncompressible signals that compression did not shrink the value.
var errIncompressible = errors.New("incompressible")

// ErrNotFound is returned by Get for an unknown reference.
var ErrNotFound = errors.New("spill: no entry for reference")

// Store is a directory of spilled values. Safe for concurrent use.
type Store struct {
	directory string
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// Open returns a Store rooted at directory, creating it if needed.
func Open(directory string) (*Store, error) {
	if directory == "" {
		return nil, fmt.Errorf("spill: directory is required")
	}
	if err := os.MkdirAll(directory, 0700); err != nil {
		return nil, fmt.Errorf("spill: creating directory: %w", err)
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("spill: zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("spill: zstd decoder: %w", err)
	}
	return &Store{directory: directory, encoder: encoder, decoder: decoder}, nil
}

// Close releases the codec state.
func (s *Store) Close() error {
	s.decoder.Close()
	return s.encoder.Close()
}

// HashOf returns the reference data would be stored under.
func HashOf(data []byte) Ref {
	hasher, err := blake3.NewKeyed(domainKey[:])
	if err != nil {
		panic("spill: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	return Ref(hex.EncodeToString(hasher.Sum(nil)))
}

// Put stores data and returns its reference.
func (s *Store) Put(data []byte, kind Kind) (Ref, error) {
	ref := HashOf(data)
	path := s.entryPath(ref)
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	tag, payload := s.compress(data, kind)
	entry := make([]byte, headerSize+len(payload))
	entry[0] = byte(tag)
	binary.BigEndian.PutUint32(entry[1:headerSize], uint32(len(data)))
	copy(entry[headerSize:], payload)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("spill: creating shard directory: %w", err)
	}
	temporaryPath := path + ".tmp"
	if err := os.WriteFile(temporaryPath, entry, 0600); err != nil {
		return "", fmt.Errorf("spill: writing entry: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return "", fmt.Errorf("spill: renaming entry into place: %w", err)
	}
	return ref, nil
}

// Get returns the original bytes for ref, verifying the content hash.
func (s *Store) Get(ref Ref) ([]byte, error) {
	if len(ref) != 64 {
		return nil, fmt.Errorf("spill: malformed reference %q", ref)
	}
	if _, err := hex.DecodeString(string(ref)); err != nil {
		return nil, fmt.Errorf("spill: malformed reference %q", ref)
	}
	entry, err := os.ReadFile(s.entryPath(ref))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(entry) < headerSize {
		return nil, fmt.Errorf("spill: entry %s is truncated", ref)
	}
	tag := compressionTag(entry[0])
	size := int(binary.BigEndian.Uint32(entry[1:headerSize]))
	data, err := s.decompress(entry[headerSize:], tag, size)
	if err != nil {
		return nil, fmt.Errorf("spill: entry %s: %w", ref, err)
	}
	if HashOf(data) != ref {
		return nil, fmt.Errorf("spill: entry %s fails hash verification", ref)
	}
	return data, nil
}

// entryPath shards entries by the first two hex characters.
func (s *Store) entryPath(ref Ref) string {
	return filepath.Join(s.directory, string(ref[:2]), string(ref))
}

func (s *Store) compress(data []byte, kind Kind) (compressionTag, []byte) {
	if len(data) < minCompressSize {
		return compressionNone, data
	}
	if kind == Binary {
		if compressed, err := compressLZ4(data); err == nil {
			return compressionLZ4, compressed
		}
		return compressionNone, data
	}
	compressed := s.encoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return compressionNone, data
	}
	return compressionZstd, compressed
}

func (s *Store) decompress(payload []byte, tag compressionTag, size int) ([]byte, error) {
	switch tag {
	case compressionNone:
		if len(payload) != size {
			return nil, fmt.Errorf("stored size %d does not match recorded %d", len(payload), size)
		}
		return payload, nil
	case compressionLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(payload, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return destination, nil
	case compressionZstd:
		result, err := s.decoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unknown compression tag %d", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}
