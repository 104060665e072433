package transport

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	// ChunkTag prefixes every multi-part chunk: "wa1:<index>/<total>:<slice>".
	ChunkTag = "wa1"

	// MinChunkSize is the smallest allowed split target.
	MinChunkSize = 64
)

// ErrChunkSet reports an inconsistent or incomplete chunk set.
var ErrChunkSet = errors.New("transport: invalid chunk set")

// ChunkPayload splits an encoded payload into QR-sized parts. The tag
// header counts against chunkSize, so every emitted part fits the
// caller's size target whole. A payload that already fits in chunkSize
// is returned as a single untagged chunk; the encoded alphabet is
// base64url, so an untagged chunk can never collide with the "wa1:"
// prefix.
func ChunkPayload(payload string, chunkSize int) ([]string, error) {
	if chunkSize < MinChunkSize {
		return nil, fmt.Errorf("transport: chunk size must be >= %d", MinChunkSize)
	}

	if len(payload) <= chunkSize {
		return []string{payload}, nil
	}

	// A larger total can need more header digits, which shrinks the
	// per-part capacity and can grow the total again; iterate to the
	// fixed point.
	total := (len(payload) + chunkSize - 1) / chunkSize
	capacity := 0
	for {
		overhead := len(ChunkTag) + 3 + 2*decimalDigits(total)
		capacity = chunkSize - overhead
		if capacity < 1 {
			return nil, fmt.Errorf("transport: chunk size %d leaves no payload room for %d parts", chunkSize, total)
		}
		next := (len(payload) + capacity - 1) / capacity
		if next == total {
			break
		}
		total = next
	}

	chunks := make([]string, 0, total)
	for i := 0; i < total; i++ {
		start := i * capacity
		end := start + capacity
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, fmt.Sprintf("%s:%d/%d:%s", ChunkTag, i, total, payload[start:end]))
	}

	return chunks, nil
}

func decimalDigits(n int) int {
	digits := 1
	for n >= 10 {
		n /= 10
		digits++
	}
	return digits
}

// JoinChunks reassembles the output of ChunkPayload. Every index 0..total-1
// must appear exactly once with a consistent total; a single untagged chunk
// passes through unchanged.
func JoinChunks(chunks []string) (string, error) {
	if len(chunks) == 0 {
		return "", fmt.Errorf("%w: no chunks", ErrChunkSet)
	}

	if len(chunks) == 1 && !strings.HasPrefix(chunks[0], ChunkTag+":") {
		return chunks[0], nil
	}

	type part struct {
		index int
		slice string
	}

	parts := make([]part, 0, len(chunks))
	total := -1
	seen := make(map[int]bool, len(chunks))

	for _, chunk := range chunks {
		index, chunkTotal, slice, err := parseChunk(chunk)
		if err != nil {
			return "", err
		}

		if total == -1 {
			total = chunkTotal
		} else if chunkTotal != total {
			return "", fmt.Errorf("%w: inconsistent totals %d and %d", ErrChunkSet, total, chunkTotal)
		}

		if index < 0 || index >= total {
			return "", fmt.Errorf("%w: index %d out of range for total %d", ErrChunkSet, index, total)
		}
		if seen[index] {
			return "", fmt.Errorf("%w: duplicate index %d", ErrChunkSet, index)
		}
		seen[index] = true

		parts = append(parts, part{index: index, slice: slice})
	}

	if len(parts) != total {
		return "", fmt.Errorf("%w: have %d of %d chunks", ErrChunkSet, len(parts), total)
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].index < parts[j].index })

	var joined strings.Builder
	for _, p := range parts {
		joined.WriteString(p.slice)
	}
	return joined.String(), nil
}

func parseChunk(chunk string) (index, total int, slice string, err error) {
	rest, ok := strings.CutPrefix(chunk, ChunkTag+":")
	if !ok {
		return 0, 0, "", fmt.Errorf("%w: chunk missing %q tag", ErrChunkSet, ChunkTag)
	}

	header, slice, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, 0, "", fmt.Errorf("%w: chunk missing payload separator", ErrChunkSet)
	}

	indexRaw, totalRaw, ok := strings.Cut(header, "/")
	if !ok {
		return 0, 0, "", fmt.Errorf("%w: chunk header missing index/total", ErrChunkSet)
	}

	index, err = strconv.Atoi(indexRaw)
	if err != nil {
		return 0, 0, "", fmt.Errorf("%w: bad chunk index %q", ErrChunkSet, indexRaw)
	}
	total, err = strconv.Atoi(totalRaw)
	if err != nil {
		return 0, 0, "", fmt.Errorf("%w: bad chunk total %q", ErrChunkSet, totalRaw)
	}
	if total <= 0 {
		return 0, 0, "", fmt.Errorf("%w: chunk total must be positive", ErrChunkSet)
	}

	return index, total, slice, nil
}
