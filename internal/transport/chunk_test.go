package transport

import (
	"errors"
	"strings"
	"testing"
)

func TestChunkRoundtrip(t *testing.T) {
	payload := strings.Repeat("abcdefgh", 64) // 512 chars

	chunks, err := ChunkPayload(payload, 100)
	if err != nil {
		t.Fatalf("ChunkPayload failed: %v", err)
	}
	if len(chunks) != 6 {
		t.Fatalf("expected 6 chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if !strings.HasPrefix(c, ChunkTag+":") {
			t.Errorf("chunk missing tag: %q", c)
		}
	}

	joined, err := JoinChunks(chunks)
	if err != nil {
		t.Fatalf("JoinChunks failed: %v", err)
	}
	if joined != payload {
		t.Error("reassembled payload differs from input")
	}
}

func TestChunkJoinOutOfOrder(t *testing.T) {
	payload := strings.Repeat("x1y2", 80)
	chunks, err := ChunkPayload(payload, 64)
	if err != nil {
		t.Fatalf("ChunkPayload failed: %v", err)
	}

	// Reverse the scan order.
	reversed := make([]string, len(chunks))
	for i, c := range chunks {
		reversed[len(chunks)-1-i] = c
	}

	joined, err := JoinChunks(reversed)
	if err != nil {
		t.Fatalf("JoinChunks failed on shuffled input: %v", err)
	}
	if joined != payload {
		t.Error("out-of-order reassembly differs from input")
	}
}

func TestChunkSinglePassthrough(t *testing.T) {
	payload := "short-payload"

	chunks, err := ChunkPayload(payload, 100)
	if err != nil {
		t.Fatalf("ChunkPayload failed: %v", err)
	}
	if len(chunks) != 1 || chunks[0] != payload {
		t.Fatalf("expected untagged passthrough, got %v", chunks)
	}

	joined, err := JoinChunks(chunks)
	if err != nil || joined != payload {
		t.Errorf("passthrough join failed: %q %v", joined, err)
	}
}

func TestChunkPartsRespectSizeTarget(t *testing.T) {
	payload := strings.Repeat("q", 5_000)

	for _, chunkSize := range []int{64, 100, 256} {
		chunks, err := ChunkPayload(payload, chunkSize)
		if err != nil {
			t.Fatalf("ChunkPayload(%d) failed: %v", chunkSize, err)
		}
		for i, c := range chunks {
			if len(c) > chunkSize {
				t.Errorf("chunk %d/%d is %d chars, over the %d target", i, len(chunks), len(c), chunkSize)
			}
		}

		joined, err := JoinChunks(chunks)
		if err != nil {
			t.Fatalf("JoinChunks(%d) failed: %v", chunkSize, err)
		}
		if joined != payload {
			t.Errorf("roundtrip at size %d differs from input", chunkSize)
		}
	}
}

func TestChunkPayloadRejectsTinyChunkSize(t *testing.T) {
	if _, err := ChunkPayload("data", MinChunkSize-1); err == nil {
		t.Error("expected rejection of chunk size below minimum")
	}
}

func TestJoinChunksRejectsBrokenSets(t *testing.T) {
	payload := strings.Repeat("z", 300)
	chunks, err := ChunkPayload(payload, 100)
	if err != nil {
		t.Fatalf("ChunkPayload failed: %v", err)
	}

	// Missing chunk.
	if _, err := JoinChunks(chunks[:2]); !errors.Is(err, ErrChunkSet) {
		t.Errorf("missing chunk accepted: %v", err)
	}

	// Duplicate chunk.
	dup := append(append([]string{}, chunks...), chunks[0])
	if _, err := JoinChunks(dup); !errors.Is(err, ErrChunkSet) {
		t.Errorf("duplicate chunk accepted: %v", err)
	}

	// Inconsistent totals.
	mixed := []string{chunks[0], "wa1:1/7:zzz", chunks[2]}
	if _, err := JoinChunks(mixed); !errors.Is(err, ErrChunkSet) {
		t.Errorf("inconsistent totals accepted: %v", err)
	}

	// Garbage header.
	if _, err := JoinChunks([]string{"wa1:one/3:zzz", chunks[1], chunks[2]}); !errors.Is(err, ErrChunkSet) {
		t.Errorf("garbage header accepted: %v", err)
	}

	if _, err := JoinChunks(nil); !errors.Is(err, ErrChunkSet) {
		t.Errorf("empty set accepted: %v", err)
	}
}
