package repository

import (
	"bytes"

	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
)

// scenarioChunk is one contiguous byte range in an observation buffer,
// shared across all accesses to a storage so the per-access snapshot is a
// compact aligned blob rather than a per-field copy.
type scenarioChunk struct {
	offset uintptr
	size   uintptr
}

// scenario is the compacted, deduplicated set of byte ranges a storage
// must snapshot on write-access open to detect which observed fields
// changed by close.
type scenario struct {
	chunks []scenarioChunk
}

// fieldScenario resolves each named field to a chunk and merges overlapping
// or adjacent ranges, built once at planning->serving transition time.
func fieldScenario(desc *reflection.StructDescription, fields []string) (*scenario, error) {
	chunks := make([]scenarioChunk, 0, len(fields))
	for _, name := range fields {
		resolved, err := reflection.ResolveFieldPath(desc, []string{name})
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, scenarioChunk{offset: resolved.Offset, size: resolved.Size})
	}
	return &scenario{chunks: mergeChunks(chunks)}, nil
}

func mergeChunks(chunks []scenarioChunk) []scenarioChunk {
	if len(chunks) <= 1 {
		return chunks
	}
	sorted := append([]scenarioChunk(nil), chunks...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].offset > sorted[j].offset; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	merged := sorted[:1]
	for _, c := range sorted[1:] {
		last := &merged[len(merged)-1]
		if c.offset <= last.offset+last.size {
			end := last.offset + last.size
			if cEnd := c.offset + c.size; cEnd > end {
				end = cEnd
			}
			last.size = end - last.offset
			continue
		}
		merged = append(merged, c)
	}
	return merged
}

// size is the total snapshot buffer size required to hold every chunk.
func (s *scenario) size() int {
	total := 0
	for _, c := range s.chunks {
		total += int(c.size)
	}
	return total
}

// snapshot copies every chunk's bytes out of data into a freshly allocated
// buffer, taken at write-access open time, before the pointer is handed out.
func (s *scenario) snapshot(data []byte) []byte {
	buf := make([]byte, s.size())
	pos := 0
	for _, c := range s.chunks {
		copy(buf[pos:pos+int(c.size)], data[c.offset:c.offset+c.size])
		pos += int(c.size)
	}
	return buf
}

// diff compares a previously taken snapshot against the record's current
// state and reports, per chunk, whether that range differs.
func (s *scenario) diff(snapshotBuf []byte, data []byte) []bool {
	changed := make([]bool, len(s.chunks))
	pos := 0
	for i, c := range s.chunks {
		changed[i] = !bytes.Equal(snapshotBuf[pos:pos+int(c.size)], data[c.offset:c.offset+c.size])
		pos += int(c.size)
	}
	return changed
}

// chunkIndexCovering returns the index of the chunk covering the field's
// resolved offset, or -1 if no chunk in the scenario covers it (the field
// is not observed).
func (s *scenario) chunkIndexCovering(offset uintptr) int {
	for i, c := range s.chunks {
		if offset >= c.offset && offset < c.offset+c.size {
			return i
		}
	}
	return -1
}
