package vectorindex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"math"
	"os"

	"multimodal-rag/internal/helper"
	"multimodal-rag/internal/models"
)

const (
	indexMagic   = "MRVI"
	idsMagic     = "MRID"
	formatVer    = 1
	indexHdrSize = 16 // magic, version, dim, count
	idsHdrSize   = 16 // magic, version, count, crc of the index file
)

// persist writes the index file, then the mapping file. The mapping carries the
// CRC-32 of the index bytes so a torn pair is detected on load.
func (ix *Index) persist(vectors []float32, ids []int64) error {
	indexData := encodeIndex(ix.dim, vectors)
	idsData := encodeIDs(ids, crc32.ChecksumIEEE(indexData))

	if err := helper.WriteFileAtomic(ix.indexPath, indexData); err != nil {
		return fmt.Errorf("failed to save index %s: %w", ix.name, err)
	}
	if err := helper.WriteFileAtomic(ix.idsPath, idsData); err != nil {
		return fmt.Errorf("failed to save id mapping %s: %w", ix.name, err)
	}
	return nil
}

func encodeIndex(dim int, vectors []float32) []byte {
	count := 0
	if dim > 0 {
		count = len(vectors) / dim
	}
	buf := make([]byte, indexHdrSize+4*len(vectors))
	copy(buf[0:4], indexMagic)
	binary.LittleEndian.PutUint32(buf[4:8], formatVer)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(dim))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(count))
	off := indexHdrSize
	for _, v := range vectors {
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(v))
		off += 4
	}
	return buf
}

func decodeIndex(data []byte) (dim int, vectors []float32, err error) {
	if len(data) < indexHdrSize || string(data[0:4]) != indexMagic {
		return 0, nil, errors.New("bad index header")
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != formatVer {
		return 0, nil, fmt.Errorf("unsupported index version %d", v)
	}
	dim = int(binary.LittleEndian.Uint32(data[8:12]))
	count := int(binary.LittleEndian.Uint32(data[12:16]))
	if want := indexHdrSize + 4*dim*count; len(data) != want {
		return 0, nil, fmt.Errorf("index size %d, expected %d", len(data), want)
	}
	vectors = make([]float32, dim*count)
	off := indexHdrSize
	for i := range vectors {
		vectors[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
	}
	return dim, vectors, nil
}

func encodeIDs(ids []int64, indexCRC uint32) []byte {
	buf := make([]byte, idsHdrSize+8*len(ids))
	copy(buf[0:4], idsMagic)
	binary.LittleEndian.PutUint32(buf[4:8], formatVer)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(ids)))
	binary.LittleEndian.PutUint32(buf[12:16], indexCRC)
	off := idsHdrSize
	for _, id := range ids {
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(id))
		off += 8
	}
	return buf
}

func decodeIDs(data []byte) (ids []int64, indexCRC uint32, err error) {
	if len(data) < idsHdrSize || string(data[0:4]) != idsMagic {
		return nil, 0, errors.New("bad id mapping header")
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != formatVer {
		return nil, 0, fmt.Errorf("unsupported id mapping version %d", v)
	}
	count := int(binary.LittleEndian.Uint32(data[8:12]))
	indexCRC = binary.LittleEndian.Uint32(data[12:16])
	if want := idsHdrSize + 8*count; len(data) != want {
		return nil, 0, fmt.Errorf("id mapping size %d, expected %d", len(data), want)
	}
	ids = make([]int64, count)
	off := idsHdrSize
	for i := range ids {
		ids[i] = int64(binary.LittleEndian.Uint64(data[off : off+8]))
		off += 8
	}
	return ids, indexCRC, nil
}

func isDimensionMismatch(err error) bool {
	return errors.Is(err, models.ErrDimensionMismatch)
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrIndexCorruption, fmt.Sprintf(format, args...))
}

// load reads both files. Missing pairs mean an empty index. Any disagreement
// between the two files is reported as corruption.
func load(indexPath, idsPath string, dim int) ([]float32, []int64, error) {
	indexData, indexErr := os.ReadFile(indexPath)
	idsData, idsErr := os.ReadFile(idsPath)
	indexMissing := errors.Is(indexErr, fs.ErrNotExist)
	idsMissing := errors.Is(idsErr, fs.ErrNotExist)

	if indexErr != nil && !indexMissing {
		return nil, nil, corrupt("read %s: %v", indexPath, indexErr)
	}
	if idsErr != nil && !idsMissing {
		return nil, nil, corrupt("read %s: %v", idsPath, idsErr)
	}
	if indexMissing && idsMissing {
		return nil, nil, nil
	}
	if indexMissing {
		return nil, nil, corrupt("id mapping %s present without index", idsPath)
	}
	if idsMissing {
		return nil, nil, corrupt("index %s present without id mapping", indexPath)
	}

	storedDim, vectors, err := decodeIndex(indexData)
	if err != nil {
		return nil, nil, corrupt("%s: %v", indexPath, err)
	}
	if storedDim != dim {
		return nil, nil, fmt.Errorf("%w: %s was built with %d, configured %d", models.ErrDimensionMismatch, indexPath, storedDim, dim)
	}

	ids, indexCRC, err := decodeIDs(idsData)
	if err != nil {
		return nil, nil, corrupt("%s: %v", idsPath, err)
	}
	if len(ids)*dim != len(vectors) {
		return nil, nil, corrupt("index holds %d vectors but mapping has %d ids", len(vectors)/dim, len(ids))
	}
	if crc := crc32.ChecksumIEEE(indexData); crc != indexCRC {
		return nil, nil, corrupt("id mapping was written for a different index (crc %08x != %08x)", indexCRC, crc)
	}
	return vectors, ids, nil
}
