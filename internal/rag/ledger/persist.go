package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/lexigraph/lexrag/internal/rag/lexical"
	"github.com/lexigraph/lexrag/internal/rag/tokenizer"
	"github.com/lexigraph/lexrag/internal/rag/vector"
	apperrors "github.com/lexigraph/lexrag/pkg/errors"
)

// On-disk layout: a binary vector file plus a JSON metadata array, written
// together after every successful append. The vector file carries a magic
// header and a CRC32 footer over the row data; the metadata file is the
// position-ordered array of {filename, content} objects. A row-count
// mismatch between the two means a crash landed between writes, and Load
// refuses the pair rather than serve misaligned results.
const (
	vectorsFile  = "legal_vectors.lvx"
	metadataFile = "legal_metadata.json"

	vectorMagic   uint32 = 0x4C525658 // "LRVX"
	formatVersion uint32 = 1
	headerSize           = 16
	footerSize           = 4
)

// Save writes the vector index and chunk metadata to dataDir. Both files go
// through a temp-file-and-rename so a crash mid-write never clobbers the
// previous generation.
func (l *Ledger) Save() error {
	l.mu.RLock()
	chunks := make([]Chunk, len(l.chunks))
	copy(chunks, l.chunks)
	rows := l.vectors.Rows()
	dim := l.vectors.Dimension()
	l.mu.RUnlock()

	if err := os.MkdirAll(l.dataDir, 0755); err != nil {
		return fmt.Errorf("creating index data directory: %w", err)
	}
	if err := l.writeVectors(rows, dim); err != nil {
		return fmt.Errorf("writing vector file: %w", err)
	}
	if err := l.writeMetadata(chunks); err != nil {
		return fmt.Errorf("writing metadata file: %w", err)
	}
	l.logger.Debug("index saved", "chunks", len(chunks), "dim", dim)
	return nil
}

// Load restores persisted state. Called once at startup; idempotent. Missing
// files mean a fresh corpus and return nil. Unreadable or mutually
// inconsistent files are refused: the ledger stays empty and the error wraps
// ErrIndexUnavailable so the caller can log the data loss instead of hiding
// it.
func (l *Ledger) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	vecPath := filepath.Join(l.dataDir, vectorsFile)
	metaPath := filepath.Join(l.dataDir, metadataFile)

	_, vecErr := os.Stat(vecPath)
	_, metaErr := os.Stat(metaPath)
	if os.IsNotExist(vecErr) && os.IsNotExist(metaErr) {
		return nil
	}
	if os.IsNotExist(vecErr) || os.IsNotExist(metaErr) {
		l.reset()
		return fmt.Errorf("%w: only one of %s/%s present, starting empty",
			apperrors.ErrIndexUnavailable, vectorsFile, metadataFile)
	}

	rows, err := readVectors(vecPath)
	if err != nil {
		l.reset()
		return fmt.Errorf("%w: %v", apperrors.ErrIndexUnavailable, err)
	}
	chunks, err := readMetadata(metaPath)
	if err != nil {
		l.reset()
		return fmt.Errorf("%w: %v", apperrors.ErrIndexUnavailable, err)
	}
	if len(rows) != len(chunks) {
		l.reset()
		return fmt.Errorf("%w: vector count %d does not match metadata count %d, starting empty",
			apperrors.ErrIndexUnavailable, len(rows), len(chunks))
	}

	l.reset()
	if len(rows) > 0 {
		if err := l.vectors.Add(rows); err != nil {
			l.reset()
			return fmt.Errorf("%w: %v", apperrors.ErrIndexUnavailable, err)
		}
		tokenBags := make([][]string, len(chunks))
		for i := range chunks {
			tokenBags[i] = tokenizer.Tokenize(chunks[i].Content)
		}
		l.lex.AddBatch(tokenBags)
		l.chunks = chunks
	}
	l.logger.Info("index loaded", "chunks", len(chunks))
	return nil
}

// Reload re-reads the persisted pair into fresh structures and swaps them in
// only when both files read cleanly. Unlike Load, a missing or refused pair
// keeps the current in-memory state: a process that only reads the files
// must never drop its serving snapshot over a torn write by the process that
// owns them. It returns the chunk count after the call.
func (l *Ledger) Reload() (int, error) {
	vecPath := filepath.Join(l.dataDir, vectorsFile)
	metaPath := filepath.Join(l.dataDir, metadataFile)

	_, vecErr := os.Stat(vecPath)
	_, metaErr := os.Stat(metaPath)
	if os.IsNotExist(vecErr) || os.IsNotExist(metaErr) {
		return l.Len(), nil
	}

	rows, err := readVectors(vecPath)
	if err != nil {
		return l.Len(), fmt.Errorf("%w: %v", apperrors.ErrIndexUnavailable, err)
	}
	chunks, err := readMetadata(metaPath)
	if err != nil {
		return l.Len(), fmt.Errorf("%w: %v", apperrors.ErrIndexUnavailable, err)
	}
	if len(rows) != len(chunks) {
		return l.Len(), fmt.Errorf("%w: vector count %d does not match metadata count %d",
			apperrors.ErrIndexUnavailable, len(rows), len(chunks))
	}

	vectors := vector.New()
	lex := lexical.New(l.lex.K1(), l.lex.B())
	if len(rows) > 0 {
		if err := vectors.Add(rows); err != nil {
			return l.Len(), fmt.Errorf("%w: %v", apperrors.ErrIndexUnavailable, err)
		}
		tokenBags := make([][]string, len(chunks))
		for i := range chunks {
			tokenBags[i] = tokenizer.Tokenize(chunks[i].Content)
		}
		lex.AddBatch(tokenBags)
	}

	l.mu.Lock()
	l.chunks = chunks
	l.vectors = vectors
	l.lex = lex
	size := len(l.chunks)
	l.mu.Unlock()
	l.logger.Info("index reloaded", "chunks", size)
	return size, nil
}

// Generation identifies the persisted files on disk by modification time and
// size. A changed value means another process saved a new index; an empty
// value means nothing is persisted yet.
func (l *Ledger) Generation() string {
	var b strings.Builder
	for _, name := range []string{vectorsFile, metadataFile} {
		info, err := os.Stat(filepath.Join(l.dataDir, name))
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "%s:%d:%d;", name, info.ModTime().UnixNano(), info.Size())
	}
	return b.String()
}

func (l *Ledger) writeVectors(rows [][]float32, dim int) error {
	path := filepath.Join(l.dataDir, vectorsFile)
	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp vector file: %w", err)
	}
	defer f.Close()

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:4], vectorMagic)
	binary.LittleEndian.PutUint32(header[4:8], formatVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(rows)))
	binary.LittleEndian.PutUint32(header[12:16], uint32(dim))
	if _, err := f.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	crc := crc32.NewIEEE()
	rowBuf := make([]byte, dim*4)
	for _, row := range rows {
		for i, v := range row {
			binary.LittleEndian.PutUint32(rowBuf[i*4:], math.Float32bits(v))
		}
		if _, err := f.Write(rowBuf); err != nil {
			return fmt.Errorf("writing row: %w", err)
		}
		crc.Write(rowBuf)
	}

	footer := make([]byte, footerSize)
	binary.LittleEndian.PutUint32(footer, crc.Sum32())
	if _, err := f.Write(footer); err != nil {
		return fmt.Errorf("writing footer: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing vector file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming vector file: %w", err)
	}
	return nil
}

func (l *Ledger) writeMetadata(chunks []Chunk) error {
	path := filepath.Join(l.dataDir, metadataFile)
	tmpPath := path + ".tmp"

	data, err := json.Marshal(chunks)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp metadata file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing metadata file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming metadata file: %w", err)
	}
	return nil
}

func readVectors(path string) ([][]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vector file: %w", err)
	}
	if len(data) < headerSize+footerSize {
		return nil, fmt.Errorf("vector file truncated: %d bytes", len(data))
	}
	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != vectorMagic {
		return nil, fmt.Errorf("invalid vector file: bad magic bytes %x", magic)
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != formatVersion {
		return nil, fmt.Errorf("unsupported vector file version %d", version)
	}
	count := int(binary.LittleEndian.Uint32(data[8:12]))
	dim := int(binary.LittleEndian.Uint32(data[12:16]))

	body := data[headerSize : len(data)-footerSize]
	if len(body) != count*dim*4 {
		return nil, fmt.Errorf("vector file body is %d bytes, expected %d", len(body), count*dim*4)
	}
	wantCRC := binary.LittleEndian.Uint32(data[len(data)-footerSize:])
	if crc32.ChecksumIEEE(body) != wantCRC {
		return nil, fmt.Errorf("vector file checksum mismatch")
	}

	rows := make([][]float32, count)
	for r := 0; r < count; r++ {
		row := make([]float32, dim)
		base := r * dim * 4
		for i := 0; i < dim; i++ {
			row[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[base+i*4:]))
		}
		rows[r] = row
	}
	return rows, nil
}

func readMetadata(path string) ([]Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading metadata file: %w", err)
	}
	var chunks []Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("parsing metadata file: %w", err)
	}
	return chunks, nil
}
