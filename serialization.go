package qeval

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SNAPSHOTS
// ═══════════════════════════════════════════════════════════════════════════════
// A MemoryIndex is saved as a compact little-endian binary snapshot:
//
//	[magic "QEVS"][version: uint32]
//	[numDocs: uint32]
//	  for each doc:   [externalID][numAttrs]{[key][value]}...
//	                  [numFields]{[field][length: uint32]}...
//	[numFields: uint32]
//	  for each field: [field][numTerms]
//	    for each term: [term][numPostings]
//	      for each posting: [doc][numPositions]{[position]}...
//
// Strings are [length: uint32][bytes]. Skip lists are not stored; decoding
// re-inserts every occurrence, which also rebuilds bitmaps and statistics.
// Fields and terms are written in sorted order so equal indexes produce
// equal bytes.
// ═══════════════════════════════════════════════════════════════════════════════

const snapshotVersion = 1

var snapshotMagic = []byte("QEVS")

// ErrCorruptSnapshot is returned when snapshot data is truncated or
// inconsistent.
var ErrCorruptSnapshot = errors.New("corrupt index snapshot")

// Encode serializes the index.
func (idx *MemoryIndex) Encode() ([]byte, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	e := newIndexEncoder()
	e.buf.Write(snapshotMagic)
	e.writeUint32(snapshotVersion)

	e.writeUint32(len(idx.docs))
	for _, rec := range idx.docs {
		e.writeString(rec.ExternalID)
		e.writeUint32(len(rec.Attributes))
		for _, k := range sortedKeys(rec.Attributes) {
			e.writeString(k)
			e.writeString(rec.Attributes[k])
		}
		e.writeUint32(len(rec.Lengths))
		for _, f := range sortedKeys(rec.Lengths) {
			e.writeString(f)
			e.writeUint32(rec.Lengths[f])
		}
	}

	e.writeUint32(len(idx.fields))
	for _, name := range sortedKeys(idx.fields) {
		fi := idx.fields[name]
		e.writeString(name)
		e.writeUint32(len(fi.positions))
		for _, term := range sortedKeys(fi.positions) {
			e.writeString(term)
			e.encodePostings(fi.positions[term])
		}
	}
	return e.buf.Bytes(), nil
}

// Decode replaces the contents of idx with the snapshot in data.
func (idx *MemoryIndex) Decode(data []byte) error {
	d := &indexDecoder{data: data}
	if !bytes.HasPrefix(data, snapshotMagic) {
		return fmt.Errorf("%w: bad magic", ErrCorruptSnapshot)
	}
	d.offset = len(snapshotMagic)
	if v := d.readUint32(); d.err == nil && v != snapshotVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, v)
	}

	fields := make(map[string]*fieldIndex)
	numDocs := d.readCount()
	docs := make([]docRecord, 0, numDocs)
	byExternal := make(map[string]int, numDocs)
	for i := 0; i < numDocs && d.err == nil; i++ {
		rec := docRecord{
			ExternalID: d.readString(),
			Attributes: make(map[string]string),
			Lengths:    make(map[string]int),
			Terms:      make(map[string]map[string]int),
		}
		for n := d.readCount(); n > 0 && d.err == nil; n-- {
			k := d.readString()
			rec.Attributes[k] = d.readString()
		}
		for n := d.readCount(); n > 0 && d.err == nil; n-- {
			f := d.readString()
			length := d.readUint32()
			rec.Lengths[f] = length
			rec.Terms[f] = make(map[string]int)
			fi, ok := fields[f]
			if !ok {
				fi = newFieldIndex()
				fields[f] = fi
			}
			fi.present.Add(uint32(i))
			fi.sumLength += int64(length)
		}
		byExternal[rec.ExternalID] = i
		docs = append(docs, rec)
	}

	decoded := &MemoryIndex{
		analyzer:   idx.analyzer,
		fields:     fields,
		docs:       docs,
		byExternal: byExternal,
		logger:     idx.logger,
	}
	for n := d.readCount(); n > 0 && d.err == nil; n-- {
		name := d.readString()
		fi, ok := fields[name]
		if !ok {
			fi = newFieldIndex()
			fields[name] = fi
		}
		for t := d.readCount(); t > 0 && d.err == nil; t-- {
			term := d.readString()
			d.decodePostings(func(doc, offset int) {
				if doc < 0 || doc >= len(docs) {
					d.fail("posting for unknown document %d", doc)
					return
				}
				tf := docs[doc].Terms[name]
				if tf == nil {
					d.fail("document %d has no field %s", doc, name)
					return
				}
				decoded.indexToken(fi, term, doc, offset)
				tf[term]++
			})
		}
	}
	if d.err != nil {
		return d.err
	}
	if d.offset != len(data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorruptSnapshot, len(data)-d.offset)
	}

	idx.mu.Lock()
	idx.fields, idx.docs, idx.byExternal = decoded.fields, decoded.docs, decoded.byExternal
	idx.mu.Unlock()
	return nil
}

// Save writes a snapshot of idx to path.
func (idx *MemoryIndex) Save(path string) error {
	data, err := idx.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("save index: %w", err)
	}
	idx.logger.Info("saved index snapshot",
		slog.String("path", path),
		slog.Int("docs", idx.NumDocs()),
		slog.Int("bytes", len(data)))
	return nil
}

// LoadSnapshot reads an index saved with Save. Documents added later are
// analyzed with analyzer.
func LoadSnapshot(path string, analyzer *Analyzer) (*MemoryIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	idx := NewMemoryIndex(analyzer)
	if err := idx.Decode(data); err != nil {
		return nil, fmt.Errorf("load index %s: %w", path, err)
	}
	slog.Info("loaded index snapshot",
		slog.String("path", path),
		slog.Int("docs", idx.NumDocs()))
	return idx, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type indexEncoder struct {
	buf     *bytes.Buffer
	scratch [4]byte
}

func newIndexEncoder() *indexEncoder {
	return &indexEncoder{buf: new(bytes.Buffer)}
}

func (e *indexEncoder) writeUint32(v int) {
	binary.LittleEndian.PutUint32(e.scratch[:], uint32(v))
	e.buf.Write(e.scratch[:])
}

func (e *indexEncoder) writeString(s string) {
	e.writeUint32(len(s))
	e.buf.WriteString(s)
}

// encodePostings groups the skip list's occurrences by document.
func (e *indexEncoder) encodePostings(sl *SkipList) {
	type posting struct {
		doc       int
		positions []int
	}
	var postings []posting
	it := sl.Iterator()
	for it.HasNext() {
		p := it.Next()
		if n := len(postings); n == 0 || postings[n-1].doc != p.DocumentID {
			postings = append(postings, posting{doc: p.DocumentID})
		}
		last := &postings[len(postings)-1]
		last.positions = append(last.positions, p.Offset)
	}

	e.writeUint32(len(postings))
	for _, p := range postings {
		e.writeUint32(p.doc)
		e.writeUint32(len(p.positions))
		for _, pos := range p.positions {
			e.writeUint32(pos)
		}
	}
}

// indexDecoder reads snapshot data. The first failure sticks in err and
// turns every later read into a no-op returning zero values.
type indexDecoder struct {
	data   []byte
	offset int
	err    error
}

func (d *indexDecoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: %s at byte %d", ErrCorruptSnapshot, fmt.Sprintf(format, args...), d.offset)
	}
}

func (d *indexDecoder) readUint32() int {
	if d.err != nil {
		return 0
	}
	if d.offset+4 > len(d.data) {
		d.fail("truncated integer")
		return 0
	}
	v := binary.LittleEndian.Uint32(d.data[d.offset : d.offset+4])
	d.offset += 4
	return int(v)
}

// readCount reads a length and rejects values that cannot fit in the
// remaining data, so corrupt input never triggers a huge allocation.
func (d *indexDecoder) readCount() int {
	n := d.readUint32()
	if d.err == nil && n > len(d.data)-d.offset {
		d.fail("count %d exceeds remaining data", n)
		return 0
	}
	return n
}

func (d *indexDecoder) readString() string {
	n := d.readCount()
	if d.err != nil {
		return ""
	}
	s := string(d.data[d.offset : d.offset+n])
	d.offset += n
	return s
}

func (d *indexDecoder) decodePostings(emit func(doc, offset int)) {
	for n := d.readCount(); n > 0 && d.err == nil; n-- {
		doc := d.readUint32()
		for p := d.readCount(); p > 0 && d.err == nil; p-- {
			emit(doc, d.readUint32())
		}
	}
}
