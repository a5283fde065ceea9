package notelayout

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Stage file persistence. Every pipeline stage reads a JSON chunk list and
// writes one back; the format has drifted over time, so the reader accepts
// every encoding that has ever appeared while the writer emits only the
// canonical form. Writes go through a temp file and rename so a crash never
// leaves a half-written stage file behind.

// chunkRecord is the wire form of a chunk. Older files carry text under
// "text" and geometry as a bare array or flattened scalars; new files use
// "content" and the object bbox.
type chunkRecord struct {
	ID         string          `json:"id"`
	Type       Category        `json:"type"`
	Page       int             `json:"page"`
	Content    string          `json:"content,omitempty"`
	Text       string          `json:"text,omitempty"`
	BBox       json.RawMessage `json:"bbox,omitempty"`
	X0         *float64        `json:"x0,omitempty"`
	Y0         *float64        `json:"y0,omitempty"`
	X1         *float64        `json:"x1,omitempty"`
	Y1         *float64        `json:"y1,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	Provenance []StageRecord   `json:"provenance,omitempty"`
}

// wrappedRoot is the canonical stage file root.
type wrappedRoot struct {
	Chunks []chunkRecord `json:"chunks"`
}

// StageFile is a decoded stage document plus enough shape information for the
// contract checks and for writing the file back in the form it arrived in.
type StageFile struct {
	Chunks []*Chunk
	// ListRoot records that the document root was a bare chunk list rather
	// than the wrapped {"chunks": [...]} form.
	ListRoot bool
	// LooseBBoxIDs lists chunks whose geometry arrived in a legacy encoding
	// (array bbox, flattened scalars, or no bbox at all).
	LooseBBoxIDs []string
}

// NewStageFile wraps a chunk list in the canonical root form.
func NewStageFile(chunks []*Chunk) *StageFile {
	return &StageFile{Chunks: chunks}
}

// ReadStage loads and decodes a stage file. The root may be wrapped or a bare
// list; per-chunk text may live under "content" or "text"; bboxes may use any
// historical encoding. A bbox that is present but unparseable is an error; a
// missing bbox decodes to a zero rect for the validator to reject.
func ReadStage(path string) (*StageFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read stage file %s", path)
	}
	return DecodeStage(data)
}

// DecodeStage decodes stage file bytes. See ReadStage.
func DecodeStage(data []byte) (*StageFile, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty stage document")
	}

	var records []chunkRecord
	sf := &StageFile{}

	switch trimmed[0] {
	case '[':
		sf.ListRoot = true
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, errors.Wrap(err, "decode list-root stage document")
		}
	case '{':
		var root wrappedRoot
		if err := json.Unmarshal(trimmed, &root); err != nil {
			return nil, errors.Wrap(err, "decode wrapped stage document")
		}
		if root.Chunks == nil {
			return nil, errors.New(`stage document root has no "chunks" list`)
		}
		records = root.Chunks
	default:
		return nil, errors.New("stage document root is neither object nor list")
	}

	sf.Chunks = make([]*Chunk, 0, len(records))
	for i, rec := range records {
		c, loose, err := decodeRecord(rec)
		if err != nil {
			return nil, errors.Wrapf(err, "chunk %d (id=%s)", i, rec.ID)
		}
		if loose {
			sf.LooseBBoxIDs = append(sf.LooseBBoxIDs, c.ID)
		}
		sf.Chunks = append(sf.Chunks, c)
	}
	return sf, nil
}

// decodeRecord converts one wire record to a Chunk. loose reports that the
// geometry did not use the canonical object bbox.
func decodeRecord(rec chunkRecord) (*Chunk, bool, error) {
	text := rec.Content
	if text == "" {
		text = rec.Text
	}

	var (
		rect  Rect
		loose bool
	)
	rawBBox := bytes.TrimSpace(rec.BBox)
	if bytes.Equal(rawBBox, []byte("null")) {
		rawBBox = nil
	}
	switch {
	case len(rawBBox) > 0:
		r, err := ParseRect(rawBBox)
		if err != nil {
			return nil, false, err
		}
		rect = r
		loose = rawBBox[0] != '{'
	case rec.X0 != nil || rec.Y0 != nil || rec.X1 != nil || rec.Y1 != nil:
		r, err := RectFromScalars(rec.X0, rec.Y0, rec.X1, rec.Y1)
		if err != nil {
			return nil, false, err
		}
		rect = r
		loose = true
	default:
		// No geometry at all. Decode to a zero rect; the contract validator
		// rejects it as degenerate.
		loose = true
	}

	return &Chunk{
		ID:       rec.ID,
		Page:     rec.Page,
		Type:     rec.Type,
		Text:     text,
		Rect:     rect,
		Metadata: rec.Metadata,
		Trail:    rec.Provenance,
	}, loose, nil
}

// encodeRecord converts a Chunk to the canonical wire form: the object bbox
// plus the flattened scalar fields mirrored for readers that still expect the
// old shape.
func encodeRecord(c *Chunk) (chunkRecord, error) {
	bbox, err := json.Marshal(c.Rect)
	if err != nil {
		return chunkRecord{}, errors.Wrapf(err, "marshal bbox for chunk %s", c.ID)
	}
	r := c.Rect
	return chunkRecord{
		ID:         c.ID,
		Type:       c.Type,
		Page:       c.Page,
		Content:    c.Text,
		BBox:       bbox,
		X0:         &r.X0,
		Y0:         &r.Y0,
		X1:         &r.X1,
		Y1:         &r.Y1,
		Metadata:   c.Metadata,
		Provenance: c.Trail,
	}, nil
}

// EncodeStage renders a stage file in canonical per-chunk form, preserving the
// root shape the document arrived with.
func EncodeStage(sf *StageFile) ([]byte, error) {
	records := make([]chunkRecord, 0, len(sf.Chunks))
	for _, c := range sf.Chunks {
		rec, err := encodeRecord(c)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	var (
		data []byte
		err  error
	)
	if sf.ListRoot {
		data, err = json.MarshalIndent(records, "", "  ")
	} else {
		data, err = json.MarshalIndent(wrappedRoot{Chunks: records}, "", "  ")
	}
	if err != nil {
		return nil, errors.Wrap(err, "marshal stage document")
	}
	return append(data, '\n'), nil
}

// WriteStage writes a stage file atomically: the document is written to a
// temp file in the target directory and renamed into place.
func WriteStage(path string, sf *StageFile) error {
	data, err := EncodeStage(sf)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// writeFileAtomic writes data to path via a same-directory temp file and
// rename. The temp file is removed on any failure.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(err, "write temp file %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "close temp file %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "rename %s to %s", tmpName, path)
	}
	return nil
}
