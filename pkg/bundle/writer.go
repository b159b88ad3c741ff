package bundle

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/assay-sh/assay-core/pkg/evidence"
	"github.com/assay-sh/assay-core/pkg/jcs"
)

// ExtraFile is an additional archive member beyond manifest.json and
// events.ndjson: trace inputs under files/, network cassettes under
// cassettes/, tool/model outputs under outputs/.
type ExtraFile struct {
	Path string
	Data []byte
}

// WriteOptions configures bundle construction.
type WriteOptions struct {
	Producer string
	Logger   *slog.Logger
	Extra    map[string]any // merged into manifest's x-assay extension
}

type tarEntry struct {
	path string
	data []byte
}

// Write builds a bundle: sort events by seq, verify
// contiguity/uniform run_id/source, hash-seal each event, emit canonical
// NDJSON, compute the run root, build the manifest, and stream a
// deterministic tar.gz to w. It returns the manifest it wrote.
func Write(w io.Writer, events []evidence.Event, extra []ExtraFile, opts WriteOptions) (*Manifest, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	sorted := make([]evidence.Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	var runID, source string
	contentHashes := make([]string, len(sorted))
	ndjson := make([][]byte, len(sorted))

	for i, e := range sorted {
		if i == 0 {
			runID, source = e.RunID, e.Source
		} else {
			if e.RunID != runID {
				return nil, &Error{Kind: KindInconsistentRun, Index: i, Msg: e.RunID}
			}
			if e.Source != source {
				return nil, &Error{Kind: KindInconsistentSrc, Index: i, Msg: e.Source}
			}
		}
		if !validSource(e.Source) {
			return nil, &Error{Kind: KindInvalidSource, Index: i, Msg: e.Source}
		}
		if e.Seq != i {
			return nil, &Error{Kind: KindSequenceGap, Index: i, Expected: strconv.Itoa(i), Actual: strconv.Itoa(e.Seq)}
		}
		wantID := evidence.StreamID(e.RunID, e.Seq)
		if e.ID != wantID {
			return nil, fmt.Errorf("bundle: event %d: id %q does not match run_id:seq %q", i, e.ID, wantID)
		}

		hash, err := evidence.ComputeContentHash(&sorted[i])
		if err != nil {
			return nil, fmt.Errorf("bundle: compute content hash for event %d: %w", i, err)
		}
		if e.ContentHash != "" && e.ContentHash != hash {
			return nil, &Error{Kind: KindInconsistentHash, Index: i, Expected: hash, Actual: e.ContentHash}
		}
		sorted[i].ContentHash = hash
		contentHashes[i] = hash

		line, err := jcs.Canonicalize(&sorted[i])
		if err != nil {
			return nil, fmt.Errorf("bundle: canonicalize event %d: %w", i, err)
		}
		ndjson[i] = append(line, '\n')
	}

	var ndjsonBuf []byte
	for _, line := range ndjson {
		ndjsonBuf = append(ndjsonBuf, line...)
	}

	runRoot := evidence.ComputeRunRoot(contentHashes)

	manifest := &Manifest{
		SchemaVersion: SchemaVersion,
		BundleID:      runRoot,
		Producer:      opts.Producer,
		RunID:         runID,
		EventCount:    len(sorted),
		RunRoot:       runRoot,
		Algorithms:    defaultAlgorithms,
		Files:         map[string]FileEntry{eventsPath: fileEntry(ndjsonBuf)},
	}
	if len(opts.Extra) > 0 {
		manifest.XAssay = opts.Extra
	}

	entries := []tarEntry{{path: eventsPath, data: ndjsonBuf}}
	for _, ex := range extra {
		manifest.Files[ex.Path] = fileEntry(ex.Data)
		entries = append(entries, tarEntry{path: ex.Path, data: ex.Data})
	}

	manifestJSON, err := jcs.Canonicalize(manifest)
	if err != nil {
		return nil, fmt.Errorf("bundle: canonicalize manifest: %w", err)
	}
	entries = append(entries, tarEntry{path: manifestPath, data: manifestJSON})

	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	log.Debug("bundle.write", "run_id", runID, "events", len(sorted), "run_root", runRoot)
	if err := writeDeterministicTarGz(w, entries); err != nil {
		return nil, err
	}
	return manifest, nil
}

func fileEntry(data []byte) FileEntry {
	sum := sha256.Sum256(data)
	return FileEntry{SHA256: hex.EncodeToString(sum[:]), Bytes: int64(len(data))}
}

// validSource checks syntactic source validity: contains
// a ':' and does not start with one.
func validSource(source string) bool {
	return strings.Contains(source, ":") && !strings.HasPrefix(source, ":")
}

// writeDeterministicTarGz streams entries as a tar.gz with mtime=0,
// uid/gid=0, mode=0o644, uname=gname="assay", and gzip mtime=0, OS=255
// (unknown), at maximum compression.
func writeDeterministicTarGz(w io.Writer, entries []tarEntry) error {
	gz, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("bundle: new gzip writer: %w", err)
	}
	gz.ModTime = time.Unix(0, 0)
	gz.OS = 255

	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{
			Name:    e.path,
			Mode:    0o644,
			Size:    int64(len(e.data)),
			ModTime: time.Unix(0, 0),
			Uid:     0,
			Gid:     0,
			Uname:   "assay",
			Gname:   "assay",
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("bundle: write tar header %s: %w", e.path, err)
		}
		if _, err := tw.Write(e.data); err != nil {
			return fmt.Errorf("bundle: write tar entry %s: %w", e.path, err)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("bundle: close tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("bundle: close gzip writer: %w", err)
	}
	return nil
}
