package bundle

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/assay-sh/assay-core/pkg/evidence"
	"github.com/assay-sh/assay-core/pkg/jcs"
)

// DecodeLimits bounds the reader against decompression-bomb and
// resource-exhaustion attacks with configurable decode-side limits.
// Each limit maps to a distinct, catchable error kind.
type DecodeLimits struct {
	MaxDecompressedBytes int64
	MaxManifestBytes     int64
	MaxEventsBytes       int64
	MaxEventsCount       int
	MaxLineLength        int
	MaxPathLength        int
	JSON                 jcs.Limits
}

// DefaultDecodeLimits returns generous but finite defaults. Callers
// processing externally-sourced bundles should tighten these to the
// specific trust boundary they are enforcing.
func DefaultDecodeLimits() DecodeLimits {
	return DecodeLimits{
		MaxDecompressedBytes: 512 << 20, // 512 MiB
		MaxManifestBytes:     8 << 20,
		MaxEventsBytes:       256 << 20,
		MaxEventsCount:       1_000_000,
		MaxLineLength:        4 << 20,
		MaxPathLength:        4096,
		JSON:                 jcs.DefaultLimits(),
	}
}

// ReadOptions configures Read.
type ReadOptions struct {
	Limits     DecodeLimits
	LoadEvents bool // when false, Events is left nil and only Manifest/Files are populated
}

// Bundle is a fully decoded evidence bundle: the parsed manifest, the
// raw bytes of every archive member (keyed by tar path, including
// manifest.json and events.ndjson), and — when requested — the
// deserialized event stream.
type Bundle struct {
	Manifest *Manifest
	Files    map[string][]byte
	Events   []evidence.Event
}

// Read ungzips r, iterates the tar stream, strict-validates and decodes
// manifest.json, and — when opts.LoadEvents is set — strict-validates
// and decodes each line of events.ndjson into an evidence.Event. It does
// not perform the hash or secret-scan checks of the integrity and scan
// pass; call Verify for that.
func Read(r io.Reader, opts ReadOptions) (*Bundle, error) {
	lim := opts.Limits
	if lim.MaxDecompressedBytes == 0 {
		lim = DefaultDecodeLimits()
	}

	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("bundle: open gzip stream: %w", err)
	}
	defer gz.Close()

	limited := &countingReader{r: gz, max: lim.MaxDecompressedBytes}
	tr := tar.NewReader(limited)

	b := &Bundle{Files: make(map[string][]byte)}
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if limited.exceeded {
				return nil, errKind(KindLimitBundleBytes, "decompressed size exceeds limit")
			}
			return nil, fmt.Errorf("bundle: read tar entry: %w", err)
		}
		if len(hdr.Name) > lim.MaxPathLength {
			return nil, errKind(KindLimitDecodeBytes, fmt.Sprintf("path %q exceeds max length", hdr.Name))
		}

		maxEntry := lim.MaxManifestBytes
		if hdr.Name == eventsPath {
			maxEntry = lim.MaxEventsBytes
		} else if maxEntry < lim.MaxEventsBytes {
			maxEntry = lim.MaxEventsBytes
		}

		data, err := io.ReadAll(io.LimitReader(tr, maxEntry+1))
		if err != nil {
			if limited.exceeded {
				return nil, errKind(KindLimitBundleBytes, "decompressed size exceeds limit")
			}
			return nil, fmt.Errorf("bundle: read entry %s: %w", hdr.Name, err)
		}
		if int64(len(data)) > maxEntry {
			return nil, errKind(KindLimitDecodeBytes, fmt.Sprintf("entry %q exceeds max size", hdr.Name))
		}
		b.Files[hdr.Name] = data
		if limited.exceeded {
			return nil, errKind(KindLimitBundleBytes, "decompressed size exceeds limit")
		}
	}

	manifestBytes, ok := b.Files[manifestPath]
	if !ok {
		return nil, errKind(KindMissingInBundle, manifestPath)
	}
	if err := jcs.Validate(manifestBytes, &lim.JSON); err != nil {
		return nil, fmt.Errorf("bundle: strict-validate manifest: %w", err)
	}
	if err := validateManifestShape(manifestBytes); err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, fmt.Errorf("bundle: decode manifest: %w", err)
	}
	b.Manifest = &manifest

	if opts.LoadEvents {
		eventsBytes, ok := b.Files[eventsPath]
		if !ok {
			return nil, errKind(KindMissingInBundle, eventsPath)
		}
		events, err := decodeEvents(eventsBytes, lim)
		if err != nil {
			return nil, err
		}
		b.Events = events
	}

	return b, nil
}

func decodeEvents(data []byte, lim DecodeLimits) ([]evidence.Event, error) {
	var events []evidence.Event
	for _, line := range bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		if len(line) > lim.MaxLineLength {
			return nil, errKind(KindLimitDecodeBytes, "events.ndjson line exceeds max length")
		}
		if err := jcs.Validate(line, &lim.JSON); err != nil {
			return nil, fmt.Errorf("bundle: strict-validate event line: %w", err)
		}
		var e evidence.Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("bundle: decode event: %w", err)
		}
		events = append(events, e)
		if len(events) > lim.MaxEventsCount {
			return nil, errKind(KindLimitEvents, "event count exceeds limit")
		}
	}
	return events, nil
}

// countingReader wraps an io.Reader and, once more than max bytes have
// been read through it, sets exceeded and returns io.ErrUnexpectedEOF
// (tar's reader surfaces that as its own error, which Read translates
// back to LimitBundleBytes).
type countingReader struct {
	r        io.Reader
	n        int64
	max      int64
	exceeded bool
}

func (c *countingReader) Read(p []byte) (int, error) {
	if c.exceeded {
		return 0, io.ErrUnexpectedEOF
	}
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.n > c.max {
		c.exceeded = true
		return n, io.ErrUnexpectedEOF
	}
	return n, err
}
