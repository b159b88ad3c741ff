package replay

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/assay-sh/assay-core/pkg/bundle"
	"github.com/assay-sh/assay-core/pkg/evidence"
)

const replayExtensionKey = "replay"

// WriteOptions configures Write.
type WriteOptions struct {
	Producer string
	Manifest Manifest
}

// Write builds a replay bundle: the same tar.gz shape as an evidence
// bundle (manifest.json, events.ndjson, plus extra members), with the
// replay-specific Manifest embedded in manifest.json's x-assay.replay
// extension.
func Write(w io.Writer, events []evidence.Event, extra []bundle.ExtraFile, opts WriteOptions) (*bundle.Manifest, error) {
	if opts.Manifest.SchemaVersion == 0 {
		opts.Manifest.SchemaVersion = SchemaVersion
	}
	return bundle.Write(w, events, extra, bundle.WriteOptions{
		Producer: opts.Producer,
		Extra:    map[string]any{replayExtensionKey: opts.Manifest},
	})
}

// Bundle is a fully decoded replay bundle.
type Bundle struct {
	Bundle   *bundle.Bundle
	Manifest Manifest
}

// Read decodes a replay bundle, extracting the replay.Manifest from
// the underlying bundle manifest's x-assay.replay extension.
func Read(r io.Reader, opts bundle.ReadOptions) (*Bundle, error) {
	b, err := bundle.Read(r, opts)
	if err != nil {
		return nil, err
	}
	manifest, err := extractManifest(b.Manifest)
	if err != nil {
		return nil, err
	}
	return &Bundle{Bundle: b, Manifest: manifest}, nil
}

func extractManifest(m *bundle.Manifest) (Manifest, error) {
	raw, ok := m.XAssay[replayExtensionKey]
	if !ok {
		return Manifest{}, fmt.Errorf("replay: manifest missing x-assay.replay extension")
	}
	// raw was round-tripped through JSON by the underlying bundle
	// decode, so it arrives as map[string]any rather than Manifest.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return Manifest{}, fmt.Errorf("replay: re-encode extension: %w", err)
	}
	var replayManifest Manifest
	if err := json.Unmarshal(encoded, &replayManifest); err != nil {
		return Manifest{}, fmt.Errorf("replay: decode extension: %w", err)
	}
	return replayManifest, nil
}

// Verify runs the same tar.gz hash-check and prefix-scoped secret scan
// as an evidence bundle.
func Verify(b *bundle.Bundle) (*bundle.Result, error) {
	return bundle.Verify(b)
}
