package core

import (
	"sort"
	"sync"
)

// ── Registry ──────────────────────────────────────────────────────────────────

// codecEntry pairs the decoder and encoder registered for one format.
type codecEntry struct {
	dec Decoder
	enc Encoder
}

// DefaultRegistry is a thread-safe Registry keyed by image format.  Sources
// whose format could not be sniffed resolve through any decoder that accepts
// FormatUnknown, so a bare JPEG stream with a stripped header still decodes.
type DefaultRegistry struct {
	mu     sync.RWMutex
	codecs map[Format]*codecEntry
}

// NewRegistry returns an empty DefaultRegistry.
func NewRegistry() *DefaultRegistry {
	return &DefaultRegistry{codecs: make(map[Format]*codecEntry)}
}

func (r *DefaultRegistry) entry(f Format) *codecEntry {
	c, ok := r.codecs[f]
	if !ok {
		c = &codecEntry{}
		r.codecs[f] = c
	}
	return c
}

func (r *DefaultRegistry) RegisterDecoder(f Format, d Decoder) {
	r.mu.Lock()
	r.entry(f).dec = d
	r.mu.Unlock()
}

func (r *DefaultRegistry) RegisterEncoder(f Format, e Encoder) {
	r.mu.Lock()
	r.entry(f).enc = e
	r.mu.Unlock()
}

// DecoderFor returns the decoder registered for f.  FormatUnknown falls back
// to any registered decoder that claims unknown inputs.
func (r *DefaultRegistry) DecoderFor(f Format) (Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.codecs[f]; ok && c.dec != nil {
		return c.dec, true
	}
	if f == FormatUnknown {
		for _, c := range r.codecs {
			if c.dec != nil && c.dec.CanDecode(FormatUnknown) {
				return c.dec, true
			}
		}
	}
	return nil, false
}

func (r *DefaultRegistry) EncoderFor(f Format) (Encoder, bool) {
	r.mu.RLock()
	c, ok := r.codecs[f]
	r.mu.RUnlock()
	if !ok || c.enc == nil {
		return nil, false
	}
	return c.enc, true
}

// Formats lists every format with at least one registered codec, sorted for
// stable output-format reporting.
func (r *DefaultRegistry) Formats() []Format {
	r.mu.RLock()
	formats := make([]Format, 0, len(r.codecs))
	for f, c := range r.codecs {
		if c.dec != nil || c.enc != nil {
			formats = append(formats, f)
		}
	}
	r.mu.RUnlock()
	sort.Slice(formats, func(i, j int) bool { return formats[i] < formats[j] })
	return formats
}
