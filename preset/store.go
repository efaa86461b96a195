// Package preset stores named frequency ranges loaded from a JSON or YAML file.
//
// The file holds an array of ranges in MHz:
//
//	[
//	  {"name": "WiFi 2.4 GHz", "start": 2400, "end": 2483.5},
//	  {"name": "GSM 900", "start": 880, "end": 960}
//	]
package preset

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNoPresets is returned when a load finds no valid entry. The store
	// keeps its previous contents.
	ErrNoPresets = errors.New("no valid presets found")
	// ErrNotArray is returned when the document root is not an array.
	ErrNotArray = errors.New("file should contain an array of frequency ranges")

	errMissingField = errors.New("name, start and end are required")
	errBadRange     = errors.New("start must be positive and lower than end")
)

// Format of a preset file.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

func (f Format) String() string {
	if f == FormatYAML {
		return "yaml"
	}
	return "json"
}

// FormatForPath picks the format from the file extension. Anything that is
// not .yaml or .yml is read as JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// Preset is a named frequency range.
type Preset struct {
	Name     string
	StartMHz float64
	EndMHz   float64
}

// EntryError describes a skipped entry.
type EntryError struct {
	Index int
	Err   error
}

func (e EntryError) Error() string {
	return fmt.Sprintf("entry %d: %v", e.Index, e.Err)
}

func (e EntryError) Unwrap() error {
	return e.Err
}

// Report summarizes a load.
type Report struct {
	Loaded  int
	Skipped []EntryError
}

type rawPreset struct {
	Name  *string  `json:"name" yaml:"name"`
	Start *float64 `json:"start" yaml:"start"`
	End   *float64 `json:"end" yaml:"end"`
}

func (r rawPreset) preset() (Preset, error) {
	if r.Name == nil || *r.Name == "" || r.Start == nil || r.End == nil {
		return Preset{}, errMissingField
	}
	p := Preset{Name: *r.Name, StartMHz: *r.Start, EndMHz: *r.End}
	if !(p.StartMHz > 0 && p.EndMHz > 0 && p.StartMHz < p.EndMHz) {
		return Preset{}, errBadRange
	}
	return p, nil
}

// Store is safe for concurrent use.
type Store struct {
	log     *slog.Logger
	presets *xsync.MapOf[string, Preset]
}

// NewStore returns an empty store. A nil logger means slog.Default().
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		log:     logger,
		presets: xsync.NewMapOf[string, Preset](),
	}
}

// LoadFile replaces the store contents with the presets of the file at path.
func (s *Store) LoadFile(path string) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, fmt.Errorf("open presets: %w", err)
	}
	defer f.Close()

	rep, err := s.Load(f, FormatForPath(path))
	if err != nil {
		return rep, fmt.Errorf("%s: %w", path, err)
	}
	return rep, nil
}

// Load replaces the store contents with the presets read from r. Invalid
// entries are skipped and listed in the report. A name given twice keeps the
// last range.
func (s *Store) Load(r io.Reader, format Format) (Report, error) {
	var entries []entry
	var rep Report
	var err error
	switch format {
	case FormatYAML:
		entries, err = decodeYAML(r)
	default:
		entries, err = decodeJSON(r)
	}
	if err != nil {
		return rep, err
	}

	loaded := make(map[string]Preset, len(entries))
	for _, e := range entries {
		p, err := e.preset()
		if err != nil {
			s.log.Debug("invalid preset", "index", e.index, "err", err)
			rep.Skipped = append(rep.Skipped, EntryError{Index: e.index, Err: err})
			continue
		}
		loaded[p.Name] = p
	}
	if len(loaded) == 0 {
		return rep, ErrNoPresets
	}

	s.presets.Range(func(name string, _ Preset) bool {
		if _, ok := loaded[name]; !ok {
			s.presets.Delete(name)
		}
		return true
	})
	for name, p := range loaded {
		s.presets.Store(name, p)
	}

	rep.Loaded = len(loaded)
	s.log.Info("frequency presets loaded", "presets", rep.Loaded, "skipped", len(rep.Skipped), "format", format.String())
	return rep, nil
}

// entry is one array element. err is set when it could not be decoded.
type entry struct {
	index int
	raw   rawPreset
	err   error
}

func (e entry) preset() (Preset, error) {
	if e.err != nil {
		return Preset{}, e.err
	}
	return e.raw.preset()
}

func decodeJSON(r io.Reader) ([]entry, error) {
	var items []json.RawMessage
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		var ute *json.UnmarshalTypeError
		if errors.As(err, &ute) {
			return nil, ErrNotArray
		}
		return nil, fmt.Errorf("json parse error: %w", err)
	}
	entries := make([]entry, len(items))
	for i, item := range items {
		entries[i].index = i
		entries[i].err = json.Unmarshal(item, &entries[i].raw)
	}
	return entries, nil
}

func decodeYAML(r io.Reader) ([]entry, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNotArray
		}
		return nil, fmt.Errorf("yaml parse error: %w", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.SequenceNode {
		return nil, ErrNotArray
	}
	items := doc.Content[0].Content
	entries := make([]entry, len(items))
	for i, item := range items {
		entries[i].index = i
		if item.Kind != yaml.MappingNode {
			entries[i].err = fmt.Errorf("line %d: not a mapping", item.Line)
			continue
		}
		entries[i].err = item.Decode(&entries[i].raw)
	}
	return entries, nil
}

// Lookup returns the range of the named preset in MHz.
func (s *Store) Lookup(name string) (startMHz, endMHz float64, ok bool) {
	p, ok := s.presets.Load(name)
	if !ok {
		return 0, 0, false
	}
	return p.StartMHz, p.EndMHz, true
}

// Get returns the named preset.
func (s *Store) Get(name string) (Preset, bool) {
	return s.presets.Load(name)
}

// Names returns the preset names in lexical order.
func (s *Store) Names() []string {
	names := make([]string, 0, s.presets.Size())
	s.presets.Range(func(name string, _ Preset) bool {
		names = append(names, name)
		return true
	})
	slices.Sort(names)
	return names
}

// Len returns the number of presets.
func (s *Store) Len() int {
	return s.presets.Size()
}
