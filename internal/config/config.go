// Package config resolves the effective export configuration from four
// layers: defaults < YAML file < environment < command-line flags. For every
// recognized key it remembers which layer supplied the winning value so the
// report can echo it back.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source identifies the layer a configuration value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceYAML    Source = "yaml"
	SourceEnv     Source = "env"
	SourceCLI     Source = "cli"
)

// EnvPrefix is prepended to the upper-cased key to form environment names.
const EnvPrefix = "OSIRIS_AIOP_"

// Policy selects how oversized evidence is handled.
type Policy string

const (
	PolicyCore  Policy = "core"
	PolicyAnnex Policy = "annex"
)

// Compression selects the annex file encoding.
type Compression string

const (
	CompressNone Compression = "none"
	CompressGzip Compression = "gzip"
)

// Density controls how many timeline events are kept.
type Density string

const (
	DensityLow    Density = "low"
	DensityMedium Density = "medium"
	DensityHigh   Density = "high"
)

// SchemaMode controls how much of the pipeline structure goes into the
// semantic layer.
type SchemaMode string

const (
	SchemaSummary SchemaMode = "summary"
	SchemaFull    SchemaMode = "full"
)

// Format is the core report encoding.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "md"
)

// Recognized option keys, in the order they are reported.
const (
	KeyPolicy          = "policy"
	KeyMaxCoreBytes    = "max_core_bytes"
	KeyCompress        = "compress"
	KeyMetricsTopK     = "metrics_topk"
	KeyTimelineDensity = "timeline_density"
	KeySchemaMode      = "schema_mode"
	KeyFormat          = "format"
	KeyOutputDir       = "output_dir"
	KeyAnnexDir        = "annex_dir"
	KeyIndexDir        = "index_dir"
	KeyKeepRuns        = "keep_runs"
)

// Keys lists every recognized option key.
var Keys = []string{
	KeyPolicy,
	KeyMaxCoreBytes,
	KeyCompress,
	KeyMetricsTopK,
	KeyTimelineDensity,
	KeySchemaMode,
	KeyFormat,
	KeyOutputDir,
	KeyAnnexDir,
	KeyIndexDir,
	KeyKeepRuns,
}

// Config holds the typed export settings.
type Config struct {
	Policy          Policy
	MaxCoreBytes    int
	Compress        Compression
	MetricsTopK     int
	TimelineDensity Density
	SchemaMode      SchemaMode
	Format          Format
	OutputDir       string
	AnnexDir        string // empty means <run dir>/annex
	IndexDir        string // empty means <output_dir>/index
	KeepRuns        int    // 0 keeps every run
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Policy:          PolicyCore,
		MaxCoreBytes:    300000,
		Compress:        CompressNone,
		MetricsTopK:     100,
		TimelineDensity: DensityMedium,
		SchemaMode:      SchemaSummary,
		Format:          FormatJSON,
		OutputDir:       "aiop",
	}
}

// Layer is the raw, unvalidated option values supplied by one source.
// Keys absent from Values leave the lower layers in effect.
type Layer struct {
	Source Source
	Values map[string]string
}

// Resolved is the merged configuration plus per-key provenance.
type Resolved struct {
	Config
	Sources map[string]Source
}

// Effective is one entry of the config echo embedded in reports.
type Effective struct {
	Value  any    `json:"value"`
	Source Source `json:"source"`
}

// Merge applies layers over the defaults in the order given; later layers win.
// Values are validated as they are applied, so an invalid value fails even
// when a higher layer would have overridden it.
func Merge(layers ...Layer) (*Resolved, error) {
	r := &Resolved{Config: Defaults(), Sources: make(map[string]Source, len(Keys))}
	for _, k := range Keys {
		r.Sources[k] = SourceDefault
	}
	for _, l := range layers {
		for _, k := range Keys {
			raw, ok := l.Values[k]
			if !ok {
				continue
			}
			if err := r.apply(k, strings.TrimSpace(raw)); err != nil {
				return nil, fmt.Errorf("%s layer: %w", l.Source, err)
			}
			r.Sources[k] = l.Source
		}
	}
	return r, nil
}

// ResolveOptions names the inputs of Resolve.
type ResolveOptions struct {
	// YAMLPath is an optional YAML config file; a missing file is ignored.
	YAMLPath string
	// LookupEnv reads environment variables; nil means os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// Flags holds command-line values keyed by option key. Only flags the
	// user actually set belong here.
	Flags map[string]string
}

// Resolve builds the effective configuration from all four layers.
func Resolve(opts ResolveOptions) (*Resolved, error) {
	yamlLayer, err := LoadYAML(opts.YAMLPath)
	if err != nil {
		return nil, err
	}
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return Merge(
		yamlLayer,
		FromEnv(lookup),
		Layer{Source: SourceCLI, Values: opts.Flags},
	)
}

// LoadYAML reads option values from a YAML file. Options may sit under a
// top-level "aiop" mapping or at the document root. An empty path or a
// missing file yields an empty layer.
func LoadYAML(path string) (Layer, error) {
	layer := Layer{Source: SourceYAML, Values: map[string]string{}}
	if path == "" {
		return layer, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return layer, nil
		}
		return layer, fmt.Errorf("read config file: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return layer, &ParseError{Path: path, Err: err}
	}
	if section, ok := doc["aiop"].(map[string]any); ok {
		doc = section
	}
	for _, k := range Keys {
		v, ok := doc[k]
		if !ok || v == nil {
			continue
		}
		switch v.(type) {
		case map[string]any, []any:
			return layer, &Error{Key: k, Value: fmt.Sprint(v), Reason: "expected a scalar value"}
		}
		layer.Values[k] = scalarString(v)
	}
	return layer, nil
}

// scalarString renders a decoded YAML scalar. Integral floats such as 1e6
// are written as integers.
func scalarString(v any) string {
	if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprint(v)
}

// FromEnv collects OSIRIS_AIOP_<KEY> variables.
func FromEnv(lookup func(string) (string, bool)) Layer {
	layer := Layer{Source: SourceEnv, Values: map[string]string{}}
	for _, k := range Keys {
		if v, ok := lookup(EnvName(k)); ok && v != "" {
			layer.Values[k] = v
		}
	}
	return layer
}

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(key)
}

// FlagName returns the command-line flag that overrides key.
func FlagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// Effective returns the config echo: every key with its value and source.
func (r *Resolved) Effective() map[string]Effective {
	out := make(map[string]Effective, len(Keys))
	for _, k := range Keys {
		out[k] = Effective{Value: r.value(k), Source: r.Sources[k]}
	}
	return out
}

func (r *Resolved) value(key string) any {
	switch key {
	case KeyPolicy:
		return string(r.Policy)
	case KeyMaxCoreBytes:
		return r.MaxCoreBytes
	case KeyCompress:
		return string(r.Compress)
	case KeyMetricsTopK:
		return r.MetricsTopK
	case KeyTimelineDensity:
		return string(r.TimelineDensity)
	case KeySchemaMode:
		return string(r.SchemaMode)
	case KeyFormat:
		return string(r.Format)
	case KeyOutputDir:
		return r.OutputDir
	case KeyAnnexDir:
		return r.AnnexDir
	case KeyIndexDir:
		return r.IndexDir
	case KeyKeepRuns:
		return r.KeepRuns
	}
	return nil
}

func (r *Resolved) apply(key, raw string) error {
	var err error
	switch key {
	case KeyPolicy:
		err = setEnum(&r.Policy, key, raw, PolicyCore, PolicyAnnex)
	case KeyMaxCoreBytes:
		r.MaxCoreBytes, err = parseInt(key, raw, 1)
	case KeyCompress:
		err = setEnum(&r.Compress, key, raw, CompressNone, CompressGzip)
	case KeyMetricsTopK:
		r.MetricsTopK, err = parseInt(key, raw, 0)
	case KeyTimelineDensity:
		err = setEnum(&r.TimelineDensity, key, raw, DensityLow, DensityMedium, DensityHigh)
	case KeySchemaMode:
		err = setEnum(&r.SchemaMode, key, raw, SchemaSummary, SchemaFull)
	case KeyFormat:
		if raw == "markdown" {
			raw = string(FormatMarkdown)
		}
		err = setEnum(&r.Format, key, raw, FormatJSON, FormatMarkdown)
	case KeyOutputDir:
		if raw == "" {
			return &Error{Key: key, Value: raw, Reason: "must not be empty"}
		}
		r.OutputDir = raw
	case KeyAnnexDir:
		r.AnnexDir = raw
	case KeyIndexDir:
		r.IndexDir = raw
	case KeyKeepRuns:
		r.KeepRuns, err = parseInt(key, raw, 0)
	}
	return err
}

func setEnum[T ~string](dst *T, key, raw string, allowed ...T) error {
	v := T(strings.ToLower(raw))
	for _, a := range allowed {
		if v == a {
			*dst = v
			return nil
		}
	}
	names := make([]string, len(allowed))
	for i, a := range allowed {
		names[i] = string(a)
	}
	return &Error{Key: key, Value: raw, Reason: "must be one of " + strings.Join(names, "|")}
}

func parseInt(key, raw string, min int) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &Error{Key: key, Value: raw, Reason: "must be an integer"}
	}
	if n < min {
		return 0, &Error{Key: key, Value: raw, Reason: fmt.Sprintf("must be >= %d", min)}
	}
	return n, nil
}

// Error reports an invalid option value.
type Error struct {
	Key    string
	Value  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid value %q for %s: %s", e.Value, e.Key, e.Reason)
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
