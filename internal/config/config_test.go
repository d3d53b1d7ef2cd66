package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"pgregory.net/rapid"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

// Feature: aiop, Property 1: Config layer precedence
func TestConfigLayerPrecedence(t *testing.T) {
	densities := []string{"low", "medium", "high"}

	rapid.Check(t, func(t *rapid.T) {
		var layers []Layer
		var want string
		wantSource := SourceDefault
		for _, src := range []Source{SourceYAML, SourceEnv, SourceCLI} {
			l := Layer{Source: src, Values: map[string]string{}}
			if rapid.Bool().Draw(t, "has_"+string(src)) {
				v := rapid.SampledFrom(densities).Draw(t, "density_"+string(src))
				l.Values[KeyTimelineDensity] = v
				want, wantSource = v, src
			}
			layers = append(layers, l)
		}

		r, err := Merge(layers...)
		if err != nil {
			t.Fatalf("Merge: %v", err)
		}
		if wantSource == SourceDefault {
			want = string(Defaults().TimelineDensity)
		}
		if string(r.TimelineDensity) != want {
			t.Fatalf("timeline_density = %q, want %q", r.TimelineDensity, want)
		}
		if r.Sources[KeyTimelineDensity] != wantSource {
			t.Fatalf("source = %q, want %q", r.Sources[KeyTimelineDensity], wantSource)
		}
	})
}

func TestDefaultsValues(t *testing.T) {
	d := Defaults()
	if d.Policy != PolicyCore {
		t.Errorf("Policy: want %q, got %q", PolicyCore, d.Policy)
	}
	if d.MaxCoreBytes != 300000 {
		t.Errorf("MaxCoreBytes: want 300000, got %d", d.MaxCoreBytes)
	}
	if d.MetricsTopK != 100 {
		t.Errorf("MetricsTopK: want 100, got %d", d.MetricsTopK)
	}
	if d.Compress != CompressNone {
		t.Errorf("Compress: want %q, got %q", CompressNone, d.Compress)
	}
}

// TestResolveCLIWins covers a YAML value overridden by env and then by a flag.
func TestResolveCLIWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "osiris.yaml")
	yamlDoc := "aiop:\n  timeline_density: medium\n  max_core_bytes: 5000\n"
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := Resolve(ResolveOptions{
		YAMLPath:  path,
		LookupEnv: envMap(map[string]string{"OSIRIS_AIOP_TIMELINE_DENSITY": "high"}),
		Flags:     map[string]string{KeyTimelineDensity: "low"},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	eff := r.Effective()
	if got := eff[KeyTimelineDensity]; got.Value != "low" || got.Source != SourceCLI {
		t.Errorf("timeline_density = %+v, want low from cli", got)
	}
	if got := eff[KeyMaxCoreBytes]; got.Value != 5000 || got.Source != SourceYAML {
		t.Errorf("max_core_bytes = %+v, want 5000 from yaml", got)
	}
	if got := eff[KeyPolicy]; got.Value != "core" || got.Source != SourceDefault {
		t.Errorf("policy = %+v, want core from default", got)
	}
	if len(eff) != len(Keys) {
		t.Errorf("Effective has %d keys, want %d", len(eff), len(Keys))
	}
}

func TestFlatYAMLAccepted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aiop.yaml")
	if err := os.WriteFile(path, []byte("policy: annex\ncompress: gzip\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := LoadYAML(path)
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	if l.Values[KeyPolicy] != "annex" || l.Values[KeyCompress] != "gzip" {
		t.Errorf("unexpected values: %v", l.Values)
	}
}

func TestYAMLIntegralFloatsAccepted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aiop.yaml")
	if err := os.WriteFile(path, []byte("aiop:\n  max_core_bytes: 1e6\n  metrics_topk: 20.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := LoadYAML(path)
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	r, err := Merge(l)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if r.MaxCoreBytes != 1000000 || r.MetricsTopK != 20 {
		t.Errorf("max_core_bytes=%d metrics_topk=%d", r.MaxCoreBytes, r.MetricsTopK)
	}

	if err := os.WriteFile(path, []byte("max_core_bytes: 1.5e3\nmetrics_topk: 2.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if l, err = LoadYAML(path); err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	if l.Values[KeyMaxCoreBytes] != "1500" {
		t.Errorf("max_core_bytes = %q", l.Values[KeyMaxCoreBytes])
	}
	var cfgErr *Error
	if _, err := Merge(l); !errors.As(err, &cfgErr) || cfgErr.Key != KeyMetricsTopK {
		t.Fatalf("expected *Error for metrics_topk, got %v", err)
	}
}

func TestLoadYAMLMissingFileIsEmpty(t *testing.T) {
	l, err := LoadYAML(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(l.Values) != 0 {
		t.Errorf("expected empty layer, got %v", l.Values)
	}
}

func TestLoadYAMLParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("aiop: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadYAML(path)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %T: %v", err, err)
	}
}

func TestInvalidEnumIsConfigError(t *testing.T) {
	cases := map[string]string{
		KeyPolicy:          "everything",
		KeyCompress:        "zstd",
		KeyTimelineDensity: "extreme",
		KeySchemaMode:      "partial",
		KeyMaxCoreBytes:    "lots",
		KeyMetricsTopK:     "-1",
	}
	for key, val := range cases {
		_, err := Merge(Layer{Source: SourceCLI, Values: map[string]string{key: val}})
		var cfgErr *Error
		if !errors.As(err, &cfgErr) {
			t.Errorf("%s=%q: expected *Error, got %v", key, val, err)
			continue
		}
		if cfgErr.Key != key {
			t.Errorf("%s=%q: error names key %q", key, val, cfgErr.Key)
		}
	}
}

func TestEnvAndFlagNames(t *testing.T) {
	if got := EnvName(KeyMaxCoreBytes); got != "OSIRIS_AIOP_MAX_CORE_BYTES" {
		t.Errorf("EnvName = %q", got)
	}
	if got := FlagName(KeyTimelineDensity); got != "timeline-density" {
		t.Errorf("FlagName = %q", got)
	}
}

func TestMarkdownFormatAlias(t *testing.T) {
	r, err := Merge(Layer{Source: SourceCLI, Values: map[string]string{KeyFormat: "markdown"}})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if r.Format != FormatMarkdown {
		t.Errorf("Format = %q, want %q", r.Format, FormatMarkdown)
	}
}
