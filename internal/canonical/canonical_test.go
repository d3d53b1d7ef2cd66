package canonical

import (
	"encoding/json"
	"testing"

	"pgregory.net/rapid"
)

type pair struct {
	Zed   string `json:"zed"`
	Alpha int    `json:"alpha"`
}

func TestMarshalSortsStructFields(t *testing.T) {
	got, err := Marshal(pair{Zed: "<a&b>", Alpha: 1})
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"alpha":1,"zed":"<a&b>"}`; string(got) != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestMarshalKeepsNumberText(t *testing.T) {
	got, err := Marshal(map[string]any{"v": json.Number("1.50"), "big": json.Number("12345678901234567890")})
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"big":12345678901234567890,"v":1.50}`; string(got) != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestMarshalIndent(t *testing.T) {
	got, err := MarshalIndent(map[string]any{"b": []int{1}, "a": map[string]any{}})
	if err != nil {
		t.Fatal(err)
	}
	want := "{\n  \"a\": {},\n  \"b\": [\n    1\n  ]\n}\n"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// Property 4: canonical encoding is a fixed point.
func TestCanonicalIsStable(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		m := rapid.MapOf(rapid.StringMatching(`[a-z]{1,6}`), rapid.IntRange(-1000, 1000)).Draw(rt, "m")
		first, err := MarshalIndent(m)
		if err != nil {
			rt.Fatal(err)
		}
		var back any
		if err := json.Unmarshal(first, &back); err != nil {
			rt.Fatal(err)
		}
		second, err := MarshalIndent(back)
		if err != nil {
			rt.Fatal(err)
		}
		if string(first) != string(second) {
			rt.Fatalf("not stable:\n%s\n%s", first, second)
		}
	})
}
