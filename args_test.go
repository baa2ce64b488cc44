package pluginhost

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEncodeArgs(t *testing.T) {
	got := EncodeArgs("--port", "8080", "a&b=c")
	assert.NotContains(t, got, " ", "encoded args must be a single token")
	assert.Equal(t, []string{"--port", "8080", "a&b=c"}, DecodeToArrayArgs(got))

	assert.Equal(t, "", EncodeArgs())
}

func TestDecodeToArrayArgs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: []string{}},
		{name: "only spaces", in: "+++", want: []string{}},
		{name: "single", in: "alpha", want: []string{"alpha"}},
		{name: "plus separated", in: "a+b", want: []string{"a", "b"}},
		{name: "escaped space", in: "a%20b", want: []string{"a", "b"}},
		{name: "runs of spaces collapse", in: "a++b", want: []string{"a", "b"}},
		{name: "leading and trailing", in: "+a+", want: []string{"a"}},
		{name: "escaped plus is literal", in: "1%2B1", want: []string{"1+1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeToArrayArgs(tt.in)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeArgs_Lenient(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "100%", want: "100%"},
		{in: "%zz", want: "%zz"},
		{in: "%4", want: "%4"},
		{in: "%41%4a%4A", want: "AJJ"},
		{in: "plain", want: "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeArgs(tt.in))
		})
	}
}

func TestArgs_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tokens := rapid.SliceOf(
			rapid.StringMatching(`[^ ]{1,12}`),
		).Draw(t, "tokens")

		encoded := EncodeArgs(tokens...)
		if strings.Contains(encoded, " ") {
			t.Fatalf("encoded %q contains a space", encoded)
		}

		got := DecodeToArrayArgs(encoded)
		if len(got) != len(tokens) {
			t.Fatalf("round trip of %q gave %q", tokens, got)
		}
		for i := range tokens {
			if got[i] != tokens[i] {
				t.Fatalf("token %d: got %q, want %q", i, got[i], tokens[i])
			}
		}
	})
}

func TestDecodeArgs_MatchesQueryEscape(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "s")
		if got := DecodeArgs(EncodeArgs(s)); got != s {
			t.Fatalf("DecodeArgs(EncodeArgs(%q)) = %q", s, got)
		}
	})
}
