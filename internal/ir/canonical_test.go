package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    Value
		expected string
	}{
		{"string", String("hello"), `"hello"`},
		{"empty string", String(""), `""`},
		{"int", Int(42), "42"},
		{"negative int", Int(-100), "-100"},
		{"max int64", Int(9223372036854775807), "9223372036854775807"},
		{"min int64", Int(-9223372036854775808), "-9223372036854775808"},
		{"bool true", Bool(true), "true"},
		{"bool false", Bool(false), "false"},
		{"null", Null{}, "null"},
		{"empty array", Array{}, "[]"},
		{"nil array", Array(nil), "[]"},
		{"empty object", Object{}, "{}"},
		{"array of ints", Array{Int(1), Int(2), Int(3)}, "[1,2,3]"},
		{"simple object", Object{"a": Int(1)}, `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := Object{
		"d": Int(8),
		"a": Array{},
		"b": Object{"c": Int(2)},
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":[],"b":{"c":2},"d":8}`, string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	result, err := MarshalCanonical(String("<a href=\"x\">&</a>"))
	require.NoError(t, err)
	assert.Equal(t, `"<a href=\"x\">&</a>"`, string(result))
}

func TestMarshalCanonicalRejectsAbsent(t *testing.T) {
	_, err := MarshalCanonical(Absent)
	assert.Error(t, err)

	_, err = MarshalCanonical(Object{"b": Object{"c": Absent}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"c"`)
}

func TestMarshalCanonicalRejectsNil(t *testing.T) {
	_, err := MarshalCanonical(nil)
	assert.Error(t, err)
}

func TestMarshalCanonicalKeepsStringsVerbatim(t *testing.T) {
	composed := "caf\u00e9"
	decomposed := "cafe\u0301"

	result1, err := MarshalCanonical(String(composed))
	require.NoError(t, err)
	result2, err := MarshalCanonical(String(decomposed))
	require.NoError(t, err)
	assert.Equal(t, "\""+composed+"\"", string(result1))
	assert.Equal(t, "\""+decomposed+"\"", string(result2))

	// Canonically equivalent keys stay distinct members.
	keyed, err := MarshalCanonical(Object{composed: Int(2), decomposed: Int(1)})
	require.NoError(t, err)
	assert.Equal(t, "{\""+decomposed+"\":1,\""+composed+"\":2}", string(keyed))

	back, err := ParseValue(keyed)
	require.NoError(t, err)
	assert.Equal(t, Object{composed: Int(2), decomposed: Int(1)}, back)
}

func TestMarshalCanonicalU2028U2029NotEscaped(t *testing.T) {
	result, err := MarshalCanonical(String("a\u2028b\u2029c"))
	require.NoError(t, err)

	assert.Equal(t, "\"a\u2028b\u2029c\"", string(result))
	assert.NotContains(t, string(result), `\u2028`)
	assert.NotContains(t, string(result), `\u2029`)
}

func TestMarshalCanonicalLiteralBackslashU2028(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"literal text", `the escape is \u2028`, `"the escape is \\u2028"`},
		{"mixed literal and actual", "literal \\u2028 and actual \u2028", "\"literal \\\\u2028 and actual \u2028\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(String(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalIdempotent(t *testing.T) {
	inputs := []string{
		`{"b":{"c":3},"d":9,"a":["a"]}`,
		`[1,"two",true,null,{"z":[]}]`,
		`"x"`,
	}

	for _, in := range inputs {
		v, err := ParseValue([]byte(in))
		require.NoError(t, err)

		first := MustMarshalCanonical(v)
		again, err := ParseValue(first)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(MustMarshalCanonical(again)))
	}
}

func FuzzMarshalCanonicalIdempotent(f *testing.F) {
	f.Add(`{"a":1,"b":"test"}`)
	f.Add(`[1,2,3]`)
	f.Add(`"hello"`)
	f.Add(`null`)

	f.Fuzz(func(t *testing.T, input string) {
		v, err := ParseValue([]byte(input))
		if err != nil {
			return
		}
		first, err := MarshalCanonical(v)
		if err != nil {
			t.Fatalf("marshal parsed value: %v", err)
		}
		reparsed, err := ParseValue(first)
		if err != nil {
			t.Fatalf("reparse canonical output %q: %v", first, err)
		}
		second, err := MarshalCanonical(reparsed)
		if err != nil {
			t.Fatalf("marshal reparsed value: %v", err)
		}
		if string(first) != string(second) {
			t.Fatalf("not idempotent: %q vs %q", first, second)
		}
	})
}
