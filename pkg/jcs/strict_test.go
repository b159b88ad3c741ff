package jcs

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_AcceptsWellFormedJSON(t *testing.T) {
	cases := []string{
		`{}`,
		`[]`,
		`null`,
		`true`,
		`42`,
		`-3.14e10`,
		`"plain string"`,
		`{"a":1,"b":[1,2,3],"c":{"d":null}}`,
		`"éè"`,
		`"😀"`, // valid surrogate pair (grinning face emoji)
	}
	for _, c := range cases {
		assert.NoError(t, Validate([]byte(c), nil), "expected %q to validate", c)
	}
}

func TestValidate_RejectsDuplicateKeys(t *testing.T) {
	err := Validate([]byte(`{"a":1,"b":2,"a":3}`), nil)
	require.Error(t, err)
	var jerr *Error
	require.True(t, errors.As(err, &jerr))
	assert.Equal(t, KindDuplicateKey, jerr.Kind)
	assert.Equal(t, "a", jerr.Key)
}

func TestValidate_RejectsNestedDuplicateKeys(t *testing.T) {
	err := Validate([]byte(`{"outer":{"x":1,"x":2}}`), nil)
	require.Error(t, err)
	var jerr *Error
	require.True(t, errors.As(err, &jerr))
	assert.Equal(t, KindDuplicateKey, jerr.Kind)
	assert.Equal(t, "$.outer", jerr.Path)
}

func TestValidate_RejectsLoneHighSurrogate(t *testing.T) {
	err := Validate([]byte(`"\ud83d"`), nil)
	require.Error(t, err)
	var jerr *Error
	require.True(t, errors.As(err, &jerr))
	assert.Equal(t, KindLoneSurrogate, jerr.Kind)
}

func TestValidate_RejectsLoneLowSurrogate(t *testing.T) {
	err := Validate([]byte(`"\ude00"`), nil)
	require.Error(t, err)
	var jerr *Error
	require.True(t, errors.As(err, &jerr))
	assert.Equal(t, KindLoneSurrogate, jerr.Kind)
}

func TestValidate_RejectsHighSurrogateFollowedByNonSurrogate(t *testing.T) {
	err := Validate([]byte(`"\ud83dX"`), nil)
	require.Error(t, err)
	var jerr *Error
	require.True(t, errors.As(err, &jerr))
	assert.Equal(t, KindLoneSurrogate, jerr.Kind)
}

func TestValidate_RejectsExcessiveNesting(t *testing.T) {
	depth := 100
	in := ""
	out := ""
	for i := 0; i < depth; i++ {
		in += "["
		out += "]"
	}
	in += "1" + out

	err := Validate([]byte(in), &Limits{MaxDepth: 10, MaxStringLength: DefaultMaxStringLength, MaxKeys: DefaultMaxKeys, MaxInputSize: DefaultMaxInputSize})
	require.Error(t, err)
	var jerr *Error
	require.True(t, errors.As(err, &jerr))
	assert.Equal(t, KindNestingTooDeep, jerr.Kind)
}

func TestValidate_RejectsTooManyKeys(t *testing.T) {
	in := `{`
	for i := 0; i < 10; i++ {
		if i > 0 {
			in += ","
		}
		in += `"k` + itoa(i) + `":1`
	}
	in += `}`

	err := Validate([]byte(in), &Limits{MaxDepth: DefaultMaxDepth, MaxStringLength: DefaultMaxStringLength, MaxKeys: 5, MaxInputSize: DefaultMaxInputSize})
	require.Error(t, err)
	var jerr *Error
	require.True(t, errors.As(err, &jerr))
	assert.Equal(t, KindMaxKeysExceeded, jerr.Kind)
}

func TestValidate_RejectsOversizedInput(t *testing.T) {
	err := Validate([]byte(`{"a":1}`), &Limits{MaxDepth: DefaultMaxDepth, MaxStringLength: DefaultMaxStringLength, MaxKeys: DefaultMaxKeys, MaxInputSize: 3})
	require.Error(t, err)
	var jerr *Error
	require.True(t, errors.As(err, &jerr))
	assert.Equal(t, KindInputTooLarge, jerr.Kind)
}

func TestValidate_RejectsMalformedGrammar(t *testing.T) {
	cases := []string{
		`{`,
		`[1,2,`,
		`{"a":}`,
		`01`,
		`-`,
		`"unterminated`,
		`tru`,
		`1.`,
		`1e`,
	}
	for _, c := range cases {
		assert.Error(t, Validate([]byte(c), nil), "expected %q to be rejected", c)
	}
}

// TestValidate_ObjectKeyOrderIndependentOfDuplicateDetection is the
// property-based counterpart to the table cases above: for any set of
// distinct string keys, an object built from them always validates.
func TestValidate_ObjectKeyOrderIndependentOfDuplicateDetection(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	keyGen := gen.RegexMatch(`[a-zA-Z]{1,8}`)

	properties.Property("unique keys always validate", prop.ForAll(
		func(keys []string) bool {
			uniq := map[string]struct{}{}
			var ordered []string
			for _, k := range keys {
				if _, ok := uniq[k]; ok {
					continue
				}
				uniq[k] = struct{}{}
				ordered = append(ordered, k)
			}
			obj := "{"
			for i, k := range ordered {
				if i > 0 {
					obj += ","
				}
				obj += `"` + k + `":1`
			}
			obj += "}"
			return Validate([]byte(obj), nil) == nil
		},
		gen.SliceOf(keyGen),
	))

	properties.TestingRun(t)
}
