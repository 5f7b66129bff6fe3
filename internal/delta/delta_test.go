package delta

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComposeWithEmptyIsIdentity(t *testing.T) {
	content := New(Op{Insert: "Hello", Attributes: map[string]any{"bold": true}})
	require.Equal(t, content, content.Compose(Delta{}))
	require.Equal(t, content, Delta{}.Compose(content))

	edit := New(Op{Retain: 2}, Op{Insert: "x"})
	require.Equal(t, edit, edit.Compose(Delta{}))
	require.Equal(t, edit, Delta{}.Compose(edit))
}

func TestComposeInsertIntoSeed(t *testing.T) {
	got := Seed().Compose(New(Op{Insert: "hello"}))
	require.Equal(t, New(Op{Insert: "hello" + WelcomeText}), got)
}

func TestComposeDeleteCancelsInsert(t *testing.T) {
	base := New(Op{Insert: "Hello"})
	got := base.Compose(New(Op{Retain: 1}, Op{Delete: 4}))
	require.Equal(t, New(Op{Insert: "H"}), got)
}

func TestComposeAppliesAttributes(t *testing.T) {
	base := New(Op{Insert: "ab"})
	got := base.Compose(New(Op{Retain: 1, Attributes: map[string]any{"bold": true}}))
	require.Equal(t, New(
		Op{Insert: "a", Attributes: map[string]any{"bold": true}},
		Op{Insert: "b"},
	), got)
}

func TestComposeRemovesAttributesOnNull(t *testing.T) {
	base := New(Op{Insert: "a", Attributes: map[string]any{"bold": true}})

	var edit Delta
	err := json.Unmarshal([]byte(`{"ops":[{"retain":1,"attributes":{"bold":null}}]}`), &edit)
	require.NoError(t, err)

	require.Equal(t, New(Op{Insert: "a"}), base.Compose(edit))
}

func TestComposeAssociativity(t *testing.T) {
	cases := []struct {
		name    string
		a, b, c Delta
	}{
		{
			name: "insert delete insert",
			a:    New(Op{Insert: "Hello"}),
			b:    New(Op{Retain: 5}, Op{Insert: "!"}),
			c:    New(Op{Retain: 1}, Op{Delete: 1}, Op{Insert: "a"}),
		},
		{
			name: "attribute set then unset",
			a:    New(Op{Insert: "abc"}),
			b:    New(Op{Retain: 3, Attributes: map[string]any{"bold": true}}),
			c:    New(Op{Retain: 1, Attributes: map[string]any{"bold": nil}}),
		},
		{
			name: "overlapping deletes",
			a:    New(Op{Insert: "abcd"}),
			b:    New(Op{Delete: 2}),
			c:    New(Op{Retain: 1}, Op{Delete: 1}),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			left := tc.a.Compose(tc.b).Compose(tc.c)
			right := tc.a.Compose(tc.b.Compose(tc.c))
			require.Equal(t, left, right)
		})
	}
}

func TestComposeMergesAdjacentRuns(t *testing.T) {
	base := New(Op{Insert: "He"}, Op{Insert: "llo"})
	got := base.Compose(New(Op{Retain: 5}, Op{Insert: "!"}))
	require.Equal(t, New(Op{Insert: "Hello!"}), got)
}

func TestValidate(t *testing.T) {
	valid := New(Op{Insert: "a"}, Op{Retain: 2, Attributes: map[string]any{"bold": true}}, Op{Delete: 1})
	require.NoError(t, valid.Validate())

	cases := []struct {
		name string
		d    Delta
	}{
		{"insert and retain together", New(Op{Insert: "a", Retain: 1})},
		{"empty op", New(Op{})},
		{"negative retain", New(Op{Retain: -1})},
		{"negative delete", New(Op{Delete: -2})},
		{"empty insert", New(Op{Insert: ""})},
		{"numeric insert", New(Op{Insert: float64(3)})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, tc.d.Validate(), ErrMalformedOperation)
		})
	}
}

func TestBaseOrSeed(t *testing.T) {
	require.Equal(t, Seed(), BaseOrSeed(Delta{}))
	require.Equal(t, Seed(), BaseOrSeed(New(Op{Retain: -1})))

	content := New(Op{Insert: "kept"})
	require.Equal(t, content, BaseOrSeed(content))

	// An explicitly empty sequence is valid content, not an absence.
	empty := Delta{Ops: []Op{}}
	require.Equal(t, empty, BaseOrSeed(empty))
}
