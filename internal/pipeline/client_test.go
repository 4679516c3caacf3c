package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractJSONPassesCleanObject(t *testing.T) {
	raw, err := extractJSON(`{"a":1}`)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(raw))
}

func TestExtractJSONStripsFences(t *testing.T) {
	cases := []string{
		"```json\n{\"a\":1}\n```",
		"```\n{\"a\":1}\n```",
		"Here you go:\n```json\n{\"a\":1}\n```\nLet me know.",
	}
	for _, in := range cases {
		raw, err := extractJSON(in)
		require.NoError(t, err, in)
		require.JSONEq(t, `{"a":1}`, string(raw))
	}
}

func TestExtractJSONRejectsProse(t *testing.T) {
	_, err := extractJSON("I cannot produce that graph.")
	require.Error(t, err)
}
