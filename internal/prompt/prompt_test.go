package prompt

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pbaille/akten/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		ok    bool
	}{
		{"y\n", true},
		{"Ja\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		err := NewTerminal(strings.NewReader(tt.input), &out).Confirm("Ordner löschen?")
		if tt.ok {
			assert.NoError(t, err, "%q", tt.input)
		} else {
			assert.ErrorIs(t, err, domain.ErrCancelled, "%q", tt.input)
		}
		assert.Contains(t, out.String(), "Ordner löschen? [y/N]")
	}
}

func TestInput(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(strings.NewReader("Mietvertrag\n\n\n"), &out)

	got, err := term.Input("Name", "Scan 1")
	require.NoError(t, err)
	assert.Equal(t, "Mietvertrag", got)

	got, err = term.Input("Name", "Scan 1")
	require.NoError(t, err)
	assert.Equal(t, "Scan 1", got)

	_, err = term.Input("Name", "")
	assert.ErrorIs(t, err, domain.ErrCancelled)

	_, err = term.Input("Name", "whatever")
	assert.ErrorIs(t, err, domain.ErrCancelled, "EOF cancels")
}

func TestYes(t *testing.T) {
	var p Prompter = Yes{}
	assert.NoError(t, p.Confirm("?"))
	got, err := p.Input("Name", "x")
	require.NoError(t, err)
	assert.Equal(t, "x", got)
}
