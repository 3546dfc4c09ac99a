package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestRun_PrintsVerifiableHash(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(strings.NewReader("s3cret-pass\r\n"), &out))

	hash := strings.TrimSpace(out.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret-pass")))
}

func TestRun_AcceptsMissingNewline(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(strings.NewReader("no-newline"), &out))
	assert.NotEmpty(t, strings.TrimSpace(out.String()))
}

func TestRun_RejectsEmptyPassword(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, run(strings.NewReader("\n"), &out))
	assert.Error(t, run(strings.NewReader(""), &out))
	assert.Empty(t, out.String())
}
