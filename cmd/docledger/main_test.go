package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"docledger", "help"}, &stdout, &stderr)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "poll-once")
}

func TestRun_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"docledger", "frobnicate"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "unknown command")
}

func TestRun_NoCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"docledger"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
}

func TestRun_ReplayRejectsBadStatus(t *testing.T) {
	t.Setenv("R2_BUCKET_NAME", "docs")
	var stdout, stderr bytes.Buffer
	code := Run([]string{"docledger", "replay", "--status", "DONE"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "--status")
}
