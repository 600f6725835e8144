package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/client/iocli"
	clientsync "github.com/iudanet/gophsync/internal/client/sync"
	"github.com/iudanet/gophsync/internal/metrics"
	"github.com/iudanet/gophsync/pkg/api"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "passphrase.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestReadPassphrase(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		opts    RootOptions
		input   string
		confirm bool
		want    string
		wantErr string
	}{
		{
			name: "from env",
			env:  "env passphrase 123",
			opts: RootOptions{Passphrase: "flag passphrase"},
			want: "env passphrase 123",
		},
		{
			name: "from file trims newline",
			opts: RootOptions{PassphraseFile: "file passphrase 456\n", Passphrase: "flag passphrase"},
			want: "file passphrase 456",
		},
		{
			name:    "empty file",
			opts:    RootOptions{PassphraseFile: "\n"},
			wantErr: "passphrase file is empty",
		},
		{
			name: "from flag",
			opts: RootOptions{Passphrase: "flag passphrase 789"},
			want: "flag passphrase 789",
		},
		{
			name:  "prompt",
			input: "typed passphrase\n",
			want:  "typed passphrase",
		},
		{
			name:    "prompt with confirmation",
			input:   "typed passphrase\ntyped passphrase\n",
			confirm: true,
			want:    "typed passphrase",
		},
		{
			name:    "confirmation mismatch",
			input:   "typed passphrase\nother\n",
			confirm: true,
			wantErr: "do not match",
		},
		{
			name:    "empty prompt",
			input:   "\n",
			wantErr: "cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(PassphraseEnv, tt.env)

			opts := tt.opts
			if opts.PassphraseFile != "" {
				opts.PassphraseFile = writeFile(t, opts.PassphraseFile)
			}

			got, err := readPassphrase(&opts, iocli.New(strings.NewReader(tt.input), &bytes.Buffer{}), tt.confirm)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadPassphrase_MissingFile(t *testing.T) {
	t.Setenv(PassphraseEnv, "")

	opts := &RootOptions{PassphraseFile: filepath.Join(t.TempDir(), "missing")}
	_, err := readPassphrase(opts, iocli.New(strings.NewReader(""), &bytes.Buffer{}), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read passphrase file")
}

func TestJSONValue(t *testing.T) {
	tests := []struct {
		arg  string
		want string
	}{
		{arg: `"quoted"`, want: `"quoted"`},
		{arg: `42`, want: `42`},
		{arg: `{"a":1}`, want: `{"a":1}`},
		{arg: `null`, want: `null`},
		{arg: `plain text`, want: `"plain text"`},
		{arg: `{broken`, want: `"{broken"`},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, err := jsonValue(tt.arg)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestRenderRow(t *testing.T) {
	var out bytes.Buffer
	err := renderRow(&out, "notes", "n1", map[string]json.RawMessage{
		"title": json.RawMessage(`"hello"`),
		"done":  json.RawMessage(`false`),
	})
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "=== notes/n1 ===")
	assert.Contains(t, text, `title:  "hello"`)
	assert.Contains(t, text, "done:   false")
	assert.Less(t, strings.Index(text, "done:"), strings.Index(text, "title:"), "columns are sorted")
}

func TestRenderStatus(t *testing.T) {
	var out bytes.Buffer
	err := renderStatus(&out, statusView{
		Relay:      "http://relay",
		RelayError: "connection refused",
		Owners: []ownerStatus{{
			ID:         "owner-1",
			Node:       "000000000000000a",
			Root:       "00ff",
			Operations: 3,
			State:      "not_synced",
			Reason:     "network",
		}},
	})
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "Relay:  http://relay (unreachable: connection refused)")
	assert.Contains(t, text, "Operations: 3")
	assert.Contains(t, text, "State:      not_synced")
	assert.Contains(t, text, "Reason:     network")
}

type rounderFunc func(ctx context.Context, owner api.OwnerID) (*clientsync.RoundResult, error)

func (f rounderFunc) Round(ctx context.Context, owner api.OwnerID) (*clientsync.RoundResult, error) {
	return f(ctx, owner)
}

func TestMeteredRounder(t *testing.T) {
	tests := []struct {
		name   string
		result *clientsync.RoundResult
		err    error
		label  string
	}{
		{name: "synced", result: &clientsync.RoundResult{Synced: true, Duration: time.Millisecond}, label: metrics.RoundSynced},
		{name: "pending", result: &clientsync.RoundResult{Received: 2}, label: metrics.RoundPending},
		{name: "lock held", err: clientsync.ErrLockUnavailable, label: metrics.RoundSkipped},
		{name: "failure", err: errors.New("boom"), label: metrics.RoundFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := metrics.RoundsTotal.WithLabelValues(tt.label)
			before := testutil.ToFloat64(counter)

			rounder := meteredRounder{rounderFunc(func(context.Context, api.OwnerID) (*clientsync.RoundResult, error) {
				return tt.result, tt.err
			})}
			result, err := rounder.Round(context.Background(), api.OwnerID{1})

			assert.Equal(t, tt.result, result)
			assert.Equal(t, tt.err, err)
			assert.Equal(t, before+1, testutil.ToFloat64(counter))
		})
	}
}
