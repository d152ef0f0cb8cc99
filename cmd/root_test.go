package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/qprofile/internal/backend"
	"github.com/zjrosen/qprofile/internal/presentation"
)

const (
	testARN      = "arn:aws:codewhisperer:us-east-1:123456789012:profile/ABCDEFGHIJKL"
	testOtherARN = "arn:aws:codewhisperer:us-east-1:123456789012:profile/ZYXWVUTSRQPO"
)

func profileServer(t *testing.T, records []backend.ProfileRecord) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-amz-json-1.0")
		_ = json.NewEncoder(w).Encode(backend.ListProfilesOutput{Profiles: records})
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

// setup writes a config and token cache into an isolated HOME and returns
// the config path.
func setup(t *testing.T, records []backend.ProfileRecord) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(home)

	tokenPath := filepath.Join(home, "token.json")
	token := fmt.Sprintf(`{"accessToken":"tok","expiresAt":%q,"region":"us-east-1","startUrl":"https://d-1234567890.awsapps.com/start"}`,
		time.Now().Add(time.Hour).UTC().Format(time.RFC3339))
	require.NoError(t, os.WriteFile(tokenPath, []byte(token), 0o600))

	primary := profileServer(t, records)
	secondary := profileServer(t, nil)
	cfgPath := filepath.Join(home, "config.yaml")
	body := fmt.Sprintf(`endpoints:
  - name: primary
    region: us-east-1
    url: %s
  - name: secondary
    region: eu-central-1
    url: %s
discovery:
  timeout: 2s
selection:
  db_path: %s
identity:
  token_file: %s
client:
  default_endpoint: %s
  max_retries: 0
`, primary, secondary, filepath.Join(home, "state.db"), tokenPath, primary)
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	return cfgPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestProfilesList_JSONAutoSelects(t *testing.T) {
	cfgPath := setup(t, []backend.ProfileRecord{
		{ARN: testARN, ProfileName: "team"},
		{ARN: testOtherARN, ProfileName: "other"},
		{ARN: "not-an-arn", ProfileName: "bad"},
	})

	out, err := run(t, "-c", cfgPath, "profiles", "list", "-o", "json")
	require.NoError(t, err)

	var got []presentation.ProfileDTO
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 2, "invalid ARNs are dropped")
	require.Equal(t, "team", got[0].Name)
	require.True(t, got[0].Active, "single contributing endpoint auto-selects its first profile")
	require.False(t, got[1].Active)

	out, err = run(t, "-c", cfgPath, "profiles", "current", "-o", "json")
	require.NoError(t, err)
	var current presentation.ProfileDTO
	require.NoError(t, json.Unmarshal([]byte(out), &current))
	require.Equal(t, testARN, current.ARN)
}

func TestProfilesSelect_ByARN(t *testing.T) {
	cfgPath := setup(t, []backend.ProfileRecord{
		{ARN: testARN, ProfileName: "team"},
		{ARN: testOtherARN, ProfileName: "other"},
	})

	out, err := run(t, "-c", cfgPath, "profiles", "select", testOtherARN)
	require.NoError(t, err)
	require.Equal(t, "Now using profile other\n", out)

	_, err = run(t, "-c", cfgPath, "profiles", "select", "arn:aws:codewhisperer:us-east-1:123456789012:profile/NOTLISTED000")
	require.Error(t, err)
}

func TestProfilesSelect_NoProfilesIsSilent(t *testing.T) {
	cfgPath := setup(t, nil)

	out, err := run(t, "-c", cfgPath, "profiles", "select")
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestConfigSetAndPath(t *testing.T) {
	cfgPath := setup(t, nil)

	out, err := run(t, "-c", cfgPath, "config", "set", "discovery.page_size", "25")
	require.NoError(t, err)
	require.Contains(t, out, "discovery.page_size")

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "page_size: 25")

	out, err = run(t, "-c", cfgPath, "config", "path")
	require.NoError(t, err)
	require.Equal(t, cfgPath+"\n", out)
}
