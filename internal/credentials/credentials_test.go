package credentials

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	c, err := Parse("ssid=MyNet password=Secr3t!")
	require.NoError(t, err)
	assert.Equal(t, Credentials{SSID: "MyNet", Password: "Secr3t!"}, c)
}

func TestParseTokenAlphabet(t *testing.T) {
	tests := []struct {
		text string
		want Credentials
	}{
		{"ssid=home_5G.net password=a/b#c&d+e-f@g", Credentials{SSID: "home_5G.net", Password: "a/b#c&d+e-f@g"}},
		{"password=pw1\nssid=Office\n", Credentials{SSID: "Office", Password: "pw1"}},
		{"ssid=My Net password=x", Credentials{SSID: "My", Password: "x"}},
		{"ssid=Net password=", Credentials{SSID: "Net", Password: ""}},
		{"# comment\nssid=a;b\npassword=c,d", Credentials{SSID: "a", Password: "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			c, err := Parse(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c)
		})
	}
}

func TestParseTruncatesLongTokens(t *testing.T) {
	long := strings.Repeat("a", 60)
	c, err := Parse("ssid=" + long + " password=" + strings.Repeat("p", 50))
	require.NoError(t, err)
	assert.Len(t, c.SSID, MaxTokenLen)
	assert.Len(t, c.Password, MaxTokenLen)
	assert.Equal(t, long[:MaxTokenLen], c.SSID)

	c, err = Parse("ssid=" + long[:MaxTokenLen] + " password=x")
	require.NoError(t, err)
	assert.Len(t, c.SSID, MaxTokenLen, "exact limit kept")
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("")
	assert.ErrorIs(t, err, ErrNoSSID)

	_, err = Parse("ssid= password=x")
	assert.ErrorIs(t, err, ErrNoSSID)

	_, err = Parse("ssid=MyNet")
	assert.ErrorIs(t, err, ErrNoPassword)
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wifi.txt")
	require.NoError(t, os.WriteFile(path, []byte("ssid=MyNet password=Secr3t!\n"), 0o600))

	c, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "MyNet", c.SSID)
	assert.False(t, c.Empty())

	_, err = ReadFile(filepath.Join(dir, "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, os.WriteFile(path, []byte("nothing here"), 0o600))
	_, err = ReadFile(path)
	assert.ErrorIs(t, err, ErrNoSSID)
}

func TestArchive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wifi.txt")
	require.NoError(t, os.WriteFile(path, []byte("ssid=a password=b"), 0o600))

	dst, err := Archive(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ArchiveName), dst)
	assert.NoFileExists(t, path)
	assert.FileExists(t, dst)
}
