// Package credentials holds the Wi-Fi join credentials: parsing the bulk
// config text file and persisting the last known good pair.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// ArchiveName is the name a consumed override file is renamed to.
const ArchiveName = "wifi_old.txt"

// MaxTokenLen is the longest ssid or password kept; longer values are
// truncated.
const MaxTokenLen = 49

var (
	// ErrNoSSID is returned when the text has no usable ssid= token.
	ErrNoSSID = errors.New("no ssid in config text")
	// ErrNoPassword is returned when the text has no password= token.
	ErrNoPassword = errors.New("no password in config text")
)

var (
	ssidRe     = regexp.MustCompile(`ssid=([A-Za-z0-9_@./#&+!-]*)`)
	passwordRe = regexp.MustCompile(`password=([A-Za-z0-9_@./#&+!-]*)`)
)

// Credentials is an SSID and password pair.
type Credentials struct {
	SSID     string
	Password string
}

// Empty reports whether no SSID is set.
func (c Credentials) Empty() bool {
	return c.SSID == ""
}

// Parse extracts credentials from free-form text such as
// "ssid=MyNet password=Secr3t!". Both tokens are required. Each value runs
// until the first character outside the token alphabet and is truncated to
// MaxTokenLen.
func Parse(text string) (Credentials, error) {
	m := ssidRe.FindStringSubmatch(text)
	if m == nil || m[1] == "" {
		return Credentials{}, ErrNoSSID
	}
	c := Credentials{SSID: m[1]}

	m = passwordRe.FindStringSubmatch(text)
	if m == nil {
		return Credentials{}, ErrNoPassword
	}
	c.Password = m[1]
	return c.Truncated(), nil
}

// Truncated returns c with both fields cut to MaxTokenLen bytes. The token
// alphabet is ASCII, so a byte cut never splits a character.
func (c Credentials) Truncated() Credentials {
	if len(c.SSID) > MaxTokenLen {
		c.SSID = c.SSID[:MaxTokenLen]
	}
	if len(c.Password) > MaxTokenLen {
		c.Password = c.Password[:MaxTokenLen]
	}
	return c
}

// ReadFile parses credentials from the file at path.
func ReadFile(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("read %s: %w", path, err)
	}
	c, err := Parse(string(data))
	if err != nil {
		return Credentials{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

// Archive renames a consumed override file to ArchiveName in the same
// directory, replacing any previous archive.
func Archive(path string) (string, error) {
	dst := filepath.Join(filepath.Dir(path), ArchiveName)
	if err := os.Rename(path, dst); err != nil {
		return "", fmt.Errorf("archive %s: %w", path, err)
	}
	return dst, nil
}
