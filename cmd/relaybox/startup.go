package main

import (
	"context"
	"errors"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/PiotrChr/RelayBoxController/internal/credentials"
	"github.com/PiotrChr/RelayBoxController/internal/display"
	"github.com/PiotrChr/RelayBoxController/internal/network"
)

// credentialStore is the persistent side of the credentials package.
type credentialStore interface {
	Load(ctx context.Context) (credentials.Credentials, error)
	Save(ctx context.Context, c credentials.Credentials) error
}

type bootstrap struct {
	store        credentialStore
	overrideFile string
	archive      bool
	net          network.Manager
	disp         display.Display
}

// joinNetwork restores stored credentials, lets the override file replace
// them, persists the result and makes one connect attempt. Every failure is
// logged and shown; none is fatal.
func (b bootstrap) joinNetwork(ctx context.Context) credentials.Credentials {
	b.disp.Show("Restoring credentials...")
	var creds credentials.Credentials
	if b.store != nil {
		c, err := b.store.Load(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("credential store load failed")
		} else {
			creds = c
		}
	}

	if b.overrideFile != "" {
		c, err := credentials.ReadFile(b.overrideFile)
		switch {
		case err == nil:
			creds = c
			b.disp.Show("Found connection details")
			log.Info().Str("file", b.overrideFile).Str("ssid", c.SSID).Msg("credentials loaded from override file")
			if b.archive {
				if dst, err := credentials.Archive(b.overrideFile); err != nil {
					log.Warn().Err(err).Msg("override file archive failed")
				} else {
					log.Info().Str("file", dst).Msg("override file archived")
				}
			}
		case errors.Is(err, os.ErrNotExist):
			log.Debug().Str("file", b.overrideFile).Msg("no override file")
		default:
			log.Warn().Err(err).Msg("override file ignored")
		}
	}

	if creds.Empty() {
		b.disp.Show("No network configured")
		return creds
	}

	if b.store != nil {
		b.disp.Show("Saving credentials...")
		if err := b.store.Save(ctx, creds); err != nil {
			log.Warn().Err(err).Msg("credential store save failed")
		}
	}

	b.disp.Show("Connecting to: " + creds.SSID)
	if err := b.net.Connect(ctx, creds.SSID, creds.Password); err != nil {
		log.Warn().Err(err).Str("ssid", creds.SSID).Msg("wifi connect failed")
		b.disp.Show("Wi-Fi not connected")
	}
	return creds
}
