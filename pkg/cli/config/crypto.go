package config

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/service/crypto"
	"github.com/urfave/cli/v3"
)

// Crypto holds the key used to encrypt provider credentials at rest
type Crypto struct {
	EncryptionKey string `masq:"secret"`
}

func (x *Crypto) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "encryption-key",
			Category:    "crypto",
			Sources:     cli.EnvVars("KITSUNE_ENCRYPTION_KEY"),
			Usage:       "Secret the credential encryption key is derived from. Changing it makes stored credentials unreadable",
			Destination: &x.EncryptionKey,
		},
	}
}

func (x *Crypto) Configure() (*crypto.Codec, error) {
	if x.EncryptionKey == "" {
		return nil, goerr.New("encryption-key is required")
	}
	return crypto.New(x.EncryptionKey)
}
