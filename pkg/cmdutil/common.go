package cmdutil

import (
	"fmt"

	"github.com/sky8273/topaz-alpha/pkg/core"
	"github.com/sky8273/topaz-alpha/pkg/core/hash"
)

// PinEmbed is the shared PIN flag group for commands that authenticate to
// the drive.
type PinEmbed struct {
	Pin  string `optional:"" short:"p" env:"PIN" type:"password" help:"Authentication PIN"`
	Hash string `optional:"" env:"PIN_HASH" default:"raw" enum:"raw,sedutil-dta,sedutil-sha512,dta,sha1,sha512" help:"PIN hashing: raw bytes (default), dta (sha1) or sha512 sedutil derivation"`
}

// PinBytes returns the credential to present to the drive: the raw PIN
// bytes, or a sedutil-compatible derivation salted with the drive serial.
func (t *PinEmbed) PinBytes(d *core.Drive) ([]byte, error) {
	switch t.Hash {
	case "", "raw":
		return []byte(t.Pin), nil
	// Drive-Trust-Alliance uses sha1
	case "sedutil-dta", "sha1", "dta":
		serial, err := d.SerialNumber()
		if err != nil {
			return nil, fmt.Errorf("drive serial read failed: %v", err)
		}
		return hash.HashSedutilDTA(t.Pin, string(serial)), nil
	// ChubbyAnt uses sha512
	case "sedutil-sha512", "sha512":
		serial, err := d.SerialNumber()
		if err != nil {
			return nil, fmt.Errorf("drive serial read failed: %v", err)
		}
		return hash.HashSedutil512(t.Pin, string(serial)), nil
	default:
		return nil, fmt.Errorf("unknown hash method %q", t.Hash)
	}
}
