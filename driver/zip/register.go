package zip

import (
	"fmt"

	"github.com/gobeaver/imageguard"
)

func init() {
	imageguard.RegisterSource("zip", func(cfg *imageguard.Config) (imageguard.Source, error) {
		if cfg.ZipPath == "" {
			return nil, fmt.Errorf("zip source requires a bundle path")
		}
		return Open(cfg.ZipPath, DefaultLimits())
	})
}
