package local

import "github.com/gobeaver/imageguard"

func init() {
	imageguard.RegisterSource("local", func(cfg *imageguard.Config) (imageguard.Source, error) {
		return New(cfg.LocalBasePath)
	})
}
