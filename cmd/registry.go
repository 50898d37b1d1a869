package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mandiflow/mandiflow/internal/model"
	"github.com/mandiflow/mandiflow/internal/registry"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Inspect the alias registry",
}

var registryCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate registry files and report alias conflicts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := registry.Load(cfg.Registry.Paths)
		if err != nil {
			return eris.Wrap(err, "registry check")
		}

		for _, domain := range []model.Domain{
			model.DomainMarket, model.DomainCommodity, model.DomainState, model.DomainUnit,
		} {
			zap.L().Info("registry: domain",
				zap.String("domain", string(domain)),
				zap.String("version", reg.Version(domain)),
				zap.Int("canonicals", len(reg.Canonicals(domain))),
			)
		}

		conflicts := reg.Conflicts()
		if len(conflicts) == 0 {
			fmt.Fprintln(os.Stderr, "Registry OK: no alias conflicts.")
			return nil
		}

		for _, c := range conflicts {
			fmt.Fprintf(os.Stderr, "conflict: domain=%s alias=%q claimed by %s, also wanted by %s\n",
				c.Domain, c.Alias, c.First, c.Second)
		}
		return eris.Errorf("registry check: %d alias conflicts", len(conflicts))
	},
}

func init() {
	registryCmd.AddCommand(registryCheckCmd)
	rootCmd.AddCommand(registryCmd)
}
