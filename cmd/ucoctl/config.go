package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"lds.li/ucoclient/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the environment configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the environment configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				var missing []string
				for _, e := range unwrapAll(err) {
					var me *config.MissingEnvError
					if errors.As(e, &me) {
						missing = append(missing, me.Key)
					}
				}
				for _, k := range missing {
					fmt.Fprintf(cmd.ErrOrStderr(), "missing: %s\n", k)
				}
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "issuer:       %s\n", cfg.Issuer())
			fmt.Fprintf(out, "client id:    %s\n", cfg.ClientID)
			fmt.Fprintf(out, "audience:     %s\n", cfg.Audience)
			fmt.Fprintf(out, "api url:      %s\n", cfg.APIBaseURL)
			fmt.Fprintf(out, "api timeout:  %s\n", cfg.APITimeout)
			fmt.Fprintf(out, "redirect url: %s\n", cfg.RedirectURL)
			fmt.Fprintf(out, "roles claim:  %s\n", cfg.RolesClaim)
			return nil
		},
	})
	return cmd
}

func unwrapAll(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
