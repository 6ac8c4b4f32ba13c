package cli

import (
	"fmt"

	"github.com/adminsys/fieldcrypt"
	"github.com/spf13/cobra"
)

func newKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "print a new random master key (64 hex characters)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := fieldcrypt.GenerateMasterKeyHex()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func newEncryptCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <plaintext>",
		Short: "encrypt a value and print its stored (hex) form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := g.newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			stored, err := fieldcrypt.NewFieldCodec(svc).EncodeString(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), stored)
			return nil
		},
	}
}

func newDecryptCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt <stored-hex>",
		Short: "decrypt a stored (hex) value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := g.newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			plaintext, err := fieldcrypt.NewFieldCodec(svc).DecodeString(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), plaintext)
			return nil
		},
	}
}

func newIndexCommand(g *globalOptions) *cobra.Command {
	var normalize string

	cmd := &cobra.Command{
		Use:   "index <value>",
		Short: "print the blind index of a value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			norm, ok := fieldcrypt.NormalizerByName(normalize)
			if !ok {
				return fmt.Errorf("unknown normalizer %q (none, email, line, phone)", normalize)
			}

			svc, err := g.newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			fmt.Fprintln(cmd.OutOrStdout(), svc.BlindIndexNormalized(args[0], norm))
			return nil
		},
	}
	cmd.Flags().StringVarP(&normalize, "normalize", "n", "none", "normalizer applied before indexing (none, email, line, phone)")
	return cmd
}
