package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"searchveil/shield"
)

// keyEnv names the environment variable read when --key is absent.
const keyEnv = "SEARCHVEIL_SHIELD_KEY"

var errNoKey = errors.New("no key: pass --key or set " + keyEnv)

func addKeyFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("key", "k", "", "hex encoded master key (default $"+keyEnv+")")
}

// keyFrom reads the hex master key from the flag or the environment.
func keyFrom(cmd *cobra.Command) ([]byte, error) {
	raw, _ := cmd.Flags().GetString("key")
	if raw == "" {
		raw = os.Getenv(keyEnv)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errNoKey
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(key) == 0 {
		return nil, errNoKey
	}
	return key, nil
}

// NewShieldCmd creates the shield command.
func NewShieldCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shield <text>...",
		Short: "Encrypt strings into shield tokens",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keyFrom(cmd)
			if err != nil {
				return err
			}
			codec := shield.NewCodec(key)
			for _, arg := range args {
				tok, err := codec.Shield(arg)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), tok)
			}
			return nil
		},
	}
	addKeyFlag(cmd)
	return cmd
}

// NewUnshieldCmd creates the unshield command.
func NewUnshieldCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unshield <token>...",
		Short: "Decrypt shield tokens",
		Long: `Unshield decrypts tokens issued under the given key. Strings that are not
tokens are reported and skipped; the command fails if any token does not
decrypt.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keyFrom(cmd)
			if err != nil {
				return err
			}
			codec := shield.NewCodec(key)
			failed := 0
			for _, arg := range args {
				res := codec.TryUnshield(arg)
				switch res.Outcome {
				case shield.Unshielded:
					fmt.Fprintln(cmd.OutOrStdout(), res.Plaintext)
				default:
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", abbreviate(arg), res.Outcome)
					if res.Outcome != shield.NotShielded {
						failed++
					}
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d token(s) did not decrypt", failed)
			}
			return nil
		},
	}
	addKeyFlag(cmd)
	return cmd
}

// NewKeygenCmd creates the keygen command.
func NewKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a new random master key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := shield.NewKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(key))
			return nil
		},
	}
}

func abbreviate(s string) string {
	if len(s) > 24 {
		return s[:24] + "..."
	}
	return s
}
