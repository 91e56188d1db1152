package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/minutes/credentials"
)

// KeysCommandDeps holds the dependencies for the keys commands.
type KeysCommandDeps struct {
	OpenStore func() (*credentials.Store, error)
}

// DefaultKeysDeps returns the default dependencies for production use.
func DefaultKeysDeps() *KeysCommandDeps {
	return &KeysCommandDeps{OpenStore: credentials.NewStore}
}

var keysReveal bool

// NewKeysCommand creates the keys command with all subcommands.
func NewKeysCommand(deps *KeysCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultKeysDeps()
	}

	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage provider API keys",
		Long: fmt.Sprintf(`Store provider API keys in the encrypted credentials file.

Keys are encrypted with AES-GCM. The encryption key lives in the system
keyring; where no keyring exists set %s (hex) or %s.
Environment variables such as OPENAI_API_KEY take precedence over stored keys.

Well-known names:
  %-13s OpenAI (LLM, transcription, speech)
  %-13s Gemini (LLM and speech fallback, OCR)
  %-13s HMAC key for signed narration URLs

Examples:
  minutes keys set openai
  minutes keys list
  minutes keys get gemini --reveal
  minutes keys delete openai`,
			credentials.EnvEncryptionKey, credentials.EnvPassphrase,
			credentials.KeyOpenAI, credentials.KeyGemini, credentials.KeyBlobSigner),
		Aliases: []string{"key", "credentials"},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <name> [value]",
		Short: "Store a key; prompts when value is omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysSet(cmd.InOrStdin(), cmd.OutOrStdout(), deps, args)
		},
	})

	getCmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Show a stored key, masked unless --reveal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysGet(cmd.OutOrStdout(), deps, args[0])
		},
	}
	getCmd.Flags().BoolVar(&keysReveal, "reveal", false, "Print the key in full")
	cmd.AddCommand(getCmd)

	cmd.AddCommand(&cobra.Command{
		Use:     "delete <name>",
		Short:   "Remove a stored key",
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysDelete(cmd.OutOrStdout(), deps, args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "list",
		Short:   "List stored key names",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysList(cmd.OutOrStdout(), deps)
		},
	})

	return cmd
}

func runKeysSet(in io.Reader, out io.Writer, deps *KeysCommandDeps, args []string) error {
	store, err := deps.OpenStore()
	if err != nil {
		return err
	}
	value := ""
	if len(args) == 2 {
		value = args[1]
	} else {
		value, err = credentials.ReadSecret(in, out, fmt.Sprintf("Enter value for %s: ", args[0]))
		if err != nil {
			return err
		}
	}
	if err := store.Set(args[0], value); err != nil {
		return fmt.Errorf("storing %s: %w", args[0], err)
	}
	fmt.Fprintf(out, "Stored %s (%s)\n", args[0], store.Description())
	return nil
}

func runKeysGet(out io.Writer, deps *KeysCommandDeps, name string) error {
	store, err := deps.OpenStore()
	if err != nil {
		return err
	}
	v, err := store.Get(name)
	if errors.Is(err, credentials.ErrNotFound) {
		return fmt.Errorf("no key stored for %s", name)
	}
	if err != nil {
		return err
	}
	if !keysReveal {
		v = credentials.Mask(v)
	}
	fmt.Fprintln(out, v)
	return nil
}

func runKeysDelete(out io.Writer, deps *KeysCommandDeps, name string) error {
	store, err := deps.OpenStore()
	if err != nil {
		return err
	}
	ok, err := store.Delete(name)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(out, "No key stored for %s\n", name)
		return nil
	}
	fmt.Fprintf(out, "Deleted %s\n", name)
	return nil
}

func runKeysList(out io.Writer, deps *KeysCommandDeps) error {
	store, err := deps.OpenStore()
	if err != nil {
		return err
	}
	names, err := store.Names()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(out, "No keys stored.")
		return nil
	}
	fmt.Fprintf(out, "Keys (%s):\n", store.Description())
	for _, n := range names {
		fmt.Fprintf(out, "  %s\n", n)
	}
	return nil
}
