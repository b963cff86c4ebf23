package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	bundlestore "github.com/toolgate-dev/toolgate/internal/adapter/outbound/bundle"
)

var keygenDir string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an Ed25519 policy signing keypair",
	Long: `Generate an Ed25519 keypair for signing policy bundles.

Both halves are written as base64 text files. Keep the private key
offline; configure the gateway with the public key:

  policy:
    public_key_b64: <contents of toolgate_policy_public.key>
    require_signature: true`,
	RunE: func(cmd *cobra.Command, args []string) error {
		privPath, pubPath, err := bundlestore.GenerateKeyFiles(keygenDir)
		if err != nil {
			return err
		}
		pub, err := os.ReadFile(pubPath)
		if err != nil {
			return err
		}
		fmt.Printf("private key: %s\n", privPath)
		fmt.Printf("public key:  %s\n", pubPath)
		fmt.Printf("public_key_b64: %s\n", pub)
		return nil
	},
}

var (
	signKeyPath string
	signOutPath string
)

var signPolicyCmd = &cobra.Command{
	Use:   "sign-policy <bundle.yaml>",
	Short: "Sign a policy bundle file",
	Long: `Sign a policy bundle with an Ed25519 private key, writing a detached
signature file next to the bundle (or to --out).

Example:
  toolgate sign-policy bundle.yaml --key toolgate_policy_private.key`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		priv, err := bundlestore.LoadPrivateKey(signKeyPath)
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read bundle: %w", err)
		}

		sig := bundlestore.Sign(priv, raw, time.Now())

		out := signOutPath
		if out == "" {
			out = args[0] + ".sig.json"
		}
		if err := bundlestore.WriteSignature(out, sig); err != nil {
			return err
		}
		fmt.Printf("signature: %s\n", out)
		fmt.Printf("key:       %s\n", sig.PubkeyFingerprint)
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenDir, "out", ".", "directory to write the keypair into")
	signPolicyCmd.Flags().StringVar(&signKeyPath, "key", "", "path to the base64 Ed25519 private key")
	signPolicyCmd.Flags().StringVar(&signOutPath, "out", "", "signature output path (default: <bundle>.sig.json)")
	_ = signPolicyCmd.MarkFlagRequired("key")
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(signPolicyCmd)
}
