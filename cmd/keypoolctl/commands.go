package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"llm_keypool/internal/auth"
	"llm_keypool/internal/storage"
)

var (
	keySize    int
	tokenTTL   time.Duration
	codecKey   string
	passphrase string
)

var generateKeyCmd = &cobra.Command{
	Use:   "generate-key",
	Short: "Print a random base64 key for ENCRYPTION_KEY",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		key, err := storage.GenerateKey(keySize)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

var sealCmd = &cobra.Command{
	Use:   "seal <plaintext>",
	Short: "Encrypt an API key into a secret reference for the credentials table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		codec, err := loadCodec()
		if err != nil {
			return err
		}
		ref, err := codec.Seal(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ref)
		return nil
	},
}

var openCmd = &cobra.Command{
	Use:   "open <secret-ref>",
	Short: "Decrypt a secret reference, to check it was sealed with the current key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		codec, err := loadCodec()
		if err != nil {
			return err
		}
		plain, err := codec.Decrypt(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), plain)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Sign a bearer token identifying a user to the key pool API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := os.Getenv("JWT_SECRET")
		if secret == "" {
			return fmt.Errorf("JWT_SECRET is required")
		}
		token, exp, err := auth.GenerateUserJWT(args[0], tokenTTL, []byte(secret))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", time.Unix(exp, 0).UTC().Format(time.RFC3339))
		return nil
	},
}

func init() {
	generateKeyCmd.Flags().IntVar(&keySize, "size", 32, "key size in bytes (16, 24 or 32)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	for _, cmd := range []*cobra.Command{sealCmd, openCmd} {
		cmd.Flags().StringVar(&codecKey, "key", "", "base64 codec key (default $ENCRYPTION_KEY)")
		cmd.Flags().StringVar(&passphrase, "passphrase", "", "codec passphrase (default $ENCRYPTION_PASSPHRASE)")
	}
}

// loadCodec prefers flags over the environment and a key over a passphrase
func loadCodec() (*storage.Codec, error) {
	key := codecKey
	if key == "" {
		key = os.Getenv("ENCRYPTION_KEY")
	}
	if key != "" {
		return storage.NewCodecFromBase64(key)
	}

	pass := passphrase
	if pass == "" {
		pass = os.Getenv("ENCRYPTION_PASSPHRASE")
	}
	if pass != "" {
		return storage.NewCodecFromPassphrase(pass)
	}
	return nil, fmt.Errorf("ENCRYPTION_KEY or ENCRYPTION_PASSPHRASE is required")
}
