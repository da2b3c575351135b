package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sqlward/sqlward/internal/domain/credential"
)

var useArgon2id bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [key]",
	Short: "Generate a hash for a shared key",
	Long: `Generate a hash of a shared key for use in config.

By default the output format is "sha256:<hex>". With --argon2id, a PHC
argon2id string is produced instead (slower to verify, resistant to
brute force).

Example:
  sqlward hash-key "my-secret-key"
  # Output: sha256:7d5e8c...

Security note: The key will appear in shell history.
Consider clearing history after use or using an environment variable:
  sqlward hash-key "$MY_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		if useArgon2id {
			hash, err := credential.HashKeyArgon2id(key)
			if err != nil {
				return fmt.Errorf("hash key: %w", err)
			}
			fmt.Println(hash)
			return nil
		}
		fmt.Println(credential.HashKeySHA256(key))
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().BoolVar(&useArgon2id, "argon2id", false, "produce an argon2id PHC hash instead of sha256")
	rootCmd.AddCommand(hashKeyCmd)
}
