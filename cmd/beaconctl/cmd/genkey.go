package cmd

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate an RSA signing key for the server key directory",
	Long: `Generates a 2048-bit RSA key and writes it PEM-encoded to
<dir>/<kid>.pem. The server loads every .pem file in SIGNING_KEY_DIR and
signs with the key named by ACTIVE_SIGNING_KEY; the others stay on the ring
so tokens they signed keep verifying.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		kid, _ := cmd.Flags().GetString("kid")
		if kid == "" {
			kid = time.Now().UTC().Format("2006-01-02")
		}

		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return fmt.Errorf("failed to generate RSA key: %w", err)
		}
		der, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			return fmt.Errorf("failed to encode key: %w", err)
		}

		path := filepath.Join(dir, kid+".pem")
		// O_EXCL: never overwrite a key that may already be signing.
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		defer f.Close()
		if err := pem.Encode(f, &pem.Block{Type: "PRIVATE KEY", Bytes: der}); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\nset ACTIVE_SIGNING_KEY=%s to sign with it\n", path, kid)
		return nil
	},
}

var hashkeyCmd = &cobra.Command{
	Use:   "hashkey",
	Short: "Generate a TOKEN_HASH_KEYS entry",
	Long: `Generates a random 32-byte secret and prints it as an id:secret
pair for the TOKEN_HASH_KEYS setting. Prepend new entries: the first pair
is the active key, later pairs keep verifying tokens hashed under retired
keys.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("failed to generate secret: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s:%s\n", id, base64.RawURLEncoding.EncodeToString(secret))
		return nil
	},
}

func init() {
	genkeyCmd.Flags().String("dir", ".", "directory to write the key into")
	genkeyCmd.Flags().String("kid", "", "key id; defaults to the current UTC date")
	hashkeyCmd.Flags().String("id", time.Now().UTC().Format("2006-01-02"), "key id for the pair")
	rootCmd.AddCommand(genkeyCmd, hashkeyCmd)
}
