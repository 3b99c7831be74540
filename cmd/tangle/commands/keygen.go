package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tangleward/tangle/crypto"
	"github.com/tangleward/tangle/crypto/keys"
)

var keygenDataDir string

// NewKeygenCmd produces a KeygenCmd which creates a key pair.
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a new private key",
		RunE:  keygen,
	}

	AddKeygenFlags(cmd)

	return cmd
}

// AddKeygenFlags adds flags to the keygen command.
func AddKeygenFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&keygenDataDir, "datadir", _config.Tangle.DataDir, "Directory the private key will be written to")
}

func keygen(cmd *cobra.Command, args []string) error {
	pemKey := crypto.NewPemKey(keygenDataDir)

	if _, err := pemKey.ReadKey(); err == nil {
		return fmt.Errorf("a key already lives under %s", keygenDataDir)
	} else if !os.IsNotExist(err) {
		return err
	}

	priv, err := keys.GenerateECDSAKey()
	if err != nil {
		return fmt.Errorf("generating key: %s", err)
	}

	if err := os.MkdirAll(keygenDataDir, 0700); err != nil {
		return fmt.Errorf("creating datadir: %s", err)
	}

	if err := pemKey.WriteKey(priv); err != nil {
		return fmt.Errorf("writing private key: %s", err)
	}

	fmt.Printf("Public key: %s\n", keys.PublicKeyHex(&priv.PublicKey))
	fmt.Printf("Private key written to: %s/priv_key.pem\n", keygenDataDir)

	return nil
}
