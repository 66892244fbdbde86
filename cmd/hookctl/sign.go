package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/garrettladley/hookd/internal/service/webhook"
	"github.com/spf13/cobra"
)

const envSecretTest = "WEBHOOK_SECRET_TEST"

// payloadFlags are shared by sign and send.
type payloadFlags struct {
	data      string
	file      string
	secret    string
	timestamp int64
}

func (f *payloadFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.data, "data", "d", "", "payload as a literal JSON string")
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "read the payload from a file, - for stdin")
	cmd.Flags().StringVar(&f.secret, "secret", "", "signing secret (default $"+envSecretTest+")")
	cmd.Flags().Int64Var(&f.timestamp, "timestamp", 0, "unix timestamp to sign with (default now)")
}

func (f *payloadFlags) payload(stdin io.Reader) ([]byte, error) {
	switch {
	case f.data != "" && f.file != "":
		return nil, errors.New("use only one of --data and --file")
	case f.data != "":
		return []byte(f.data), nil
	case f.file == "-":
		return io.ReadAll(stdin)
	case f.file != "":
		return os.ReadFile(f.file)
	default:
		return nil, errors.New("a payload is required: pass --data or --file")
	}
}

func (f *payloadFlags) signingSecret() (string, error) {
	if f.secret != "" {
		return f.secret, nil
	}
	if secret := os.Getenv(envSecretTest); secret != "" {
		return secret, nil
	}
	return "", fmt.Errorf("a signing secret is required: pass --secret or set %s", envSecretTest)
}

func (f *payloadFlags) signedAt() time.Time {
	if f.timestamp > 0 {
		return time.Unix(f.timestamp, 0)
	}
	return time.Now()
}

// sign returns the payload and its signature header.
func (f *payloadFlags) sign(stdin io.Reader) ([]byte, string, error) {
	payload, err := f.payload(stdin)
	if err != nil {
		return nil, "", err
	}
	secret, err := f.signingSecret()
	if err != nil {
		return nil, "", err
	}
	return payload, webhook.GenerateTestHeader(payload, secret, f.signedAt()), nil
}

func signCmd() *cobra.Command {
	var flags payloadFlags

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print a signature header for a payload",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, header, err := flags.sign(cmd.InOrStdin())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), header)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
