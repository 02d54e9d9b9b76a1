package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tweenson/artificer/envoy"
)

func main() {
	var (
		server    string
		name      string
		credsPath string
	)

	root := &cobra.Command{
		Use:           "envoy",
		Short:         "Device-side artificer client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&server, "server", "s", "http://127.0.0.1:8080", "artificer server address")
	root.PersistentFlags().StringVarP(&name, "name", "n", defaultDeviceName(), "device name")
	root.PersistentFlags().StringVar(&credsPath, "credentials", defaultCredsPath(), "credentials file")

	register := &cobra.Command{
		Use:   "register",
		Short: "Register this device and save its credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := newClient(server, name, credsPath)
			if err := client.Register(cmd.Context()); err != nil {
				return err
			}
			if err := saveCredentials(credsPath, client.Credentials()); err != nil {
				return err
			}
			fmt.Printf("registered as %s\n", client.Credentials().DeviceID)
			return nil
		},
	}

	var conversationID int64
	chat := &cobra.Command{
		Use:   "chat <message>",
		Short: "Send a message and stream the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient(server, name, credsPath)
			conv, err := client.Chat(cmd.Context(), conversationID, args[0])
			if err != nil {
				return err
			}
			// Credentials may have rotated via re-registration.
			if err := saveCredentials(credsPath, client.Credentials()); err != nil {
				return err
			}
			if conv != 0 {
				fmt.Fprintf(os.Stderr, "conversation %d\n", conv)
			}
			return nil
		},
	}
	chat.Flags().Int64VarP(&conversationID, "conversation", "C", 0, "continue an existing conversation")

	root.AddCommand(register, chat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "envoy:", err)
		os.Exit(1)
	}
}

func newClient(server, name, credsPath string) *envoy.Client {
	client := envoy.New(server, name, localTools(), os.Stdout)
	if creds, err := loadCredentials(credsPath); err == nil {
		client.SetCredentials(creds)
	}
	return client
}

func defaultDeviceName() string {
	host, err := os.Hostname()
	if err != nil {
		return "envoy"
	}
	return host
}

func defaultCredsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".envoy-credentials.yaml"
	}
	return filepath.Join(home, ".config", "artificer", "envoy.yaml")
}

func loadCredentials(path string) (envoy.Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return envoy.Credentials{}, err
	}
	var creds envoy.Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return envoy.Credentials{}, err
	}
	if creds.DeviceID == "" || creds.DeviceKey == "" {
		return envoy.Credentials{}, errors.New("incomplete credentials")
	}
	return creds, nil
}

func saveCredentials(path string, creds envoy.Credentials) error {
	if creds.DeviceID == "" {
		return nil
	}
	data, err := yaml.Marshal(creds)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
