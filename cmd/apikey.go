package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"larkspur.is/curfew/internal/secret"
)

// RunAPIKey stores or clears the remote API credential.
func RunAPIKey(configFile string, set, clear bool) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	store := secret.NewFileStore(credentialPath(cfg))

	switch {
	case set:
		fmt.Print("API key: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading key: %w", err)
		}
		key := strings.TrimSpace(line)
		if key == "" {
			return fmt.Errorf("empty key")
		}
		if err := store.Set([]byte(key)); err != nil {
			return err
		}
		fmt.Println("API key stored")
		return nil
	case clear:
		if err := store.Delete(); err != nil {
			return err
		}
		fmt.Println("API key removed")
		return nil
	default:
		if _, err := store.Get(); err != nil {
			fmt.Println("No API key stored")
			return nil
		}
		fmt.Println("API key is set")
		return nil
	}
}
