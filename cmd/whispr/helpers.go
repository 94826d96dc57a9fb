package main

import (
	"fmt"
	"os"

	whispr "github.com/whispr-social/whispr-go"
)

// getStore creates the file-backed credential store under ~/.whispr.
func getStore() *whispr.FileCredentialStore {
	dir, err := configDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to locate config directory: %v\n", err)
		os.Exit(1)
	}
	return whispr.NewFileCredentialStore(dir)
}

// getClient creates a Whispr client authenticated with the stored token.
func getClient() *whispr.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	token, err := getStore().Token()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read credentials: %v\n", err)
		os.Exit(1)
	}
	if token == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'whispr login' first.")
		os.Exit(1)
	}

	var opts []whispr.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, whispr.WithBaseURL(cfg.Default.BaseURL))
	}
	return whispr.NewClient(token, opts...)
}

// getAnonClient creates a Whispr client without a token, for login/register.
func getAnonClient() *whispr.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	var opts []whispr.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, whispr.WithBaseURL(cfg.Default.BaseURL))
	}
	return whispr.NewClient("", opts...)
}

// socketURL resolves the real-time endpoint from config.
func socketURL() string {
	cfg, err := loadConfig()
	if err != nil || cfg.Default.SocketURL == "" {
		return whispr.DefaultSocketURL
	}
	return cfg.Default.SocketURL
}
