package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mou-Islam/walkie-talkie-tts/internal/quizapi"
)

var instructionsCmd = &cobra.Command{
	Use:   "instructions",
	Short: "List the quiz server's instructions",
	RunE:  runInstructions,
}

func runInstructions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Logging)

	client, err := quizapi.NewClient(quizapi.Config{
		BaseURL:    cfg.Server.BaseURL,
		Timeout:    cfg.Server.GetTimeoutDuration(),
		MaxRetries: cfg.Server.MaxRetries,
		UserAgent:  fmt.Sprintf("%s/%s", serviceName, version),
	}, logger, nil)
	if err != nil {
		return fmt.Errorf("failed to create quiz API client: %w", err)
	}

	instructions, err := client.Instructions(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(instructions) == 0 {
		fmt.Fprintln(out, "No instructions.")
		return nil
	}
	for i, instruction := range instructions {
		fmt.Fprintf(out, "%d. %s\n", i+1, instruction)
	}
	return nil
}
