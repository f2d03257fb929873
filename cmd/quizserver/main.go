package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mou-Islam/walkie-talkie-tts/internal/quizserver"
)

var (
	addr         string
	instructions []string
	latency      time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "quizserver",
	Short: "Local stand-in for the quiz server",
	Long: `quizserver serves /get-instructions, /check-text-guess and /merge-audio
from memory. A guess matches when it contains the instruction's words in order.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8000", "Listen address")
	rootCmd.Flags().StringSliceVar(&instructions, "instruction",
		[]string{"Say hello", "Open the pod bay doors"}, "Instruction to play (repeatable)")
	rootCmd.Flags().DurationVar(&latency, "latency", 200*time.Millisecond, "Simulated judging delay")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	srv := quizserver.New(quizserver.Config{
		Instructions: instructions,
		Latency:      latency,
	}, logger)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Quiz server starting",
			slog.String("address", addr),
			slog.Int("instructions", len(instructions)),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Quiz server stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
