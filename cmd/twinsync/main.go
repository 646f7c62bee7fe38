package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/twinsync/internal/config"
	"github.com/openmined/twinsync/internal/utils"
	"github.com/openmined/twinsync/internal/version"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "twinsync",
		Short:         "Two-way folder synchronization",
		Version:       version.Detailed(),
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			path, _ := cmd.Flags().GetString("log-file")
			logFile = setupLogging(path, verbose)
		},
	}

	cmd.PersistentFlags().SortFlags = false
	cmd.PersistentFlags().StringP("config", "c", config.DefaultConfigFile, "pair config file")
	cmd.PersistentFlags().StringP("left", "l", "", "left folder")
	cmd.PersistentFlags().StringP("right", "r", "", "right folder")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging on the console")
	cmd.PersistentFlags().String("log-file", config.DefaultLogFile, "application log file")

	cmd.AddCommand(
		newInitCmd(),
		newAnalyzeCmd(),
		newSyncCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)
	return cmd
}

var logFile *lumberjack.Logger

// setupLogging logs to stderr and to a size-rotated file.
func setupLogging(path string, verbose bool) *lumberjack.Logger {
	consoleLevel := slog.LevelInfo
	if verbose {
		consoleLevel = slog.LevelDebug
	}

	stderrHandler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      consoleLevel,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})

	rotated := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     30,
	}
	fileHandler := slog.NewTextHandler(rotated, &slog.HandlerOptions{Level: slog.LevelDebug})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stderrHandler, fileHandler)))
	return rotated
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if logFile != nil {
		logFile.Close()
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, red.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}
