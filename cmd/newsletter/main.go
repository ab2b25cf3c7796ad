package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/newsletter/config"
	"github.com/mohammad-safakhou/newsletter/internal/intent"
	"github.com/mohammad-safakhou/newsletter/internal/report"
	"github.com/mohammad-safakhou/newsletter/internal/runtime"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:           "newsletter",
		Short:         "Research, write and deliver a newsletter from one request read on stdin",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfgPath, in, out, errOut)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches ./config and .)")
	return cmd
}

func run(ctx context.Context, cfgPath string, in io.Reader, out, errOut io.Writer) error {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(errOut, "config: %v\n", err)
		return err
	}

	// Start up before asking so a missing model key fails fast.
	svc, err := runtime.New(ctx, cfg, runtime.Options{LogOutput: errOut})
	if err != nil {
		fmt.Fprintf(errOut, "startup failed: %v\n", err)
		return err
	}
	defer func() {
		if err := svc.Close(context.Background()); err != nil {
			fmt.Fprintf(errOut, "shutdown: %v\n", err)
		}
	}()

	fmt.Fprint(errOut, "What should this newsletter cover? ")
	prompt, err := readPrompt(in)
	if err != nil {
		fmt.Fprintf(errOut, "\nread request: %v\n", err)
		return err
	}
	if prompt == "" {
		fmt.Fprintln(errOut, "\nno request given")
		return intent.ErrEmptyRequest
	}

	outcome, err := svc.Run(ctx, prompt)
	if err != nil {
		fmt.Fprintf(errOut, "run failed: %v\n", err)
		return err
	}
	summary := outcome.Summary()
	summary.Warnings = append(append([]string(nil), svc.Warnings...), summary.Warnings...)
	return report.NewReporter(cfg.Newsletter.ReportMaxText).Write(out, summary)
}

// readPrompt returns the first line of input, trimmed.
func readPrompt(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
