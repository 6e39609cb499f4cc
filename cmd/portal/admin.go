package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/dpcportal/portal/internal/app"
	"github.com/dpcportal/portal/internal/config"
	"github.com/dpcportal/portal/internal/verify"
)

func runAdmin(args []string) int {
	if len(args) == 0 {
		printAdminUsage()
		return 2
	}

	switch args[0] {
	case "verify":
		return runVerify(args[1:])
	case "credential-status":
		return runCredentialStatus(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown admin command: %s\n", args[0])
		printAdminUsage()
		return 2
	}
}

func printAdminUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  portal admin verify [--timeout <duration>]")
	fmt.Fprintln(os.Stderr, "  portal admin credential-status [--timeout <duration>]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Notes:")
	fmt.Fprintln(os.Stderr, "  - verify runs the full re-verification chain synchronously until drained.")
	fmt.Fprintln(os.Stderr, "  - Configuration comes from the environment, same as the server.")
}

func adminApp(fs *flag.FlagSet, args []string, timeout *time.Duration) (*app.App, context.Context, context.CancelFunc, int) {
	fs.SetOutput(os.Stderr)
	fs.DurationVar(timeout, "timeout", 30*time.Minute, "Overall timeout")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, nil, nil, 0
		}
		return nil, nil, nil, 2
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return nil, nil, nil, 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	application, err := app.New(ctx, cfg)
	if err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		return nil, nil, nil, 1
	}
	return application, ctx, cancel, -1
}

func runVerify(args []string) int {
	var timeout time.Duration
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	application, ctx, cancel, code := adminApp(fs, args, &timeout)
	if code >= 0 {
		return code
	}
	defer cancel()
	defer application.Close()

	if err := verify.RunChain(ctx, application.VerificationJob); err != nil {
		fmt.Fprintf(os.Stderr, "Verification run failed: %v\n", err)
		return 1
	}
	return 0
}

func runCredentialStatus(args []string) int {
	var timeout time.Duration
	fs := flag.NewFlagSet("credential-status", flag.ContinueOnError)
	application, ctx, cancel, code := adminApp(fs, args, &timeout)
	if code >= 0 {
		return code
	}
	defer cancel()
	defer application.Close()

	if err := application.CredentialStatusJob.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Credential status run failed: %v\n", err)
		return 1
	}
	return 0
}
