package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"profiler/pkg/app"
	"profiler/pkg/errs"
	"profiler/pkg/models"
)

// timeoutExitCode matches timeout(1).
const timeoutExitCode = 124

func newRunCommand(global *globalOptions) *cobra.Command {
	var (
		req        models.ProfileRequest
		env        []string
		labels     []string
		timeout    time.Duration
		jsonOut    bool
		showOutput bool
	)

	cmd := &cobra.Command{
		Use:   "run [flags] -- command [args...]",
		Short: "Run a command synchronously and record its profile",
		Long: `Run executes one command, waits for it and records a profile.

Without --shell the arguments are executed directly. With --shell they are
joined into one line and handed to the platform shell.

profctl exits with the command's exit status, or 124 on timeout.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if req.Env, err = parsePairs(env, "--env"); err != nil {
				return err
			}
			if req.Labels, err = parsePairs(labels, "--label"); err != nil {
				return err
			}
			if req.Shell {
				req.Line = strings.Join(args, " ")
			} else {
				req.Command = args
			}
			req.Timeout = models.Duration(timeout)

			cfg := global.loadConfig()
			a, err := app.New(cmd.Context(), cfg, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			profile, runErr := a.Executor.Execute(cmd.Context(), req)
			if profile == nil {
				return runErr
			}

			out := cmd.OutOrStdout()
			if showOutput && profile.OutputURI != "" && a.Outputs != nil {
				if data, err := a.Outputs.Retrieve(cmd.Context(), profile.OutputURI); err == nil {
					fmt.Fprintln(out, string(data))
				}
			}
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(profile); err != nil {
					return err
				}
			} else {
				printProfile(out, profile)
			}

			if runErr != nil && !errors.Is(runErr, errs.ErrCommandExecution) {
				cmd.PrintErrln("Error:", runErr)
			}
			switch {
			case profile.Status == models.ProfileError && runErr != nil:
				return runErr
			case profile.Status == models.ProfileTimeout:
				return &exitError{code: timeoutExitCode}
			case profile.ExitCode > 0:
				return &exitError{code: profile.ExitCode}
			case profile.ExitCode < 0:
				return &exitError{code: 128 - profile.ExitCode}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.Name, "name", "", "profile name (defaults to the program)")
	f.BoolVar(&req.Shell, "shell", false, "run through the platform shell")
	f.StringVar(&req.Dir, "cwd", "", "working directory")
	f.StringArrayVarP(&env, "env", "e", nil, "environment override KEY=VALUE (repeatable)")
	f.StringArrayVar(&labels, "label", nil, "profile label KEY=VALUE (repeatable)")
	f.DurationVar(&timeout, "timeout", 0, "kill the command after this long (0 uses DEFAULT_TIMEOUT)")
	f.BoolVar(&req.Check, "check", false, "treat a non-zero exit as an error")
	f.Float64Var(&req.SampleRate, "sample-rate", 0, "resource samples per second (0 uses DEFAULT_SAMPLE_RATE)")
	f.BoolVar(&jsonOut, "json", false, "print the profile as JSON")
	f.BoolVar(&showOutput, "show-output", false, "print the captured output")
	return cmd
}

func parsePairs(pairs []string, flag string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, errs.NewConfigurationError(fmt.Sprintf("%s expects KEY=VALUE, got %q", flag, p), flag)
		}
		out[k] = v
	}
	return out, nil
}

func printProfile(w io.Writer, p *models.Profile) {
	fmt.Fprintf(w, "profile  %s\n", p.ID)
	fmt.Fprintf(w, "name     %s\n", p.Name)
	fmt.Fprintf(w, "status   %s (exit %d)\n", p.Status, p.ExitCode)
	fmt.Fprintf(w, "duration %s\n", p.Duration())
	if p.CPUTimeMs > 0 {
		fmt.Fprintf(w, "cpu      %s\n", time.Duration(p.CPUTimeMs)*time.Millisecond)
	}
	if p.Samples > 0 {
		fmt.Fprintf(w, "peak rss %d KiB (%d samples)\n", p.PeakRSS/1024, p.Samples)
	}
	if p.OutputURI != "" {
		fmt.Fprintf(w, "output   %s\n", p.OutputURI)
	}
	if p.Error != "" {
		fmt.Fprintf(w, "error    %s\n", p.Error)
	}
}
