package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/HTF1125/investment-x-sub000/internal/theme"
)

var (
	runTheme  string
	runIndent bool
)

var runCmd = &cobra.Command{
	Use:   "run [script]",
	Short: "Execute a chart script and print its figure",
	Long:  `Runs a chart script through the sandbox against the configured market data and prints the normalized figure JSON. Use "-" to read the script from stdin.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runScript,
}

func init() {
	runCmd.Flags().StringVar(&runTheme, "theme", string(theme.Light), "Figure theme (light or dark)")
	runCmd.Flags().BoolVar(&runIndent, "indent", false, "Indent the figure JSON")
}

func runScript(cmd *cobra.Command, args []string) error {
	var (
		src []byte
		err error
	)
	if args[0] == "-" {
		src, err = io.ReadAll(cmd.InOrStdin())
	} else {
		src, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}

	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	result, err := application.Executor.Execute(cmd.Context(), string(src))
	if err != nil {
		return err
	}

	out := []byte(result.JSON)
	if mode := theme.ParseMode(runTheme); mode != theme.Default {
		if out, err = theme.ApplyJSON(result.JSON, mode); err != nil {
			return err
		}
	}

	if runIndent {
		var tree any
		if err := json.Unmarshal(out, &tree); err != nil {
			return err
		}
		if out, err = json.MarshalIndent(tree, "", "  "); err != nil {
			return err
		}
	}

	for _, line := range result.Output {
		fmt.Fprintln(cmd.ErrOrStderr(), line)
	}
	logger.Info().
		Str("binding", result.Binding).
		Int("queries", result.Queries).
		Str("duration", result.Duration.String()).
		Msg("Chart script executed")

	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}
