package commands

import (
	"errors"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/waterline/internal/cli/config"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

// globalFlags are shared by every command
type globalFlags struct {
	dir     string
	noColor bool
}

// projectDir is --dir when given, else the nearest directory up from the working
// directory holding waterline.yml, else the working directory
func (f *globalFlags) projectDir() string {
	if f.dir != "" {
		return f.dir
	}
	if root, err := config.GetProjectRoot(); err == nil {
		return root
	}
	return "."
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "waterline",
		Short: "Association-aware ORM toolkit",
		Long: color.CyanString(`Waterline - models, adapters and associations

Waterline loads model definitions, binds each model to a storage adapter and
resolves associations in batched queries.

Features:
  • One schema across memory, PostgreSQL, SQLite, Redis and bbolt adapters
  • populate() without N+1 queries
  • toJSON hooks applied to every rendered record
  • REST blueprint routes for every model`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flags.noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.dir, "dir", "C", "", "Project directory containing waterline.yml (default: nearest parent with one)")
	rootCmd.PersistentFlags().BoolVar(&flags.noColor, "no-color", false, "Disable colored output")

	// Add subcommands
	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewValidateCommand(flags))
	rootCmd.AddCommand(NewDemoCommand(flags))
	rootCmd.AddCommand(NewServeCommand(flags))
	rootCmd.AddCommand(NewInitCommand(flags))

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display the Waterline version, Git commit, build date, and Go version",
		Run: func(cmd *cobra.Command, args []string) {
			// Set GoVersion to actual runtime if not set at build time
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			out := cmd.OutOrStdout()
			titleColor := color.New(color.FgCyan, color.Bold)

			titleColor.Fprint(out, "Waterline version: ")
			cmd.Println(Version)

			titleColor.Fprint(out, "Git commit: ")
			cmd.Println(GitCommit)

			titleColor.Fprint(out, "Build date: ")
			cmd.Println(BuildDate)

			titleColor.Fprint(out, "Go version: ")
			cmd.Println(goVer)
		},
	}
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errReported) {
			return err
		}
		errorColor := color.New(color.FgRed, color.Bold)
		errorColor.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return err
	}
	return nil
}
