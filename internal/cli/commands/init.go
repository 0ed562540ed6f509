package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conduit-lang/waterline/internal/cli/config"
	"github.com/conduit-lang/waterline/internal/cli/ui"
	"github.com/conduit-lang/waterline/internal/orm/adapter"
)

var projectNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const userModel = `attributes:
  username:
    type: string
    unique: true
    required: true
  email: email
  pets:
    collection: pet
    via: owner
`

const petModel = `attributes:
  name:
    type: string
    required: true
  breed: string
  owner:
    model: user
`

// initAnswers are the values collected by the init prompts
type initAnswers struct {
	ProjectName string
	AdapterType string
	Location    string
}

// validateProjectName validates project name with security checks
func validateProjectName(name string) error {
	name = strings.TrimSpace(name)
	if len(name) == 0 || len(name) > 100 {
		return fmt.Errorf("project name must be 1-100 characters")
	}
	if !projectNamePattern.MatchString(name) {
		return fmt.Errorf("project name can only contain letters, numbers, dashes, and underscores")
	}
	return nil
}

// NewInitCommand creates the init command
func NewInitCommand(flags *globalFlags) *cobra.Command {
	var useDefaults bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create waterline.yml and example models",
		Long: `Create a waterline.yml with one adapter and a models directory holding the
user and pet examples.

You are prompted for the project name and the adapter type. With --yes the
project is named after the directory and uses the in-memory adapter.

Existing files are never overwritten.

Examples:
  waterline init
  waterline init --yes --dir ./app`,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := flags.dir
			if target == "" {
				target = "."
			}
			dir, err := filepath.Abs(target)
			if err != nil {
				return err
			}

			answers := initAnswers{
				ProjectName: filepath.Base(dir),
				AdapterType: config.TypeMemory,
			}
			if !useDefaults {
				if err := askInit(&answers); err != nil {
					return err
				}
			}
			if err := validateProjectName(answers.ProjectName); err != nil {
				return err
			}

			written, err := writeProject(dir, answers)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, path := range written {
				rel, _ := filepath.Rel(dir, path)
				ui.WriteSuccess(out, "created "+rel, flags.noColor)
			}
			fmt.Fprint(out, ui.Info("run 'waterline validate' to check the models", flags.noColor))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&useDefaults, "yes", "y", false, "Accept defaults without prompting")

	return cmd
}

func askInit(answers *initAnswers) error {
	if err := survey.AskOne(&survey.Input{
		Message: "Project name:",
		Default: answers.ProjectName,
	}, &answers.ProjectName, survey.WithValidator(survey.Required)); err != nil {
		return err
	}

	if err := survey.AskOne(&survey.Select{
		Message: "Adapter:",
		Options: []string{config.TypeMemory, config.TypeSQLite, config.TypePostgres, config.TypeRedis, config.TypeBolt},
		Default: answers.AdapterType,
	}, &answers.AdapterType); err != nil {
		return err
	}

	var prompt *survey.Input
	switch answers.AdapterType {
	case config.TypeSQLite:
		prompt = &survey.Input{Message: "Database file:", Default: answers.ProjectName + ".db"}
	case config.TypeBolt:
		prompt = &survey.Input{Message: "Database file:", Default: answers.ProjectName + ".bolt"}
	case config.TypePostgres:
		prompt = &survey.Input{
			Message: "Connection URL:",
			Default: fmt.Sprintf("postgres://localhost:5432/%s?sslmode=disable", answers.ProjectName),
		}
	case config.TypeRedis:
		prompt = &survey.Input{Message: "Redis address:", Default: "localhost:6379"}
	default:
		return nil
	}
	return survey.AskOne(prompt, &answers.Location, survey.WithValidator(survey.Required))
}

// projectConfig renders the answers as a waterline.yml document
func projectConfig(answers initAnswers) *config.Config {
	ac := config.AdapterConfig{Type: answers.AdapterType}
	switch answers.AdapterType {
	case config.TypeSQLite, config.TypeBolt:
		ac.Path = answers.Location
	case config.TypePostgres:
		ac.URL = answers.Location
	case config.TypeRedis:
		ac.Addr = answers.Location
		ac.Prefix = answers.ProjectName
	}

	return &config.Config{
		ProjectName: answers.ProjectName,
		ModelsDir:   "models",
		Log:         config.LogConfig{Level: "info"},
		Server:      config.ServerConfig{Port: 1337, Host: "localhost"},
		Adapters:    map[string]config.AdapterConfig{answers.AdapterType: ac},
		Connections: map[string]adapter.Connection{
			adapter.DefaultConnection: {Adapter: answers.AdapterType},
		},
	}
}

// writeProject writes waterline.yml and the example models. Nothing is written when
// any target already exists.
func writeProject(dir string, answers initAnswers) ([]string, error) {
	content, err := yaml.Marshal(projectConfig(answers))
	if err != nil {
		return nil, fmt.Errorf("failed to render configuration: %w", err)
	}

	files := []struct {
		path    string
		content []byte
	}{
		{filepath.Join(dir, config.FileName+".yml"), content},
		{filepath.Join(dir, "models", "user.yml"), []byte(userModel)},
		{filepath.Join(dir, "models", "pet.yml"), []byte(petModel)},
	}

	existing := []string{filepath.Join(dir, config.FileName+".yaml")}
	for _, f := range files {
		existing = append(existing, f.path)
	}
	for _, path := range existing {
		if _, err := os.Stat(path); err == nil {
			return nil, fmt.Errorf("%s already exists", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Join(dir, "models"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create models directory: %w", err)
	}

	written := make([]string, 0, len(files))
	for _, f := range files {
		if err := os.WriteFile(f.path, f.content, 0644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", f.path, err)
		}
		written = append(written, f.path)
	}
	return written, nil
}
