package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/conduit-lang/waterline/internal/cli/config"
	"github.com/conduit-lang/waterline/internal/cli/ui"
	"github.com/conduit-lang/waterline/internal/logging"
	"github.com/conduit-lang/waterline/internal/orm/adapter"
	"github.com/conduit-lang/waterline/internal/orm/ontology"
	"github.com/conduit-lang/waterline/internal/orm/schema"
)

// NewDemoCommand creates the demo command
func NewDemoCommand(flags *globalFlags) *cobra.Command {
	var adapterName string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the getting-started walkthrough against an adapter",
		Long: `Define a user and a pet model, create Neil and his pet Astro, and print
find('user').populate('pets') through the user's toJSON hook, which strips the
hashed password. Then move a pet between owners with save() and show the
uniqueness check rejecting a second Neil.

The adapter defaults to the one behind the default connection in waterline.yml,
or an in-memory adapter when there is no configuration.

Examples:
  waterline demo
  waterline demo --adapter disk`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFrom(flags.projectDir())
			if err != nil {
				fmt.Fprint(cmd.ErrOrStderr(), ui.ConfigError(err, flags.noColor))
				return errReported
			}

			if adapterName == "" {
				adapterName = cfg.Connections[adapter.DefaultConnection].Adapter
			}
			if adapterName == "" {
				adapterName = cfg.AdapterNames()[0]
			}
			impl, err := cfg.BuildAdapter(adapterName)
			if err != nil {
				fmt.Fprint(cmd.ErrOrStderr(), ui.ConfigError(err, flags.noColor))
				return errReported
			}

			logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()
			o, err := ontology.Initialize(ctx, ontology.Config{
				Adapters:    map[string]adapter.Adapter{adapterName: impl},
				Connections: map[string]adapter.Connection{adapter.DefaultConnection: {Adapter: adapterName}},
				Logger:      logger,
			}, demoDefinitions()...)
			if err != nil {
				fmt.Fprint(cmd.ErrOrStderr(), ui.InitializationError(err, flags.noColor))
				return errReported
			}
			defer o.Teardown(ctx)

			return runDemo(ctx, o, cmd.OutOrStdout(), flags.noColor)
		},
	}

	cmd.Flags().StringVarP(&adapterName, "adapter", "a", "", "Configured adapter to run against")

	return cmd
}

// demoDefinitions are the user and pet models of the walkthrough
func demoDefinitions() []*schema.Definition {
	user := &schema.Definition{
		Identity: "user",
		Attributes: map[string]interface{}{
			"username": map[string]interface{}{"type": "string", "unique": true, "required": true},
			"email":    "email",
			"password": "string",
			"pets":     map[string]interface{}{"collection": "pet", "via": "owner"},
		},
		ToJSON: schema.Omit("password"),
	}
	user.On(schema.BeforeCreate, hashPassword)

	pet := &schema.Definition{
		Identity: "pet",
		Attributes: map[string]interface{}{
			"name":  "string",
			"breed": "string",
			"owner": map[string]interface{}{"model": "user"},
		},
	}
	return []*schema.Definition{user, pet}
}

// hashPassword replaces a plain password with its bcrypt hash
func hashPassword(_ context.Context, values map[string]interface{}) error {
	plain, ok := values["password"].(string)
	if !ok || plain == "" {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	values["password"] = string(hash)
	return nil
}

func runDemo(ctx context.Context, o *ontology.Ontology, out io.Writer, noColor bool) error {
	users := o.MustCollection("user")
	pets := o.MustCollection("pet")

	neil, err := users.Create(ctx, map[string]interface{}{
		"username": "neil",
		"email":    "neil@example.com",
		"password": "apollo11",
	})
	if err != nil {
		return err
	}
	if _, err := pets.Create(ctx, map[string]interface{}{"name": "Astro", "breed": "beagle", "owner": neil.ID()}); err != nil {
		return err
	}

	stored, _ := neil.Get("password").(string)
	if bcrypt.CompareHashAndPassword([]byte(stored), []byte("apollo11")) != nil {
		return errors.New("stored password does not match its hash")
	}
	ui.WriteSuccess(out, "created neil (password stored as a bcrypt hash) and his pet Astro", noColor)

	if err := printUsers(ctx, o, out, noColor, "find('user').populate('pets')"); err != nil {
		return err
	}

	buzz, err := users.Create(ctx, map[string]interface{}{"username": "buzz", "password": "eagle"})
	if err != nil {
		return err
	}
	rex, err := pets.Create(ctx, map[string]interface{}{"name": "Rex", "breed": "boxer"})
	if err != nil {
		return err
	}
	astro, err := pets.FindOne(ctx, map[string]interface{}{"name": "Astro"})
	if err != nil {
		return err
	}

	if err := buzz.SetCollection("pets", astro, rex); err != nil {
		return err
	}
	if err := users.Save(ctx, buzz); err != nil {
		return err
	}
	ui.WriteSuccess(out, "buzz.pets = [Astro, Rex]; buzz.save()", noColor)

	if err := printUsers(ctx, o, out, noColor, "after save"); err != nil {
		return err
	}

	_, err = users.Create(ctx, map[string]interface{}{"username": "neil"})
	var unique *adapter.UniqueViolationError
	if !errors.As(err, &unique) {
		return fmt.Errorf("expected a uniqueness error for a second neil, got %v", err)
	}
	fmt.Fprint(out, ui.Info("second create of neil rejected: "+err.Error(), noColor))
	return nil
}

func printUsers(ctx context.Context, o *ontology.Ontology, out io.Writer, noColor bool, title string) error {
	records, err := o.MustCollection("user").Find().Populate("pets").SortString("username").All(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	ui.Header(out, title, noColor)
	fmt.Fprintln(out, string(data))
	fmt.Fprintln(out)
	return nil
}
