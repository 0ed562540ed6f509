package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/conduit-lang/waterline/internal/cli/config"
	"github.com/conduit-lang/waterline/internal/cli/ui"
	"github.com/conduit-lang/waterline/internal/logging"
	"github.com/conduit-lang/waterline/internal/orm/ontology"
	"github.com/conduit-lang/waterline/internal/orm/schema"
)

// errReported marks an error whose explanation was already printed
var errReported = errors.New("failed")

// session is a loaded project: configuration, logger and initialized ontology
type session struct {
	cfg      *config.Config
	logger   *zap.Logger
	ontology *ontology.Ontology
}

// openSession loads waterline.yml and the model files from dir and initializes the
// ontology. Failures are printed with their hints before returning errReported.
func openSession(ctx context.Context, dir string, flags *globalFlags, stderr io.Writer) (*session, error) {
	cfg, err := config.LoadFrom(dir)
	if err != nil {
		fmt.Fprint(stderr, ui.ConfigError(err, flags.noColor))
		return nil, errReported
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(cfg.ModelsDir); err != nil {
		fmt.Fprint(stderr, ui.ConfigError(fmt.Errorf("models directory %s: %w", cfg.ModelsDir, err), flags.noColor))
		return nil, errReported
	}

	defs, err := schema.LoadDir(cfg.ModelsDir)
	if err != nil {
		fmt.Fprint(stderr, ui.InitializationError(err, flags.noColor))
		return nil, errReported
	}

	adapters, err := cfg.BuildAdapters()
	if err != nil {
		fmt.Fprint(stderr, ui.ConfigError(err, flags.noColor))
		return nil, errReported
	}

	o, err := ontology.Initialize(ctx, ontology.Config{
		Adapters:    adapters,
		Connections: cfg.Connections,
		Logger:      logger,
	}, defs...)
	if err != nil {
		fmt.Fprint(stderr, ui.InitializationError(err, flags.noColor))
		return nil, errReported
	}

	return &session{cfg: cfg, logger: logger, ontology: o}, nil
}

func (s *session) close(ctx context.Context) error {
	defer func() { _ = s.logger.Sync() }()
	return s.ontology.Teardown(ctx)
}
