package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pagos/internal/backend"
	"pagos/internal/config"
)

var version = "0.1.0"

// AppFactory builds the App a command runs against.
type AppFactory func(ctx context.Context) (*App, error)

// DefaultAppFactory loads .env and the environment, validates the result and
// wires the services.
func DefaultAppFactory(ctx context.Context) (*App, error) {
	LoadEnvFile()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewApp(ctx, cfg, SetupLogger(cfg))
}

type session struct {
	factory AppFactory
	app     *App
}

func (s *session) open(cmd *cobra.Command) error {
	if s.app != nil {
		return nil
	}
	app, err := s.factory(cmd.Context())
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	s.app = app
	return nil
}

func (s *session) close() error {
	if s.app == nil {
		return nil
	}
	err := s.app.Close()
	s.app = nil
	return err
}

// CLI is the pagos command tree bound to one App session.
type CLI struct {
	root    *cobra.Command
	session *session
}

// New assembles the pagos command tree. A subcommand opens the App through
// factory before it runs; Execute closes it.
func New(factory AppFactory) *CLI {
	if factory == nil {
		factory = DefaultAppFactory
	}
	s := &session{factory: factory}

	root := &cobra.Command{
		Use:   "pagos",
		Short: "Tuition and service payment ledger",
		Long: fmt.Sprintf(`pagos records payments for courses and services, splits them into
installments, applies partial payments (abonos) oldest installment first,
tracks monthly income goals and issues fiscal documents through the tax gateway.

Configuration is read from the environment and from a .env file in the
working directory. DATA_BACKEND selects the store (%s).`, strings.Join(backend.TypeNames(), ", ")),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return s.open(cmd)
		},
	}

	root.AddCommand(
		newPaymentCommand(s),
		newAbonoCommand(s),
		newGoalCommand(s),
		newInvoiceCommand(s),
		newCalendarCommand(s),
	)
	return &CLI{root: root, session: s}
}

// Root returns the cobra root command.
func (c *CLI) Root() *cobra.Command {
	return c.root
}

// Execute runs the command tree with args and closes the App afterwards,
// whether or not the command failed.
func (c *CLI) Execute(ctx context.Context, args []string) error {
	c.root.SetArgs(args)
	err := c.root.ExecuteContext(ctx)
	return errors.Join(err, c.session.close())
}
