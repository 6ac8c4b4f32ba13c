// Package cli implements the fieldcrypt command line tool.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/adminsys/fieldcrypt"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// envPrefix is prepended to flag names to form the environment variables
// that provide flag defaults, e.g. FIELDCRYPT_LOG_LEVEL.
const envPrefix = "FIELDCRYPT_"

type globalOptions struct {
	configPath string
	legacy     bool
	logLevel   string
	logFormat  string

	log *logrus.Entry
}

// NewRootCommand builds the fieldcrypt command tree.
func NewRootCommand() *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:   "fieldcrypt",
		Short: "Field-level encryption and blind indexes for the admin system",
		Long: `fieldcrypt encrypts, decrypts and indexes single values with the
configured master key, and migrates database columns from the legacy key
epoch to HKDF-derived keys.

The master key is read from SECURITY_KEY or from security.key in the
config file. ENCRYPTION_LEGACY_MODE or --legacy selects the legacy epoch.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.initLogging(cmd.ErrOrStderr())
		},
	}

	fs := root.PersistentFlags()
	fs.StringVarP(&g.configPath, "config", "c", "", "YAML or TOML config file with a security section")
	fs.BoolVar(&g.legacy, "legacy", false, "use the master key directly (legacy epoch)")
	fs.StringVar(&g.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	fs.StringVar(&g.logFormat, "log-format", "text", "log format (text or json)")

	root.AddCommand(
		newKeygenCommand(),
		newEncryptCommand(g),
		newDecryptCommand(g),
		newIndexCommand(g),
		newMigrateCommand(g),
		newRestoreCommand(g),
	)

	setFlagsFromEnv(envPrefix, root.PersistentFlags())
	for _, command := range root.Commands() {
		setFlagsFromEnv(envPrefix, command.Flags())
	}
	return root
}

// Execute runs the root command and exits non-zero on error.
// This is called by main.main().
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (g *globalOptions) initLogging(out io.Writer) error {
	level, err := logrus.ParseLevel(g.logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)

	switch strings.ToLower(g.logFormat) {
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid --log-format %q (text or json)", g.logFormat)
	}

	g.log = logrus.NewEntry(logger)
	return nil
}

// provider returns the key configuration source: the environment first, then
// the config file.
func (g *globalOptions) provider() fieldcrypt.ConfigProvider {
	return fieldcrypt.ChainProvider{
		fieldcrypt.EnvProvider{},
		fieldcrypt.FileProvider{Path: g.configPath},
	}
}

func (g *globalOptions) newService() (*fieldcrypt.Service, error) {
	opts := []fieldcrypt.Option{
		fieldcrypt.WithConfigProvider(g.provider()),
		fieldcrypt.WithLogger(g.logger()),
	}
	if g.legacy {
		opts = append(opts, fieldcrypt.WithLegacyMode(true))
	}
	return fieldcrypt.New(opts...)
}

func (g *globalOptions) logger() *logrus.Entry {
	if g.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		g.log = logrus.NewEntry(l)
	}
	return g.log
}

func setFlagsFromEnv(prefix string, fs *pflag.FlagSet) {
	set := map[string]bool{}
	fs.Visit(func(f *pflag.Flag) {
		set[f.Name] = true
	})
	fs.VisitAll(func(f *pflag.Flag) {
		// ignore flags set from the commandline
		if set[f.Name] {
			return
		}
		cleanPrefix := strings.TrimSuffix(prefix, "_")
		name := fmt.Sprintf("%s_%s", cleanPrefix, strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_"))
		if e, ok := os.LookupEnv(name); ok {
			_ = f.Value.Set(e)
		}
	})
}
