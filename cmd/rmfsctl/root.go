package main

import (
	"cosmossdk.io/log"
	"errors"
	"fmt"
	"github.com/fatih/color"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"os"
	"rmfs/config"
	"rmfs/image"
	"rmfs/storage"
	"rmfs/vfs"
)

var errLocked = errors.New("image is locked by another process")

type app struct {
	configPath string
	image      string
	logLevel   string
	logJSON    bool
	noColor    bool

	cfg    *config.Config
	logger log.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "rmfsctl",
		Short: "Inspect and edit rmfs pool images",
		Long: `rmfsctl works on a pool image stored on the host. Every command loads the image,
applies its change through the same file layer a device uses and writes the image
back. The image is locked while a command runs.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", config.FileName, "Config file path")
	root.PersistentFlags().StringVar(&a.image, "image", "", "Pool image path (overrides config)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&a.logJSON, "log-json", false, "Log in JSON")
	root.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "Disable colored output")

	root.AddCommand(
		newInitCmd(a),
		newPutCmd(a),
		newGetCmd(a),
		newCatCmd(a),
		newLsCmd(a),
		newRmCmd(a),
		newMvCmd(a),
		newTruncateCmd(a),
		newStatCmd(a),
		newDfCmd(a),
	)

	return root
}

// setup loads the configuration with priority defaults < file < env < flags and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("image") {
		cfg.Image = a.image
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("log-json") {
		cfg.LogJSON = a.logJSON
	}
	if flags.Changed("no-color") {
		cfg.NoColor = a.noColor
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	lvl, err := cfg.Level()
	if err != nil {
		return err
	}

	opts := []log.Option{log.LevelOption(lvl), log.ColorOption(!cfg.NoColor)}
	if cfg.LogJSON {
		opts = append(opts, log.OutputJSONOption())
	}

	if cfg.NoColor {
		color.NoColor = true
	}

	a.cfg = cfg
	a.logger = log.NewLogger(cmd.ErrOrStderr(), opts...).With("image", cfg.Image)
	return nil
}

// session is a loaded image held under its lock.
type session struct {
	img *image.Image
	m   *storage.Manager
	fs  vfs.FS
}

func (a *app) lock() (*flock.Flock, error) {
	lock := flock.New(a.cfg.Image + ".lock")

	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", a.cfg.Image, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", errLocked, a.cfg.Image)
	}
	return lock, nil
}

func (a *app) unlock(lock *flock.Flock) {
	if err := lock.Unlock(); err != nil {
		a.logger.Warn("failed to release image lock", "err", err)
	}
}

// withImage runs fn against the image. When save is set the image is written back after fn succeeds; a failing fn
// leaves the image file untouched.
func (a *app) withImage(save bool, fn func(s *session) error) error {
	lock, err := a.lock()
	if err != nil {
		return err
	}
	defer a.unlock(lock)

	img, err := image.LoadFile(a.cfg.Image)
	if err != nil {
		return err
	}

	m := storage.NewManager(img.Pool, img.Dir, a.cfg.MaxOpenFiles, a.logger)
	s := &session{
		img: img,
		m:   m,
		fs:  vfs.New(m, a.logger),
	}

	if err := fn(s); err != nil {
		return err
	}

	if !save {
		return nil
	}

	if err := image.SaveFile(a.cfg.Image, img); err != nil {
		return fmt.Errorf("saving image: %w", err)
	}

	a.logger.Debug("saved image", "id", img.ID.String(), "used", m.UsedSpace(), "free", m.FreeSpace())
	return nil
}

func imageExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
