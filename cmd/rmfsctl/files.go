package main

import (
	"fmt"
	"github.com/spf13/cobra"
	"io"
	"os"
	"path/filepath"
	"rmfs/image"
	"strconv"
)

func newInitCmd(a *app) *cobra.Command {
	var (
		poolSize  int
		maxBlocks int
		maxNames  int
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create an empty pool image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if flags.Changed("pool-size") {
				a.cfg.PoolSize = poolSize
			}
			if flags.Changed("max-blocks") {
				a.cfg.MaxBlocks = maxBlocks
			}
			if flags.Changed("max-names") {
				a.cfg.MaxNames = maxNames
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			lock, err := a.lock()
			if err != nil {
				return err
			}
			defer a.unlock(lock)

			exists, err := imageExists(a.cfg.Image)
			if err != nil {
				return err
			}
			if exists && !force {
				return fmt.Errorf("image %s already exists, use --force to replace it", a.cfg.Image)
			}

			img := image.New(a.cfg.PoolSize, a.cfg.MaxBlocks, a.cfg.MaxNames)
			if err := image.SaveFile(a.cfg.Image, img); err != nil {
				return err
			}

			a.logger.Info("created image", "id", img.ID.String(), "pool_size", a.cfg.PoolSize)
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%d bytes, id %s)\n", a.cfg.Image, a.cfg.PoolSize, img.ID)
			return nil
		},
	}

	cmd.Flags().IntVar(&poolSize, "pool-size", 0, "Pool size in bytes")
	cmd.Flags().IntVar(&maxBlocks, "max-blocks", 0, "Maximum number of block headers")
	cmd.Flags().IntVar(&maxNames, "max-names", 0, "Maximum number of files, 0 for no limit")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing image")
	return cmd
}

func newPutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "put <host-file> [name]",
		Short: "Copy a host file into the image",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := filepath.Base(args[0])
			if len(args) == 2 {
				name = args[1]
			}

			src, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer src.Close()

			return a.withImage(true, func(s *session) error {
				f, err := s.fs.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
				if err != nil {
					return err
				}

				n, err := io.Copy(f, src)
				if cerr := f.Close(); cerr != nil && err == nil {
					err = cerr
				}
				if err != nil {
					return fmt.Errorf("copied %d bytes of %s: %w", n, args[0], err)
				}

				a.logger.Debug("stored file", "name", name, "size", n)
				return nil
			})
		},
	}
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <name> [host-file]",
		Short: "Copy a file out of the image",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dst := filepath.Base(args[0])
			if len(args) == 2 {
				dst = args[1]
			}

			return a.withImage(false, func(s *session) error {
				f, err := s.fs.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()

				out, err := os.Create(dst)
				if err != nil {
					return err
				}

				_, err = io.Copy(out, f)
				if cerr := out.Close(); cerr != nil && err == nil {
					err = cerr
				}
				return err
			})
		},
	}
}

func newCatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <name>...",
		Short: "Print files of the image",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withImage(false, func(s *session) error {
				for _, name := range args {
					f, err := s.fs.Open(name)
					if err != nil {
						return err
					}

					_, err = io.Copy(cmd.OutOrStdout(), f)
					f.Close()
					if err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name>...",
		Short: "Remove files from the image",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withImage(true, func(s *session) error {
				for _, name := range args {
					if err := s.fs.Remove(name); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newMvCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mv <old> <new>",
		Short: "Rename a file, replacing any file of the new name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withImage(true, func(s *session) error {
				return s.fs.Rename(args[0], args[1])
			})
		},
	}
}

func newTruncateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "truncate <name> <size>",
		Short: "Shrink a file to size bytes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid size %q: %w", args[1], err)
			}

			return a.withImage(true, func(s *session) error {
				f, err := s.fs.OpenFile(args[0], os.O_RDWR, 0)
				if err != nil {
					return err
				}

				err = f.Truncate(size)
				if cerr := f.Close(); cerr != nil && err == nil {
					err = cerr
				}
				return err
			})
		},
	}
}
