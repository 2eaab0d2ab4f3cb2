package main

import (
	"fmt"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"rmfs/filetype"
	"rmfs/pool"
)

func newLsCmd(a *app) *cobra.Command {
	var long bool

	cmd := &cobra.Command{
		Use:   "ls [prefix]",
		Short: "List files whose name starts with prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}

			return a.withImage(false, func(s *session) error {
				names, err := s.fs.ReadDir(prefix)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				for _, name := range names {
					if !long {
						fmt.Fprintln(out, colorName(name))
						continue
					}

					info, err := s.fs.Stat(name)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%10d  %-18s  %s\n", info.Size, info.Category, colorName(name))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&long, "long", "l", false, "Show size and category")
	return cmd
}

// colorName highlights files that pre-allocate storage.
func colorName(name string) string {
	if filetype.Classify(name).Prealloc() > 0 {
		return color.CyanString(name)
	}
	return name
}

func newStatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <name>",
		Short: "Show the record and block chain of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withImage(false, func(s *session) error {
				rec, err := s.img.Dir.Find(args[0])
				if err != nil {
					return fmt.Errorf("%s: %w", args[0], err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Name:      %s\n", rec.Name)
				fmt.Fprintf(out, "ID:        %d\n", rec.ID)
				fmt.Fprintf(out, "Size:      %d\n", rec.Size)

				chain := s.img.Pool.Chain(pool.Owner(rec.ID))
				category := filetype.Classify(rec.Name)
				if len(chain) > 0 {
					b, err := s.img.Pool.Block(chain[0])
					if err != nil {
						return err
					}
					category = b.Category
				}
				fmt.Fprintf(out, "Category:  %s\n", category)
				fmt.Fprintf(out, "Blocks:    %d\n", len(chain))

				for i, id := range chain {
					b, err := s.img.Pool.Block(id)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "  %3d  block %-5d offset %-8d used %d/%d\n", i, id, b.Offset, b.Used, b.Capacity)
				}
				return nil
			})
		},
	}
}

func newDfCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "df",
		Short: "Show pool usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withImage(false, func(s *session) error {
				p := s.img.Pool
				slots, _ := p.Snapshot()

				blocks, extents := 0, 0
				for _, slot := range slots {
					switch {
					case !slot.Live:
					case slot.Block.Reserved:
						extents++
					default:
						blocks++
					}
				}

				used := s.m.UsedSpace()
				pct := 0.0
				if p.Size() > 0 {
					pct = float64(used) * 100 / float64(p.Size())
				}

				usage := color.GreenString("%.1f%%", pct)
				if pct >= 90 {
					usage = color.RedString("%.1f%%", pct)
				}

				maxNames := "unlimited"
				if s.img.Dir.MaxEntries() > 0 {
					maxNames = fmt.Sprint(s.img.Dir.MaxEntries())
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Image:     %s\n", s.img.ID)
				fmt.Fprintf(out, "Size:      %d\n", p.Size())
				fmt.Fprintf(out, "Used:      %d (%s)\n", used, usage)
				fmt.Fprintf(out, "Free:      %d in %d extents\n", s.m.FreeSpace(), extents)
				fmt.Fprintf(out, "Headers:   %d of %d (%d blocks)\n", blocks+extents, p.MaxBlocks(), blocks)
				fmt.Fprintf(out, "Files:     %d of %s\n", s.img.Dir.Len(), maxNames)
				return nil
			})
		},
	}
}
