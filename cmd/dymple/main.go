// Command dymple is a userspace inspection CLI over package image's
// registry & loader (IRL): it loads a Mach-O image and its dependency
// closure exactly as a real process bring-up would, then reports what
// was loaded, in the spirit of saferwall-pe's pedumper inspection tool.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"ferro/internal/image"
	"ferro/internal/kconfig"
	"ferro/internal/klog"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dymple",
		Short: "Inspect Ferro-loadable Mach-O images and their dependency graph",
	}
	root.AddCommand(newLoadCmd(), newDepsCmd(), newSymsCmd())
	return root
}

func loadMain(logger *klog.Logger, path string) (*image.Registry, *image.Image, error) {
	r := image.NewRegistry()
	logger.Infof(klog.IRL, "loading %s", path)
	img, err := r.Init(path)
	if err != nil {
		return nil, nil, err
	}
	return r, img, nil
}

func newLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load <path>",
		Short: "Load an image and its dependency closure, reporting base/size/entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := kconfig.LoadLoader()
			logger := klog.New(os.Stderr)
			logger.Debug = cfg.TraceLazyBind

			_, img, err := loadMain(logger, args[0])
			if err != nil {
				return err
			}
			printImage(cmd.OutOrStdout(), img)
			return nil
		},
	}
}

func newDepsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deps <path>",
		Short: "Print an image's dependency tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := klog.New(os.Stderr)
			_, img, err := loadMain(logger, args[0])
			if err != nil {
				return err
			}
			printDeps(cmd.OutOrStdout(), img, 0, make(map[*image.Image]bool))
			return nil
		},
	}
}

func newSymsCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "syms <path> [symbol]",
		Short: "Resolve a symbol through an image's export trie, or locate the image owning an address",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := klog.New(os.Stderr)
			r, img, err := loadMain(logger, args[0])
			if err != nil {
				return err
			}

			if addr != "" {
				a, err := parseHexAddr(addr)
				if err != nil {
					return err
				}
				owner := r.ImageContainingAddress(a)
				if owner == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%#x: no loaded image contains this address\n", a)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%#x: %s\n", a, owner.Path)
				return nil
			}

			if len(args) < 2 {
				return fmt.Errorf("syms: either a symbol name or --addr is required")
			}
			resolved, ok := img.LookupSymbol(args[1])
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: not exported\n", args[1])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %#x\n", args[1], resolved)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "locate the image containing this hex address instead of resolving a symbol")
	return cmd
}

func printImage(w io.Writer, img *image.Image) {
	fmt.Fprintf(w, "%s\n", img.Path)
	fmt.Fprintf(w, "  base=%#x size=%#x\n", img.Base, img.Size)
	if img.HasEntry {
		fmt.Fprintf(w, "  entry=%#x\n", img.EntryAddress)
	} else {
		fmt.Fprintln(w, "  entry=<none>")
	}
	for _, seg := range img.Segments {
		if seg.Reserved {
			fmt.Fprintf(w, "  segment %-10s reserved vmaddr=%#x size=%#x\n", seg.Name, seg.VMAddr, seg.Size)
			continue
		}
		fmt.Fprintf(w, "  segment %-10s loadaddr=%#x size=%#x\n", seg.Name, seg.LoadAddr, seg.Size)
	}
	fmt.Fprintf(w, "  dependencies: %d\n", len(img.Dependencies))
}

func printDeps(w io.Writer, img *image.Image, depth int, seen map[*image.Image]bool) {
	fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), img.Path)
	if seen[img] {
		return
	}
	seen[img] = true
	for _, dep := range img.Dependencies {
		printDeps(w, dep, depth+1, seen)
	}
}

func parseHexAddr(s string) (uintptr, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hex address %q: %w", s, err)
	}
	return uintptr(v), nil
}
