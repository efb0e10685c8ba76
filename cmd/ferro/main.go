// Command ferro simulates Ferro's staged kernel bring-up
// (kernel.go's kernelMainBody) as an ordinary hosted process, and
// renders the resulting BPI/MPF occupancy onto a diagnostic console
// image the way drawGGStartupCircle draws a boot splash onto the
// framebuffer — except to a PNG file, since this build has no real
// framebuffer device under it.
package main

import (
	"fmt"
	"io"
	"os"

	"ferro/internal/klog"
	"ferro/internal/mempool"

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
		Use:   "ferro",
		Short: "Boot a simulated Ferro memory-management core and report its occupancy",
	}
	root.AddCommand(newBootCmd())
	return root
}

func newBootCmd() *cobra.Command {
	var totalPages int
	var out string
	var allocations []int

	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Boot PA/BPI/MPF, optionally allocate some test blocks, and render the console to a PNG",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := klog.New(cmd.OutOrStderr())

			k, err := bootKernel(logger, totalPages)
			if err != nil {
				return fmt.Errorf("boot: %w", err)
			}

			var held []uintptr
			for _, n := range allocations {
				ptr, err := k.pool.Allocate(n)
				if err != nil {
					return fmt.Errorf("allocate %d bytes: %w", n, err)
				}
				held = append(held, ptr)
				logger.Debugf(klog.MPF, "allocated %d bytes at %#x", n, ptr)
			}

			stats := k.pool.Stats()
			printStats(cmd.OutOrStdout(), stats)

			if out != "" {
				ctx := renderConsole(stats)
				if err := ctx.SavePNG(out); err != nil {
					return fmt.Errorf("render console: %w", err)
				}
				logger.Infof(klog.MPF, "wrote diagnostic console to %s", out)
			}

			for _, ptr := range held {
				if err := k.pool.Free(ptr); err != nil {
					return fmt.Errorf("free %#x: %w", ptr, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&totalPages, "pages", 4096, "total simulated physical pages to back the boot")
	cmd.Flags().StringVar(&out, "console-out", "", "write the diagnostic console PNG to this path (skipped if empty)")
	cmd.Flags().IntSliceVar(&allocations, "allocate", nil, "byte sizes to allocate from the ordinary instance before reporting stats")
	return cmd
}

func printStats(w io.Writer, s mempool.FacadeStats) {
	fmt.Fprintf(w, "ordinary:   regions=%d leaves=%d used=%d\n", s.Ordinary.RegionCount, s.Ordinary.LeafCount, s.Ordinary.UsedCount())
	fmt.Fprintf(w, "contiguous: regions=%d leaves=%d used=%d\n", s.Contiguous.RegionCount, s.Contiguous.LeafCount, s.Contiguous.UsedCount())
	fmt.Fprintf(w, "prebound:   regions=%d leaves=%d used=%d\n", s.Prebound.RegionCount, s.Prebound.LeafCount, s.Prebound.UsedCount())
}
