package main

import (
	"fmt"
	"image/color"

	"ferro/internal/mempool"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

// consoleWidth/consoleHeight mirror the teacher's 1024x768 QEMU
// framebuffer mode (testFramebufferText's "Display: 1024x768 pixels"
// banner), so the occupancy bars lay out the same way a real
// framebuffer console would.
const (
	consoleWidth  = 1024
	consoleHeight = 768

	rowHeight  = 90.0
	barX       = 220.0
	barWidth   = 700.0
	barHeight  = 28.0
	firstRowY  = 110.0
)

var consoleFont = mustParseFont()

func mustParseFont() *truetype.Font {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		panic(fmt.Sprintf("ferro: embedded font failed to parse: %v", err))
	}
	return f
}

// renderConsole draws a diagnostic console reporting BPI/MPF
// occupancy (§E.3 supplemented feature) the way drawGGStartupCircle
// draws the boot splash: a gg.Context sized to the display, a cleared
// background, then shapes and text layered on top.
func renderConsole(stats mempool.FacadeStats) *gg.Context {
	ctx := gg.NewContext(consoleWidth, consoleHeight)
	ctx.SetRGB(0.07, 0.07, 0.09)
	ctx.Clear()

	ctx.SetFontFace(truetype.NewFace(consoleFont, &truetype.Options{Size: 26}))
	ctx.SetColor(color.White)
	ctx.DrawString("Ferro diagnostic console", 24, 44)

	labelFace := truetype.NewFace(consoleFont, &truetype.Options{Size: 16})
	ctx.SetFontFace(labelFace)

	occupancyRow(ctx, "ordinary", stats.Ordinary.LeafCount, stats.Ordinary.UsedCount(), firstRowY)
	occupancyRow(ctx, "contiguous", stats.Contiguous.LeafCount, stats.Contiguous.UsedCount(), firstRowY+rowHeight)
	occupancyRow(ctx, "prebound", stats.Prebound.LeafCount, stats.Prebound.UsedCount(), firstRowY+2*rowHeight)

	return ctx
}

// occupancyRow draws one instance's label, a used/total bar (in the
// spirit of drawTestPattern's colored framebuffer rectangles), and the
// raw leaf counts as text, at baseline y.
func occupancyRow(ctx *gg.Context, label string, leafCount, usedCount uint32, y float64) {
	ctx.SetColor(color.White)
	ctx.DrawString(label, 24, y)

	ctx.SetRGB(0.2, 0.2, 0.24)
	ctx.DrawRectangle(barX, y-barHeight+6, barWidth, barHeight)
	ctx.Fill()

	var frac float64
	if leafCount > 0 {
		frac = float64(usedCount) / float64(leafCount)
	}
	ctx.SetRGB(0.25, 0.65, 0.35)
	ctx.DrawRectangle(barX, y-barHeight+6, barWidth*frac, barHeight)
	ctx.Fill()

	ctx.SetColor(color.White)
	ctx.DrawStringAnchored(fmt.Sprintf("%d / %d leaves", usedCount, leafCount), barX+barWidth+16, y-barHeight/2+6, 0, 0.5)
}
