package output

import (
	"fmt"
	"os"
	"strings"

	"github.com/tanq16/stitch/internal/utils"
	"golang.org/x/term"
)

// ProgressBar renders current/total as a fixed width bar with a percentage.
func ProgressBar(current, total int64, width int) string {
	if width <= 0 {
		width = 30
	}
	if total <= 0 {
		total = 1
	}
	current = max(0, min(current, total))
	percent := float64(current) / float64(total)
	filled := max(0, min(int(percent*float64(width)), width))
	bar := symbols["bullet"] + strings.Repeat(symbols["hline"], filled) + strings.Repeat(" ", width-filled) + symbols["bullet"]
	return mutedStyle.Render(fmt.Sprintf("%s %.1f%%", bar, percent*100))
}

// progressLine is the bar plus byte counts and the average speed.
func progressLine(downloaded, total int64, elapsedSeconds float64, width int) string {
	counts := fmt.Sprintf("%s / %s", utils.FormatBytes(uint64(max(downloaded, 0))), utils.FormatBytes(uint64(max(total, 0))))
	return fmt.Sprintf("%s %s %s %s %s",
		ProgressBar(downloaded, total, width),
		symbols["bullet"], mutedStyle.Render(counts),
		symbols["bullet"], mutedStyle.Render(utils.FormatSpeed(downloaded, elapsedSeconds)))
}

func terminalSize() (int, int) {
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 || height <= 0 {
		return 80, 24
	}
	return width, height
}

// barWidth leaves room for the counts and speed next to the bar.
func barWidth() int {
	width, _ := terminalSize()
	return max(10, min(30, width-60))
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
