package ui

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
)

// Progress is a per-tool batch bar. A nil *Progress is a silent no-op so callers
// never branch on whether output is a terminal.
type Progress struct {
	bar   *progressbar.ProgressBar
	stage string
}

// NewProgress draws a bar of total steps on w.
func NewProgress(w io.Writer, stage string, total int) *Progress {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(fmt.Sprintf("[%s]", stage)),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionClearOnFinish(),
	)
	return &Progress{bar: bar, stage: stage}
}

// Step advances by one and shows the current item.
func (p *Progress) Step(item string) {
	if p == nil {
		return
	}
	p.bar.Describe(fmt.Sprintf("[%s] %s", p.stage, item))
	_ = p.bar.Add(1)
}

// Describe updates the label without advancing.
func (p *Progress) Describe(item string) {
	if p == nil {
		return
	}
	p.bar.Describe(fmt.Sprintf("[%s] %s", p.stage, item))
}

func (p *Progress) Finish() {
	if p == nil {
		return
	}
	_ = p.bar.Finish()
}
