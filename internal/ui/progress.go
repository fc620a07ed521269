package ui

import (
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"dirpush/pkg/types"
	"dirpush/pkg/utils"
)

// ProgressUI renders a per-file progress bar for the sending client.
type ProgressUI struct {
	bar     *progressbar.ProgressBar
	current string
}

// NewProgressUI creates a new progress UI
func NewProgressUI() *ProgressUI {
	return &ProgressUI{}
}

// BeginFile announces the next file. The bar itself is created on the
// first progress update, once the compressed size is known.
func (p *ProgressUI) BeginFile(relPath string) {
	p.current = relPath
	p.bar = nil
}

// Update advances the progress bar for the current file.
func (p *ProgressUI) Update(update types.ProgressUpdate) {
	if p.bar == nil {
		p.bar = progressbar.NewOptions64(int64(update.TotalBytes),
			progressbar.OptionSetDescription(fmt.Sprintf("Sending %s", p.current)),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(50),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionFullWidth(),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(false),
		)
	}
	_ = p.bar.Set64(int64(update.BytesSent))
}

// FinishFile completes the bar for the current file.
func (p *ProgressUI) FinishFile() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	fmt.Fprintln(os.Stderr)
	p.bar = nil
}

// ShowTransferSummary displays a summary of the completed session
func (p *ProgressUI) ShowTransferSummary(files int, bytesSent int64, elapsed time.Duration) {
	fmt.Printf("=============================================\n")
	fmt.Printf("File transfer completed successfully!\n")
	fmt.Printf("+ Files sent: %d\n", files)
	fmt.Printf("+ Total bytes on wire: %s\n", utils.FormatFileSize(bytesSent))
	fmt.Printf("+ Transfer time: %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("=============================================\n")
}
