package batch

import (
	"fmt"
	"io"
	"time"

	"covcorr/internal/models"
	"covcorr/internal/utils"
)

// ImageStatus is the outcome of one image
type ImageStatus int

const (
	// StatusSucceeded means every artifact was written
	StatusSucceeded ImageStatus = iota
	// StatusPartial means the image was analysed but some artifacts failed
	StatusPartial
	// StatusFailed means the image was abandoned
	StatusFailed
	// StatusSkipped means the run was cancelled before the image started
	StatusSkipped
)

func (s ImageStatus) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusPartial:
		return "partial"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ImageResult records what happened to one image
type ImageResult struct {
	Image     string
	Status    ImageStatus
	OutputDir string

	// Err is the reason a failed or skipped image was not completed
	Err error

	// WriteErrors lists artifacts that could not be produced
	WriteErrors []error

	// Artifacts written
	CoVMaps  int
	CorrMaps int
	Plots    int

	// Undefined values marked as NaN in the outputs
	DegenerateFrames int
	DegenerateCoV    int
	DegenerateCorr   int
}

func (r *ImageResult) fail(log *utils.Logger, err error) ImageResult {
	r.Status = StatusFailed
	r.Err = err
	log.Error("image %s: %v", r.Image, err)
	return *r
}

func (r *ImageResult) artifactFailed(log *utils.Logger, err error) {
	if models.KindOf(err) == 0 {
		err = models.Wrap(models.KindIOWrite, "", err)
	}
	r.WriteErrors = append(r.WriteErrors, err)
	log.Warn("image %s: %v", r.Image, err)
}

// Summary is the outcome of a whole run
type Summary struct {
	RunID    string
	Channels []string
	Images   []ImageResult
	Duration time.Duration

	Succeeded, Partial, Failed, Skipped int

	// StopErr is set when the loader failed to stop. Outputs written
	// before that remain valid.
	StopErr error
}

func (s *Summary) tally() {
	s.Succeeded, s.Partial, s.Failed, s.Skipped = 0, 0, 0, 0
	for _, r := range s.Images {
		switch r.Status {
		case StatusSucceeded:
			s.Succeeded++
		case StatusPartial:
			s.Partial++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		}
	}
}

// OK reports whether every image completed with all its artifacts
func (s *Summary) OK() bool {
	return s.Partial == 0 && s.Failed == 0 && s.Skipped == 0 && s.StopErr == nil
}

// Report writes a human-readable summary
func (s *Summary) Report(w io.Writer) {
	fmt.Fprintf(w, "Run %s\n", s.RunID)
	fmt.Fprintf(w, "Channels: %v\n", s.Channels)
	fmt.Fprintf(w, "Images: %d succeeded, %d partial, %d failed, %d skipped (%.2f seconds)\n",
		s.Succeeded, s.Partial, s.Failed, s.Skipped, s.Duration.Seconds())
	for _, r := range s.Images {
		switch r.Status {
		case StatusFailed, StatusSkipped:
			fmt.Fprintf(w, "- %s: %s: %v\n", r.Image, r.Status, r.Err)
		default:
			fmt.Fprintf(w, "- %s: %s: %d CoV maps, %d correlation maps, %d figures",
				r.Image, r.Status, r.CoVMaps, r.CorrMaps, r.Plots)
			if n := r.DegenerateFrames + r.DegenerateCoV + r.DegenerateCorr; n > 0 {
				fmt.Fprintf(w, ", %d undefined values", n)
			}
			fmt.Fprintln(w)
			for _, err := range r.WriteErrors {
				fmt.Fprintf(w, "    %v\n", err)
			}
		}
	}
	if s.StopErr != nil {
		fmt.Fprintf(w, "Warning: %v\n", s.StopErr)
	}
}
