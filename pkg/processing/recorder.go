package processing

import (
	"fmt"
	"os"
	"path/filepath"

	customlog "github.com/WVU-ASEL/glidar/pkg/log"
	"github.com/WVU-ASEL/glidar/pkg/pcd"
	"github.com/WVU-ASEL/glidar/pkg/preview"
	"github.com/WVU-ASEL/glidar/pkg/rundb"
)

// Job is one frame handed off by the render loop. The loop gives up
// ownership of Cloud and Preview when it submits. Log-only jobs leave
// Basename and Cloud empty and only set Points.
type Job struct {
	Kind      string // rundb.KindSaved or rundb.KindPublished
	Timestamp uint64
	// Basename, when set, writes Basename.pcd and Basename.transform.
	Basename  string
	Cloud     []float32
	Width     int // organized width; 0 for sparse clouds
	Height    int
	Points    int
	Transform pcd.Transform
	Near, Far float64
	// Preview is an already encoded image written as Basename + extension.
	Preview       []byte
	PreviewFormat preview.Format
}

// Recorder writes jobs to disk and to the run log.
type Recorder struct {
	RunID        string
	Format       pcd.Format
	MetadataMode pcd.MetadataMode
	Store        *rundb.Store // optional
	Logger       customlog.Logger
}

// Process is a JobProcessor.
func (r *Recorder) Process(job *Job) (*ProcessResult, error) {
	res := &ProcessResult{Kind: job.Kind, Timestamp: job.Timestamp}

	var pcdPath string
	if job.Basename != "" {
		if dir := filepath.Dir(job.Basename); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return res, fmt.Errorf("create output directory: %w", err)
			}
		}
		name, err := pcd.WriteFile(job.Basename, job.Cloud, job.Width, job.Height, r.Format)
		if err != nil {
			return res, err
		}
		pcdPath = name
		res.Files = append(res.Files, name)

		name, err = pcd.WriteTransformFile(job.Basename, r.MetadataMode, job.Transform)
		if err != nil {
			return res, err
		}
		res.Files = append(res.Files, name)

		if len(job.Preview) > 0 {
			name = job.Basename + job.PreviewFormat.Extension()
			if err := os.WriteFile(name, job.Preview, 0644); err != nil {
				return res, fmt.Errorf("write preview: %w", err)
			}
			res.Files = append(res.Files, name)
		}
	}

	if r.Store != nil {
		pose := job.Transform.Components
		pose.Timestamp = job.Timestamp
		frame := &rundb.Frame{
			RunID:     r.RunID,
			Timestamp: job.Timestamp,
			Kind:      job.Kind,
			Pose:      pose,
			Near:      job.Near,
			Far:       job.Far,
			Points:    job.Points,
			PCDPath:   pcdPath,
		}
		if err := r.Store.Insert(frame); err != nil {
			return res, fmt.Errorf("log frame %d: %w", job.Timestamp, err)
		}
		res.FrameID = frame.FrameID
	}

	if r.Logger != nil && len(res.Files) > 0 {
		r.Logger.Infof("Saved frame %d: %v", job.Timestamp, res.Files)
	}
	return res, nil
}
