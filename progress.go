package bundle

// TaskState is the lifecycle state a progress snapshot was taken in.
type TaskState int

const (
	TaskRunning TaskState = iota
	TaskSuccess
	TaskError
)

func (st TaskState) String() string {
	switch st {
	case TaskRunning:
		return "running"
	case TaskSuccess:
		return "success"
	case TaskError:
		return "error"
	default:
		return "invalid"
	}
}

// Progress is a point-in-time snapshot of a bundle load against the
// declared totals.
type Progress struct {
	DocumentsLoaded int
	TotalDocuments  int
	BytesLoaded     int64
	TotalBytes      int64
	State           TaskState
}

// initialProgress is the snapshot emitted right after the metadata is
// read: nothing loaded yet, totals declared.
func initialProgress(m *Metadata) Progress {
	return Progress{
		TotalDocuments: m.TotalDocuments,
		TotalBytes:     m.TotalBytes,
		State:          TaskRunning,
	}
}

// successProgress is the terminal snapshot of a completed load; loaded
// counters equal the declared totals by construction.
func successProgress(m *Metadata) Progress {
	return Progress{
		DocumentsLoaded: m.TotalDocuments,
		TotalDocuments:  m.TotalDocuments,
		BytesLoaded:     m.TotalBytes,
		TotalBytes:      m.TotalBytes,
		State:           TaskSuccess,
	}
}

// errorProgress is the terminal snapshot of a failed load.
func errorProgress() Progress {
	return Progress{State: TaskError}
}
