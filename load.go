package bundle

import (
	"io"
)

// Store is the persistence surface Load needs: the loader callback plus
// the duplicate-bundle check.
type Store interface {
	Callback

	// HasNewerBundle reports whether the store already holds this bundle
	// at the same or a newer create time.
	HasNewerBundle(m *Metadata) (bool, error)
}

// LoadOptions adjust Load. The zero value uses the defaults.
type LoadOptions struct {
	// OnProgress receives every progress snapshot the load emits,
	// including the terminal one.
	OnProgress func(Progress)

	// BufferSize overrides the reader's internal buffer capacity.
	BufferSize int

	// MaxFrameSize overrides the per-frame payload limit.
	MaxFrameSize int64
}

// Load reads one bundle from src and commits it to store, returning the
// terminal progress snapshot. If the store already holds the bundle at
// the same or a newer create time, the stream is abandoned after the
// metadata frame and the load reports success immediately.
func Load(store Store, ser *Serializer, src io.Reader, opt LoadOptions) (Progress, error) {
	report := opt.OnProgress
	if report == nil {
		report = func(Progress) {}
	}
	fail := func(err error) (Progress, error) {
		p := errorProgress()
		report(p)
		return p, err
	}

	r := newReader(ser, src, opt.BufferSize, opt.MaxFrameSize)
	md, err := r.ReadMetadata()
	if err != nil {
		return fail(err)
	}

	newer, err := store.HasNewerBundle(md)
	if err != nil {
		return fail(&StoreError{Op: "check cached bundle", Err: err})
	}
	if newer {
		p := successProgress(md)
		report(p)
		return p, nil
	}

	report(initialProgress(md))
	loader := NewLoader(store, md)

	var lastBytes int64
	for {
		el, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(err)
		}
		n := r.BytesRead()
		progress, err := loader.AddElement(el, n-lastBytes)
		lastBytes = n
		if err != nil {
			return fail(err)
		}
		if progress != nil {
			report(*progress)
		}
	}

	if _, err := loader.ApplyChanges(); err != nil {
		return fail(err)
	}
	p := successProgress(md)
	report(p)
	return p, nil
}
