//go:build !opencv

package vision

// Open validates the options and reports that OpenCV support is missing.
func Open(opts Options) (*Stack, error) {
	if _, err := ParseDevice(opts.Device); err != nil {
		return nil, err
	}

	return nil, wrap(ErrUnavailable, opts.Device, nil)
}
