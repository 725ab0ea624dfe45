//go:build !gocv

package video

import "errors"

// Available reports whether this build includes OpenCV capture.
const Available = false

// OpenCapture is unavailable without the gocv build tag.
func OpenCapture(device string) (Source, error) {
	return nil, errors.New("camera capture requires building with -tags gocv")
}
