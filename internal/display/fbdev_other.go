//go:build !linux

package display

import "errors"

func openFB(driver, path string) (fbDevice, error) {
	return nil, errors.New("framebuffer devices are only supported on linux")
}
