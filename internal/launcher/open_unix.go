//go:build !windows && !darwin

package launcher

import "os/exec"

func openURL(url string) error {
	return exec.Command("xdg-open", url).Start()
}
