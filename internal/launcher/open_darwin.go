//go:build darwin

package launcher

import "os/exec"

func openURL(url string) error {
	return exec.Command("open", url).Start()
}
