// Command extendvps renews a free VPS on the Xserver control panel by driving
// a Chrome tab through login, the expiry check, the renewal request and the
// CAPTCHA form.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	_ "time/tzdata"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
