//go:build noopencl

package cmd

import "bytes"

func describeCLPlatforms(buf *bytes.Buffer) {
	buf.WriteString("\nopencl support is disabled in this build\n\n")
}
