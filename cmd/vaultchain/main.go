// Command vaultchain is an incremental, chained, encrypted directory
// backup tool: it can create a full vault capturing a directory's current
// contents, create an incremental vault expressing only the changes since
// a prior vault, and expand a vault chain back into a directory.
package main

import "vaultchain/internal/cli"

func main() {
	cli.Run()
}
