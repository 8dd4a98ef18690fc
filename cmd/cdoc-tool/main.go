// Command cdoc-tool drives the cdoc package from the command line:
// encrypt, decrypt, list locks, and run the reference key server.
package main

import "github.com/cdoc-project/cdoc/cmd"

func main() {
	cmd.Execute()
}
