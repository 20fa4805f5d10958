// Command ingestcsv parses CSV or XLSX exports offline and prints their
// numeric column rollups, or runs the fee engine over JSON inputs.
package main

import "os"

func main() {
	os.Exit(Execute())
}
