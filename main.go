// Command archiver serves and runs web novel archive jobs.
package main

import "github.com/JakeFAU/serial-archiver/cmd"

func main() {
	cmd.Execute()
}
