// The main package for the engagement executable.
package main

import "github.com/JakeFAU/engagement-analytics/cmd"

func main() {
	cmd.Execute()
}
