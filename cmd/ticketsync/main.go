// Command ticketsync keeps a local, realtime copy of a helpdesk's
// tickets and chats and exposes it through a small status API.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
