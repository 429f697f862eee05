// cmd/version.go
package cmd

// Version is set at build time with ldflags, e.g.
// go build -ldflags "-X github.com/fpalencia/licencia-scraper/cmd.Version=1.2.0"
var Version = "0.1.0"
