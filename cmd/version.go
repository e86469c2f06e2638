package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set by -ldflags at release time.
var (
	version   = "dev"
	commit    = ""
	buildDate = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show skillmatch version and build information",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

func runVersion(_ *cobra.Command, _ []string) error {
	v := versionInfo{
		Version:   version,
		Commit:    emptyAsNA(commit),
		BuildDate: emptyAsNA(buildDate),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if flagJSON {
		return printJSON(v)
	}
	fmt.Fprintf(stdout, "Version:    %s\n", v.Version)
	fmt.Fprintf(stdout, "Commit:     %s\n", v.Commit)
	fmt.Fprintf(stdout, "Build Date: %s\n", v.BuildDate)
	fmt.Fprintf(stdout, "Go Version: %s\n", v.GoVersion)
	fmt.Fprintf(stdout, "OS/Arch:    %s\n", v.Platform)
	return nil
}

func emptyAsNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}
