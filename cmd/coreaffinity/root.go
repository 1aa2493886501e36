// Command line interface: topology and workload reports.

package main

import (
	"flag"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bgp59/coreaffinity"
)

// The exit code of the invoked sub-command:
var exitCode int

var rootCmd = &cobra.Command{
	Use:   COMMAND_NAME,
	Short: "CPU topology discovery and thread to core pinning",
	Long: `coreaffinity discovers the CPU topology from /proc/cpuinfo (or a saved copy
of it), it selects one processor per physical core and it pins worker threads
to distinct cores, unless pinning is disabled by config, by the presence of
OpenMP/MKL parallelism environment variables or by GPU usage.`,
	SilenceUsage: true,
	// The runner args are defined as Go flags, mark them as parsed:
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return flag.CommandLine.Parse([]string{})
	},
}

var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Report the CPU topology and the affinity status",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		exitCode = coreaffinity.RunTopologyReport(os.Stdout)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reference workload, one pinned worker per physical core",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		exitCode = coreaffinity.RunWorkloadReport(os.Stdout)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and exit",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		exitCode = coreaffinity.RunVersion(os.Stdout)
	},
}

// Accept snake_case flag names as well:
func normalizeFlagName(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func init() {
	rootCmd.PersistentFlags().SetNormalizeFunc(normalizeFlagName)
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	rootCmd.AddCommand(topologyCmd, runCmd, versionCmd)
}

func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return exitCode
}
